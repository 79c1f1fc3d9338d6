package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/api"
	"github.com/jamforge/coin-engine/auth"
	"github.com/jamforge/coin-engine/invites"
	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/media"
	"github.com/jamforge/coin-engine/missions"
	"github.com/jamforge/coin-engine/shop"
	"github.com/jamforge/coin-engine/store/sqlite"
)

// =============================================================================
// TEST SERVER
// =============================================================================

type testServer struct {
	srv   *httptest.Server
	store *sqlite.Store
	coins *ledger.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	coins := ledger.NewService(store, nil)
	authMgr := auth.NewManager("test-secret", 24*time.Hour, time.Hour)

	hash, err := auth.HashPassword("letmein")
	require.NoError(t, err)
	require.NoError(t, store.SaveAdmin(context.Background(), sqlite.AdminRecord{
		Username: "ops", PasswordHash: hash,
	}))

	h := &api.Handler{
		Store:            store,
		Ledger:           coins,
		Sync:             ledger.NewSyncEngine(coins, nil),
		Missions:         missions.NewService(store, coins, nil),
		Shop:             shop.NewService(store, coins, nil),
		Invites:          invites.NewService(store, coins, 5000, 7*24*time.Hour, nil),
		Media:            media.NewService(coins, 1000, nil),
		Auth:             authMgr,
		Log:              zap.NewNop(),
		LeaderboardLimit: 100,
	}

	srv := httptest.NewServer(api.NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, coins: coins}
}

// do issues a JSON request and decodes the response body into out (when
// out is non-nil). Returns the status code.
func (ts *testServer) do(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(b)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) registerDevice(t *testing.T, deviceID string) (token, accountID string) {
	t.Helper()
	var res api.TokenResponse
	status := ts.do(t, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{DeviceID: deviceID}, &res)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, res.Token)
	return res.Token, res.AccountID
}

func (ts *testServer) adminToken(t *testing.T) string {
	t.Helper()
	var res api.TokenResponse
	status := ts.do(t, http.MethodPost, "/api/admin/login", "",
		api.AdminLoginRequest{Username: "ops", Password: "letmein"}, &res)
	require.Equal(t, http.StatusOK, status)
	return res.Token
}

// =============================================================================
// AUTH
// =============================================================================

func TestRegister_IssuesWorkingToken(t *testing.T) {
	ts := newTestServer(t)

	token, accountID := ts.registerDevice(t, "device-abc")
	assert.Equal(t, "device-abc", accountID)

	var state api.AccountDTO
	status := ts.do(t, http.MethodGet, "/api/state", token, nil, &state)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "device-abc", state.ID)
	assert.Equal(t, int64(0), state.Balance)
}

func TestRegister_IsIdempotentPerDevice(t *testing.T) {
	ts := newTestServer(t)

	_, first := ts.registerDevice(t, "device-abc")
	_, second := ts.registerDevice(t, "device-abc")
	assert.Equal(t, first, second)
}

func TestRegister_ValidatesDeviceID(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(t, http.MethodPost, "/api/auth/register", "", api.RegisterRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	status = ts.do(t, http.MethodPost, "/api/auth/register", "",
		api.RegisterRequest{DeviceID: string(long)}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPlayerEndpoints_RequireToken(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/state", "/api/coins/transactions", "/api/missions/", "/api/shop/"} {
		status := ts.do(t, http.MethodGet, path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}
}

func TestAdminLogin_RejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	status := ts.do(t, http.MethodPost, "/api/admin/login", "",
		api.AdminLoginRequest{Username: "ops", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = ts.do(t, http.MethodPost, "/api/admin/login", "",
		api.AdminLoginRequest{Username: "nobody", Password: "letmein"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminEndpoints_RejectDeviceToken(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	status := ts.do(t, http.MethodGet, "/api/admin/accounts/", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

// =============================================================================
// COINS
// =============================================================================

func TestUpdateCoins_AppliesAndReplays(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	var res api.CoinUpdateResponse
	status := ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-1", Amount: 50}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(50), res.Balance)
	assert.False(t, res.Replayed)

	status = ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-1", Amount: 50}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(50), res.Balance)
	assert.True(t, res.Replayed)
}

func TestUpdateCoins_RejectsNonPositiveAmount(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	status := ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-1", Amount: 0}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-2", Amount: -5}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetTransactions_Paginates(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	for i := 0; i < 5; i++ {
		status := ts.do(t, http.MethodPost, "/api/coins/update", token,
			api.CoinUpdateRequest{OpID: fmt.Sprintf("tap-%d", i), Amount: 10}, nil)
		require.Equal(t, http.StatusOK, status)
	}

	var page api.HistoryResponse
	status := ts.do(t, http.MethodGet, "/api/coins/transactions?limit=2", token, nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Entries, 2)
	require.NotEmpty(t, page.NextCursor)

	var next api.HistoryResponse
	status = ts.do(t, http.MethodGet, "/api/coins/transactions?limit=2&before="+page.NextCursor, token, nil, &next)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, next.Entries, 2)
	assert.NotEqual(t, page.Entries[0].ID, next.Entries[0].ID)
}

// =============================================================================
// SYNC
// =============================================================================

func TestSyncState_FoldsBatch(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	req := api.SyncRequest{
		OpID: "sync-1",
		Ops: []api.SyncOpRequest{
			{Type: "tap", OpID: "op-1", Amount: 100},
			{Type: "purchase", OpID: "op-2", Item: "booster", Cost: 30},
			{Type: "purchase", OpID: "op-3", Item: "yacht", Cost: 99999},
		},
	}
	var res api.SyncResponse
	status := ts.do(t, http.MethodPost, "/api/state/sync", token, req, &res)
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, int64(70), res.Account.Balance)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "op-3", res.Rejected[0].OpID)
	assert.Equal(t, "insufficient_funds", res.Rejected[0].Reason)

	// Retry replays the recorded outcome.
	var retry api.SyncResponse
	status = ts.do(t, http.MethodPost, "/api/state/sync", token, req, &retry)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, retry.Replayed)
	assert.Equal(t, int64(70), retry.Account.Balance)
}

func TestSyncState_RequiresOpID(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	status := ts.do(t, http.MethodPost, "/api/state/sync", token, api.SyncRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// =============================================================================
// GAME FLOWS OVER HTTP
// =============================================================================

func TestMissionFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	token, _ := ts.registerDevice(t, "device-abc")

	status := ts.do(t, http.MethodPost, "/api/admin/missions/", admin,
		api.SaveMissionRequest{ID: "welcome", Title: "Welcome", Reward: 500, Kind: "once", Active: true}, nil)
	require.Equal(t, http.StatusNoContent, status)

	var list []api.MissionDTO
	status = ts.do(t, http.MethodGet, "/api/missions/", token, nil, &list)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, list, 1)
	assert.False(t, list[0].Claimed)

	var claim api.ClaimResponse
	status = ts.do(t, http.MethodPost, "/api/missions/welcome/claim", token, nil, &claim)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(500), claim.Reward)
	assert.Equal(t, int64(500), claim.Balance)

	status = ts.do(t, http.MethodGet, "/api/missions/", token, nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, list[0].Claimed)

	status = ts.do(t, http.MethodPost, "/api/missions/ghost/claim", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestShopFlow(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	token, _ := ts.registerDevice(t, "device-abc")

	status := ts.do(t, http.MethodPost, "/api/admin/shop/", admin,
		api.SaveShopItemRequest{ID: "clicker", Name: "Clicker", Cost: 100, ProfitBoost: "10.5", Active: true}, nil)
	require.Equal(t, http.StatusNoContent, status)

	// Fund the account, then buy.
	status = ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-1", Amount: 150}, nil)
	require.Equal(t, http.StatusOK, status)

	var res api.PurchaseResponse
	status = ts.do(t, http.MethodPost, "/api/shop/clicker/purchase", token,
		api.PurchaseRequest{OpID: "buy-1"}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(50), res.Balance)
	assert.Equal(t, "10.5", res.ProfitPerHour)

	// Can't afford a second one.
	status = ts.do(t, http.MethodPost, "/api/shop/clicker/purchase", token,
		api.PurchaseRequest{OpID: "buy-2"}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestInviteFlow(t *testing.T) {
	ts := newTestServer(t)
	aliceToken, _ := ts.registerDevice(t, "alice")
	bobToken, _ := ts.registerDevice(t, "bob")

	var inv api.InviteDTO
	status := ts.do(t, http.MethodPost, "/api/invites/", aliceToken, nil, &inv)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, inv.Code)

	var claim api.ClaimResponse
	status = ts.do(t, http.MethodPost, "/api/invites/claim", bobToken,
		api.ClaimInviteRequest{Code: inv.Code}, &claim)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(5000), claim.Balance)

	var st api.InviteStatusResponse
	status = ts.do(t, http.MethodGet, "/api/invites/", aliceToken, nil, &st)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, st.Claimed)
	assert.Equal(t, int64(5000), st.CoinsEarned)

	// A third party claiming the used code conflicts.
	carolToken, _ := ts.registerDevice(t, "carol")
	status = ts.do(t, http.MethodPost, "/api/invites/claim", carolToken,
		api.ClaimInviteRequest{Code: inv.Code}, nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestMediaClaim(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.registerDevice(t, "device-abc")

	var res api.ClaimResponse
	status := ts.do(t, http.MethodPost, "/api/media/claim", token,
		api.MediaClaimRequest{VideoID: "video-42"}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1000), res.Balance)

	status = ts.do(t, http.MethodPost, "/api/media/claim", token,
		api.MediaClaimRequest{VideoID: "video-42"}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.AlreadyClaimed)
	assert.Equal(t, int64(1000), res.Balance)
}

func TestLeaderboard_PublicAndOrdered(t *testing.T) {
	ts := newTestServer(t)
	richToken, _ := ts.registerDevice(t, "rich")
	_, _ = ts.registerDevice(t, "poor")

	status := ts.do(t, http.MethodPost, "/api/coins/update", richToken,
		api.CoinUpdateRequest{OpID: "tap-1", Amount: 900}, nil)
	require.Equal(t, http.StatusOK, status)

	var board []api.LeaderboardEntryDTO
	status = ts.do(t, http.MethodGet, "/api/leaderboard", "", nil, &board)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, board, 2)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "rich", board[0].AccountID)
	assert.Equal(t, int64(900), board[0].Balance)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAdminAdjustAndAudit(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	_, accountID := ts.registerDevice(t, "device-abc")

	var res api.CoinUpdateResponse
	status := ts.do(t, http.MethodPost, "/api/admin/accounts/"+accountID+"/adjust", admin,
		api.AdjustRequest{OpID: "refund-1", Delta: 250, Note: "support refund"}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(250), res.Balance)

	// Missing op id is a validation error, not a silent non-idempotent write.
	status = ts.do(t, http.MethodPost, "/api/admin/accounts/"+accountID+"/adjust", admin,
		api.AdjustRequest{Delta: 100}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var audit api.AuditDTO
	status = ts.do(t, http.MethodGet, "/api/admin/accounts/"+accountID+"/audit", admin, nil, &audit)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(250), audit.Balance)
	assert.Equal(t, int64(250), audit.LedgerSum)
	assert.True(t, audit.Consistent)
}

func TestAdminBan_BlocksPlayerEndpoints(t *testing.T) {
	ts := newTestServer(t)
	admin := ts.adminToken(t)
	token, accountID := ts.registerDevice(t, "device-abc")

	status := ts.do(t, http.MethodPost, "/api/admin/accounts/"+accountID+"/ban", admin,
		api.BanRequest{Banned: true}, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-1", Amount: 10}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	// Unban restores access.
	status = ts.do(t, http.MethodPost, "/api/admin/accounts/"+accountID+"/ban", admin,
		api.BanRequest{Banned: false}, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = ts.do(t, http.MethodPost, "/api/coins/update", token,
		api.CoinUpdateRequest{OpID: "tap-2", Amount: 10}, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
