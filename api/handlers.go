/*
handlers.go - HTTP API handlers for the coin engine

PURPOSE:
  Exposes the ledger, sync engine and game flows via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Auth:
    POST   /api/auth/register          Register device, returns token
    POST   /api/admin/login            Admin credential login

  Player (device token):
    GET    /api/state                  Account state
    POST   /api/state/sync             Reconcile client-reported operations
    POST   /api/coins/update           Apply tap earnings
    GET    /api/coins/transactions     Ledger history (paginated)
    GET    /api/missions               Missions with claim state
    POST   /api/missions/{id}/claim    Claim a mission reward
    GET    /api/shop                   Shop catalog
    POST   /api/shop/{id}/purchase     Buy an upgrade
    POST   /api/invites                Create invite code
    GET    /api/invites                Invite status
    POST   /api/invites/claim          Redeem an invite code
    POST   /api/media/claim            Rewarded video claim
    GET    /api/leaderboard            Top balances

  Admin (admin token):
    GET    /api/admin/accounts         List accounts (paginated)
    GET    /api/admin/accounts/{id}    Account detail
    GET    /api/admin/accounts/{id}/audit    Conservation check
    POST   /api/admin/accounts/{id}/adjust   Manual balance adjustment
    POST   /api/admin/accounts/{id}/ban      Ban / unban
    Mission and shop catalog CRUD under /api/admin/missions, /api/admin/shop

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (ledger, sync engine, game services)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid token, bad credentials
  - 403: Banned account
  - 404: Resource not found
  - 409: Conflict (insufficient funds, claimed invite)
  - 503: Storage contention exhausted retries

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/auth"
	"github.com/jamforge/coin-engine/invites"
	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/media"
	"github.com/jamforge/coin-engine/missions"
	"github.com/jamforge/coin-engine/shop"
	"github.com/jamforge/coin-engine/store/sqlite"
)

const maxDeviceIDLen = 64

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ledger   *ledger.Service
	Sync     *ledger.SyncEngine
	Missions *missions.Service
	Shop     *shop.Service
	Invites  *invites.Service
	Media    *media.Service
	Auth     *auth.Manager
	Log      *zap.Logger

	LeaderboardLimit int
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Register creates (or re-opens) the account for a device and issues a token.
// POST /api/auth/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.DeviceID == "" || len(req.DeviceID) > maxDeviceIDLen {
		writeError(w, http.StatusBadRequest, "deviceId must be 1-64 characters", nil)
		return
	}

	accountID := ledger.AccountID(req.DeviceID)
	_, err := h.Ledger.CreateAccount(r.Context(), accountID)
	if err != nil && !errors.Is(err, ledger.ErrAccountExists) {
		h.handleError(w, err)
		return
	}

	token, err := h.Auth.IssueDevice(req.DeviceID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, AccountID: req.DeviceID})
}

// AdminLogin checks credentials and issues an admin token.
// POST /api/admin/login
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	admin, err := h.Store.GetAdmin(r.Context(), req.Username)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if admin == nil || !auth.CheckPassword(admin.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials", nil)
		return
	}

	token, err := h.Auth.IssueAdmin(admin.Username)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token, AccountID: admin.Username})
}

// =============================================================================
// PLAYER STATE ENDPOINTS
// =============================================================================

// GetState returns the current account state.
// GET /api/state
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// SyncState reconciles client-reported operations.
// POST /api/state/sync
func (h *Handler) SyncState(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	ops := make([]ledger.Op, 0, len(req.Ops))
	for _, op := range req.Ops {
		ops = append(ops, ledger.Op{
			Type:            ledger.OpType(op.Type),
			OpID:            op.OpID,
			Amount:          op.Amount,
			Item:            op.Item,
			Cost:            op.Cost,
			ClientTimestamp: op.ClientTimestamp,
		})
	}

	res, err := h.Sync.Sync(r.Context(), acct.ID, ops, req.OpID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(res))
}

// UpdateCoins applies tap earnings reported between syncs.
// POST /api/coins/update
func (h *Handler) UpdateCoins(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req CoinUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	res, err := h.Ledger.ApplyDelta(r.Context(), ledger.ApplyRequest{
		AccountID: acct.ID,
		Delta:     req.Amount,
		Reason:    ledger.ReasonTap,
		OpID:      req.OpID,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CoinUpdateResponse{Balance: res.Balance, Replayed: res.Replayed})
}

// GetTransactions returns paginated ledger history, newest first.
// GET /api/coins/transactions?limit=&before=
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	before := ledger.EntryID(r.URL.Query().Get("before"))

	entries, next, err := h.Ledger.History(r.Context(), acct.ID, limit, before)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Entries:    toEntryDTOs(entries),
		NextCursor: string(next),
	})
}

// =============================================================================
// MISSION ENDPOINTS
// =============================================================================

// ListMissions returns active missions with the caller's claim state.
// GET /api/missions
func (h *Handler) ListMissions(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	statuses, err := h.Missions.ListFor(r.Context(), acct.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	dtos := make([]MissionDTO, 0, len(statuses))
	for _, st := range statuses {
		dtos = append(dtos, toMissionDTO(st.Mission, st.Claimed))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClaimMission credits a mission reward.
// POST /api/missions/{id}/claim
func (h *Handler) ClaimMission(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	res, err := h.Missions.Claim(r.Context(), acct.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		Reward:         res.Reward,
		Balance:        res.Balance,
		AlreadyClaimed: res.AlreadyClaimed,
	})
}

// =============================================================================
// SHOP ENDPOINTS
// =============================================================================

// GetShop returns the purchasable catalog.
// GET /api/shop
func (h *Handler) GetShop(w http.ResponseWriter, r *http.Request) {
	items, err := h.Shop.Catalog(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	dtos := make([]ShopItemDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, toShopItemDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Purchase buys an upgrade.
// POST /api/shop/{id}/purchase
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	res, err := h.Shop.Purchase(r.Context(), acct.ID, chi.URLParam(r, "id"), req.OpID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurchaseResponse{
		Item:          toShopItemDTO(res.Item),
		Balance:       res.Balance,
		ProfitPerHour: res.ProfitPerHour.String(),
		Replayed:      res.Replayed,
	})
}

// =============================================================================
// INVITE ENDPOINTS
// =============================================================================

// CreateInvite generates a fresh invite code.
// POST /api/invites
func (h *Handler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	inv, err := h.Invites.Create(r.Context(), acct.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInviteDTO(*inv))
}

// InviteStatus summarizes the caller's invites.
// GET /api/invites
func (h *Handler) InviteStatus(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	st, err := h.Invites.StatusFor(r.Context(), acct.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}

	resp := InviteStatusResponse{
		Invites:     make([]InviteDTO, 0, len(st.Invites)),
		Claimed:     st.Claimed,
		CoinsEarned: st.CoinsEarned,
	}
	for _, inv := range st.Invites {
		resp.Invites = append(resp.Invites, toInviteDTO(inv))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClaimInvite redeems a code for the caller.
// POST /api/invites/claim
func (h *Handler) ClaimInvite(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req ClaimInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	res, err := h.Invites.Claim(r.Context(), req.Code, acct.ID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		Reward:  res.InviteeReward,
		Balance: res.InviteeBalance,
	})
}

// =============================================================================
// MEDIA ENDPOINT
// =============================================================================

// ClaimMedia credits a rewarded-video claim.
// POST /api/media/claim
func (h *Handler) ClaimMedia(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.requireAccount(w, r)
	if !ok {
		return
	}

	var req MediaClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	res, err := h.Media.Claim(r.Context(), acct.ID, req.VideoID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClaimResponse{
		Reward:         res.Reward,
		Balance:        res.Balance,
		AlreadyClaimed: res.AlreadyClaimed,
	})
}

// =============================================================================
// LEADERBOARD ENDPOINT
// =============================================================================

// Leaderboard returns the top balances. Banned accounts are excluded.
// GET /api/leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Store.TopAccounts(r.Context(), h.LeaderboardLimit)
	if err != nil {
		h.handleError(w, err)
		return
	}

	entries := make([]LeaderboardEntryDTO, 0, len(accounts))
	for i, acct := range accounts {
		entries = append(entries, LeaderboardEntryDTO{
			Rank:      i + 1,
			AccountID: string(acct.ID),
			Balance:   acct.Balance,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

// =============================================================================
// ADMIN ENDPOINTS
// =============================================================================

// ListAccounts pages through all accounts by id.
// GET /api/admin/accounts?limit=&after=
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	after := ledger.AccountID(r.URL.Query().Get("after"))

	accounts, err := h.Store.Accounts(r.Context(), limit, after)
	if err != nil {
		h.handleError(w, err)
		return
	}

	dtos := make([]AccountDTO, 0, len(accounts))
	for _, acct := range accounts {
		dtos = append(dtos, toAccountDTO(acct))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns one account.
// GET /api/admin/accounts/{id}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Ledger.Account(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// AuditAccount checks the conservation invariant for one account.
// GET /api/admin/accounts/{id}/audit
func (h *Handler) AuditAccount(w http.ResponseWriter, r *http.Request) {
	report, err := h.Ledger.Audit(r.Context(), ledger.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuditDTO{
		AccountID:  string(report.AccountID),
		Balance:    report.Balance,
		LedgerSum:  report.LedgerSum,
		Entries:    report.Entries,
		Consistent: report.Consistent(),
	})
}

// AdjustBalance applies a manual correction. The caller must supply the op
// id so a retried adjustment never double-applies.
// POST /api/admin/accounts/{id}/adjust
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must be non-zero", nil)
		return
	}

	metadata := map[string]string{}
	if admin, ok := auth.AdminFrom(r.Context()); ok {
		metadata["admin"] = admin
	}
	if req.Note != "" {
		metadata["note"] = req.Note
	}

	res, err := h.Ledger.ApplyDelta(r.Context(), ledger.ApplyRequest{
		AccountID: ledger.AccountID(chi.URLParam(r, "id")),
		Delta:     req.Delta,
		Reason:    ledger.ReasonAdminAdjust,
		OpID:      req.OpID,
		Metadata:  metadata,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CoinUpdateResponse{Balance: res.Balance, Replayed: res.Replayed})
}

// BanAccount sets or clears the banned flag.
// POST /api/admin/accounts/{id}/ban
func (h *Handler) BanAccount(w http.ResponseWriter, r *http.Request) {
	var req BanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	if err := h.Store.SetBanned(r.Context(), ledger.AccountID(chi.URLParam(r, "id")), req.Banned); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAllMissions returns the full mission catalog.
// GET /api/admin/missions
func (h *Handler) ListAllMissions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Missions.List(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	dtos := make([]MissionDTO, 0, len(records))
	for _, m := range records {
		dtos = append(dtos, toMissionDTO(m, false))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveMission upserts a mission definition.
// POST /api/admin/missions
func (h *Handler) SaveMission(w http.ResponseWriter, r *http.Request) {
	var req SaveMissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	err := h.Missions.Save(r.Context(), sqlite.MissionRecord{
		ID:     req.ID,
		Title:  req.Title,
		Reward: req.Reward,
		Kind:   req.Kind,
		Active: req.Active,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMission removes a mission from the catalog.
// DELETE /api/admin/missions/{id}
func (h *Handler) DeleteMission(w http.ResponseWriter, r *http.Request) {
	if err := h.Missions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAllShopItems returns the full shop catalog.
// GET /api/admin/shop
func (h *Handler) ListAllShopItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Shop.List(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}
	dtos := make([]ShopItemDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, toShopItemDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveShopItem upserts a shop item.
// POST /api/admin/shop
func (h *Handler) SaveShopItem(w http.ResponseWriter, r *http.Request) {
	var req SaveShopItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}

	boost, err := decimal.NewFromString(req.ProfitBoost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "profitBoost must be a decimal", err)
		return
	}

	err = h.Shop.Save(r.Context(), sqlite.ShopItemRecord{
		ID:          req.ID,
		Name:        req.Name,
		Cost:        req.Cost,
		ProfitBoost: boost,
		Active:      req.Active,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteShopItem removes a shop item from the catalog.
// DELETE /api/admin/shop/{id}
func (h *Handler) DeleteShopItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Shop.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// requireAccount loads the authenticated caller's account and rejects banned
// accounts. Writes the error response itself on failure.
func (h *Handler) requireAccount(w http.ResponseWriter, r *http.Request) (*ledger.Account, bool) {
	id, ok := auth.AccountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return nil, false
	}

	acct, err := h.Ledger.Account(r.Context(), ledger.AccountID(id))
	if err != nil {
		h.handleError(w, err)
		return nil, false
	}
	if acct.Banned {
		writeError(w, http.StatusForbidden, "account banned", nil)
		return nil, false
	}
	return acct, true
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	var invalidOp *ledger.InvalidOperationError
	var insufficient *ledger.InsufficientFundsError

	switch {
	case errors.As(err, &invalidOp):
		writeError(w, http.StatusBadRequest, "invalid operation", err)
	case errors.As(err, &insufficient):
		writeError(w, http.StatusConflict, "insufficient funds", err)
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, missions.ErrMissionNotFound),
		errors.Is(err, shop.ErrItemNotFound),
		errors.Is(err, invites.ErrInviteNotFound):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, invites.ErrInviteClaimed),
		errors.Is(err, invites.ErrInviteExpired),
		errors.Is(err, invites.ErrSelfInvite),
		errors.Is(err, ledger.ErrAccountExists):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, ledger.ErrTransientStorage):
		writeError(w, http.StatusServiceUnavailable, "storage contention, retry", err)
	default:
		h.Log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
