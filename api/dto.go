/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/store/sqlite"
)

// =============================================================================
// AUTH
// =============================================================================

type RegisterRequest struct {
	DeviceID string `json:"deviceId"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId"`
}

type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// =============================================================================
// ACCOUNT STATE
// =============================================================================

// AccountDTO is the player-visible account state.
type AccountDTO struct {
	ID            string    `json:"id"`
	Balance       int64     `json:"balance"`
	ProfitPerHour string    `json:"profitPerHour"`
	LastSyncedAt  time.Time `json:"lastSyncedAt"`
	Banned        bool      `json:"banned,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toAccountDTO(acct ledger.Account) AccountDTO {
	return AccountDTO{
		ID:            string(acct.ID),
		Balance:       acct.Balance,
		ProfitPerHour: acct.ProfitPerHour.String(),
		LastSyncedAt:  acct.LastSyncedAt,
		Banned:        acct.Banned,
		CreatedAt:     acct.CreatedAt,
	}
}

// =============================================================================
// COINS AND HISTORY
// =============================================================================

type CoinUpdateRequest struct {
	OpID   string `json:"opId"`
	Amount int64  `json:"amount"`
}

type CoinUpdateResponse struct {
	Balance  int64 `json:"balance"`
	Replayed bool  `json:"replayed,omitempty"`
}

// EntryDTO is one ledger entry in history responses.
type EntryDTO struct {
	ID               string            `json:"id"`
	OpID             string            `json:"opId"`
	Delta            int64             `json:"delta"`
	Reason           string            `json:"reason"`
	ResultingBalance int64             `json:"resultingBalance"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

type HistoryResponse struct {
	Entries    []EntryDTO `json:"entries"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, EntryDTO{
			ID:               string(e.ID),
			OpID:             e.OpID,
			Delta:            e.Delta,
			Reason:           string(e.Reason),
			ResultingBalance: e.ResultingBalance,
			Metadata:         e.Metadata,
			CreatedAt:        e.CreatedAt,
		})
	}
	return dtos
}

// =============================================================================
// STATE SYNC
// =============================================================================

type SyncOpRequest struct {
	Type            string    `json:"type"`
	OpID            string    `json:"opId"`
	Amount          int64     `json:"amount,omitempty"`
	Item            string    `json:"item,omitempty"`
	Cost            int64     `json:"cost,omitempty"`
	ClientTimestamp time.Time `json:"clientTimestamp,omitempty"`
}

type SyncRequest struct {
	OpID string          `json:"opId"`
	Ops  []SyncOpRequest `json:"ops"`
}

type RejectedOpDTO struct {
	OpID   string `json:"opId"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type SyncResponse struct {
	Account         AccountDTO      `json:"account"`
	OfflineEarnings int64           `json:"offlineEarnings"`
	Rejected        []RejectedOpDTO `json:"rejected,omitempty"`
	Replayed        bool            `json:"replayed,omitempty"`
}

func toSyncResponse(res *ledger.SyncResult) SyncResponse {
	out := SyncResponse{
		Account:         toAccountDTO(res.Account),
		OfflineEarnings: res.OfflineEarnings,
		Replayed:        res.Replayed,
	}
	for _, rej := range res.Rejected {
		out.Rejected = append(out.Rejected, RejectedOpDTO{
			OpID:   rej.OpID,
			Type:   string(rej.Type),
			Reason: rej.Reason,
		})
	}
	return out
}

// =============================================================================
// MISSIONS
// =============================================================================

type MissionDTO struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Reward  int64  `json:"reward"`
	Kind    string `json:"kind"`
	Active  bool   `json:"active"`
	Claimed bool   `json:"claimed,omitempty"`
}

func toMissionDTO(m sqlite.MissionRecord, claimed bool) MissionDTO {
	return MissionDTO{
		ID:      m.ID,
		Title:   m.Title,
		Reward:  m.Reward,
		Kind:    m.Kind,
		Active:  m.Active,
		Claimed: claimed,
	}
}

type ClaimResponse struct {
	Reward         int64 `json:"reward"`
	Balance        int64 `json:"balance"`
	AlreadyClaimed bool  `json:"alreadyClaimed,omitempty"`
}

// SaveMissionRequest is the admin payload for catalog upserts.
type SaveMissionRequest struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Reward int64  `json:"reward"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

// =============================================================================
// SHOP
// =============================================================================

type ShopItemDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Cost        int64  `json:"cost"`
	ProfitBoost string `json:"profitBoost"`
	Active      bool   `json:"active"`
}

func toShopItemDTO(item sqlite.ShopItemRecord) ShopItemDTO {
	return ShopItemDTO{
		ID:          item.ID,
		Name:        item.Name,
		Cost:        item.Cost,
		ProfitBoost: item.ProfitBoost.String(),
		Active:      item.Active,
	}
}

type PurchaseRequest struct {
	OpID string `json:"opId"`
}

type PurchaseResponse struct {
	Item          ShopItemDTO `json:"item"`
	Balance       int64       `json:"balance"`
	ProfitPerHour string      `json:"profitPerHour"`
	Replayed      bool        `json:"replayed,omitempty"`
}

// SaveShopItemRequest is the admin payload for catalog upserts.
type SaveShopItemRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Cost        int64  `json:"cost"`
	ProfitBoost string `json:"profitBoost"`
	Active      bool   `json:"active"`
}

// =============================================================================
// INVITES
// =============================================================================

type InviteDTO struct {
	Code      string     `json:"code"`
	InviteeID string     `json:"inviteeId,omitempty"`
	Claimed   bool       `json:"claimed"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

func toInviteDTO(inv sqlite.InviteRecord) InviteDTO {
	return InviteDTO{
		Code:      inv.Code,
		InviteeID: inv.InviteeID,
		Claimed:   inv.Claimed(),
		ClaimedAt: inv.ClaimedAt,
		ExpiresAt: inv.ExpiresAt,
	}
}

type InviteStatusResponse struct {
	Invites     []InviteDTO `json:"invites"`
	Claimed     int         `json:"claimed"`
	CoinsEarned int64       `json:"coinsEarned"`
}

type ClaimInviteRequest struct {
	Code string `json:"code"`
}

// =============================================================================
// MEDIA
// =============================================================================

type MediaClaimRequest struct {
	VideoID string `json:"videoId"`
}

// =============================================================================
// LEADERBOARD
// =============================================================================

type LeaderboardEntryDTO struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"accountId"`
	Balance   int64  `json:"balance"`
}

// =============================================================================
// ADMIN
// =============================================================================

type AdjustRequest struct {
	OpID  string `json:"opId"`
	Delta int64  `json:"delta"`
	Note  string `json:"note,omitempty"`
}

type BanRequest struct {
	Banned bool `json:"banned"`
}

type AuditDTO struct {
	AccountID  string `json:"accountId"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledgerSum"`
	Entries    int    `json:"entries"`
	Consistent bool   `json:"consistent"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
