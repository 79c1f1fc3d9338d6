/*
invites.go - Invite codes with two-sided rewards

PURPOSE:
  An account generates short invite codes. When a new player claims a code,
  both sides get a coin reward. The claim itself is guarded twice:

  1. MarkInviteClaimed is a conditional update (invitee must still be NULL),
     so exactly one claimant wins a race on the same code.
  2. The reward op ids derive from the code (invite_<code>_invitee and
     invite_<code>_inviter), so even a replayed claim credits each side once.

EDGE CASES:
  - Self-claims are rejected.
  - Expired codes are rejected; expiry is configured, not per-invite input.
  - The inviter reward failing after the invitee reward does not roll back
    the invitee: the claim endpoint is retryable and both ops are idempotent.

SEE ALSO:
  - store/sqlite/sqlite.go: InviteRecord persistence
*/
package invites

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/store/sqlite"
)

var (
	ErrInviteNotFound = errors.New("invite not found")
	ErrInviteClaimed  = errors.New("invite already claimed")
	ErrInviteExpired  = errors.New("invite expired")
	ErrSelfInvite     = errors.New("cannot claim own invite")
)

// Store is the persistence surface invites need. *sqlite.Store satisfies it.
type Store interface {
	SaveInvite(ctx context.Context, inv sqlite.InviteRecord) error
	GetInvite(ctx context.Context, code string) (*sqlite.InviteRecord, error)
	InvitesByInviter(ctx context.Context, inviterID string) ([]sqlite.InviteRecord, error)
	MarkInviteClaimed(ctx context.Context, code, inviteeID string, claimedAt time.Time) (bool, error)
	EntryByOp(ctx context.Context, accountID ledger.AccountID, opID string) (*ledger.Entry, error)
}

// =============================================================================
// INVITE SERVICE
// =============================================================================

type Service struct {
	store  Store
	ledger *ledger.Service
	log    *zap.Logger
	reward int64
	ttl    time.Duration
	now    func() time.Time
}

// NewService wires the invite flow. reward is the coin amount credited to
// each side of a claim; ttl is how long a code stays claimable.
func NewService(store Store, lsvc *ledger.Service, reward int64, ttl time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, ledger: lsvc, log: log, reward: reward, ttl: ttl, now: time.Now}
}

// WithClock overrides the clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create generates a fresh invite code for the account.
func (s *Service) Create(ctx context.Context, inviterID ledger.AccountID) (*sqlite.InviteRecord, error) {
	now := s.now().UTC()

	// Short codes collide occasionally; retry with a new one.
	for attempt := 0; attempt < 3; attempt++ {
		inv := sqlite.InviteRecord{
			Code:      newCode(),
			InviterID: string(inviterID),
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
		}
		err := s.store.SaveInvite(ctx, inv)
		if errors.Is(err, ledger.ErrDuplicateOperation) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &inv, nil
	}
	return nil, ledger.ErrTransientStorage
}

// ClaimResult reports a successful invite claim.
type ClaimResult struct {
	Invite         sqlite.InviteRecord
	InviteeReward  int64
	InviteeBalance int64
}

// Claim redeems a code for the invitee and rewards both sides.
func (s *Service) Claim(ctx context.Context, code string, inviteeID ledger.AccountID) (*ClaimResult, error) {
	inv, err := s.store.GetInvite(ctx, code)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInviteNotFound
	}
	if inv.InviterID == string(inviteeID) {
		return nil, ErrSelfInvite
	}

	now := s.now().UTC()
	if now.After(inv.ExpiresAt) {
		return nil, ErrInviteExpired
	}

	if !inv.Claimed() {
		won, err := s.store.MarkInviteClaimed(ctx, code, string(inviteeID), now)
		if err != nil {
			return nil, err
		}
		if !won {
			// Lost the race; re-read to learn who claimed it.
			inv, err = s.store.GetInvite(ctx, code)
			if err != nil {
				return nil, err
			}
		} else {
			inv.InviteeID = string(inviteeID)
			inv.ClaimedAt = &now
		}
	}
	if inv.InviteeID != string(inviteeID) {
		return nil, ErrInviteClaimed
	}

	// Same claimant retrying lands here; both rewards replay cleanly.
	inviteeRes, err := s.ledger.ApplyDelta(ctx, ledger.ApplyRequest{
		AccountID: inviteeID,
		Delta:     s.reward,
		Reason:    ledger.ReasonInviteReward,
		OpID:      "invite_" + code + "_invitee",
		Metadata:  map[string]string{"invite_code": code, "inviter_id": inv.InviterID},
	})
	if err != nil {
		return nil, err
	}

	_, err = s.ledger.ApplyDelta(ctx, ledger.ApplyRequest{
		AccountID: ledger.AccountID(inv.InviterID),
		Delta:     s.reward,
		Reason:    ledger.ReasonInviteReward,
		OpID:      "invite_" + code + "_inviter",
		Metadata:  map[string]string{"invite_code": code, "invitee_id": string(inviteeID)},
	})
	if err != nil {
		// Invitee is already credited; surface the error so the client
		// retries and the inviter side replays into place.
		return nil, err
	}

	s.log.Info("invite claimed",
		zap.String("code", code),
		zap.String("inviter", inv.InviterID),
		zap.String("invitee", string(inviteeID)))

	return &ClaimResult{
		Invite:         *inv,
		InviteeReward:  inviteeRes.Entry.Delta,
		InviteeBalance: inviteeRes.Balance,
	}, nil
}

// Status summarizes an account's invites.
type Status struct {
	Invites     []sqlite.InviteRecord
	Claimed     int
	CoinsEarned int64
}

// StatusFor lists the account's invites and what they earned. CoinsEarned
// is summed from the reward ledger entries, not the configured reward, so
// claims stay accurately reported after the reward amount changes.
func (s *Service) StatusFor(ctx context.Context, inviterID ledger.AccountID) (*Status, error) {
	invites, err := s.store.InvitesByInviter(ctx, string(inviterID))
	if err != nil {
		return nil, err
	}

	st := &Status{Invites: invites}
	for _, inv := range invites {
		if !inv.Claimed() {
			continue
		}
		st.Claimed++
		entry, err := s.store.EntryByOp(ctx, inviterID, "invite_"+inv.Code+"_inviter")
		if err != nil {
			return nil, err
		}
		if entry != nil {
			st.CoinsEarned += entry.Delta
		}
	}
	return st, nil
}

// newCode derives a short uppercase code from a UUID. 8 hex chars keeps
// codes typeable while collisions stay rare enough to retry through.
func newCode() string {
	id := uuid.NewString()
	return strings.ToUpper(strings.ReplaceAll(id, "-", "")[:8])
}
