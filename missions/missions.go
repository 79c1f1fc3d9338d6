/*
missions.go - Mission catalog and reward claims

PURPOSE:
  Missions grant fixed coin rewards. Claiming a mission credits the account
  through the ledger; the claim key is derived deterministically from the
  mission, the account and (for daily missions) the current UTC day, so the
  ledger's idempotency guarantee is what enforces "claim once".

CLAIM KEYS:
  daily mission:  mission_<missionID>_<accountID>_<YYYY-MM-DD>
  one-off mission: mission_<missionID>_<accountID>

  No separate "claims" table exists. The ledger entry IS the claim record,
  which keeps reward crediting and claim tracking atomic for free.

SEE ALSO:
  - ledger/service.go: ApplyDelta idempotency
  - store/sqlite/sqlite.go: MissionRecord persistence
*/
package missions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/store/sqlite"
)

// Mission kinds.
const (
	KindDaily = "daily"
	KindOnce  = "once"
)

var ErrMissionNotFound = errors.New("mission not found")

// Store is the persistence surface missions need. *sqlite.Store satisfies it.
type Store interface {
	GetMission(ctx context.Context, id string) (*sqlite.MissionRecord, error)
	ListMissions(ctx context.Context, activeOnly bool) ([]sqlite.MissionRecord, error)
	SaveMission(ctx context.Context, m sqlite.MissionRecord) error
	DeleteMission(ctx context.Context, id string) error
	EntryByOp(ctx context.Context, id ledger.AccountID, opID string) (*ledger.Entry, error)
}

// =============================================================================
// MISSION SERVICE
// =============================================================================

type Service struct {
	store  Store
	ledger *ledger.Service
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, lsvc *ledger.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, ledger: lsvc, log: log, now: time.Now}
}

// WithClock overrides the clock. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// MissionStatus is a mission paired with the claim state for one account.
type MissionStatus struct {
	Mission sqlite.MissionRecord
	Claimed bool
}

// ListFor returns all active missions with the account's claim state.
func (s *Service) ListFor(ctx context.Context, accountID ledger.AccountID) ([]MissionStatus, error) {
	records, err := s.store.ListMissions(ctx, true)
	if err != nil {
		return nil, err
	}

	statuses := make([]MissionStatus, 0, len(records))
	for _, m := range records {
		entry, err := s.store.EntryByOp(ctx, accountID, s.claimKey(m, accountID))
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, MissionStatus{Mission: m, Claimed: entry != nil})
	}
	return statuses, nil
}

// ClaimResult reports the outcome of a mission claim.
type ClaimResult struct {
	Mission        sqlite.MissionRecord
	Reward         int64
	Balance        int64
	AlreadyClaimed bool
}

// Claim credits the mission reward. Claiming the same mission again within
// its window returns the recorded result with AlreadyClaimed set.
func (s *Service) Claim(ctx context.Context, accountID ledger.AccountID, missionID string) (*ClaimResult, error) {
	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Active {
		return nil, ErrMissionNotFound
	}

	res, err := s.ledger.ApplyDelta(ctx, ledger.ApplyRequest{
		AccountID: accountID,
		Delta:     m.Reward,
		Reason:    ledger.ReasonMissionReward,
		OpID:      s.claimKey(*m, accountID),
		Metadata:  map[string]string{"mission_id": m.ID},
	})
	if err != nil {
		return nil, err
	}

	return &ClaimResult{
		Mission:        *m,
		Reward:         res.Entry.Delta,
		Balance:        res.Balance,
		AlreadyClaimed: res.Replayed,
	}, nil
}

// claimKey scopes daily missions to the current UTC day.
func (s *Service) claimKey(m sqlite.MissionRecord, accountID ledger.AccountID) string {
	if m.Kind == KindDaily {
		day := s.now().UTC().Format("2006-01-02")
		return fmt.Sprintf("mission_%s_%s_%s", m.ID, accountID, day)
	}
	return fmt.Sprintf("mission_%s_%s", m.ID, accountID)
}

// =============================================================================
// ADMIN CATALOG MANAGEMENT
// =============================================================================

// Save upserts a mission definition.
func (s *Service) Save(ctx context.Context, m sqlite.MissionRecord) error {
	if m.ID == "" {
		return &ledger.InvalidOperationError{Field: "id", Detail: "must not be empty"}
	}
	if m.Reward <= 0 {
		return &ledger.InvalidOperationError{Field: "reward", Detail: "must be positive"}
	}
	if m.Kind != KindDaily && m.Kind != KindOnce {
		return &ledger.InvalidOperationError{Field: "kind", Detail: "must be daily or once"}
	}
	return s.store.SaveMission(ctx, m)
}

// List returns the full catalog, including inactive missions.
func (s *Service) List(ctx context.Context) ([]sqlite.MissionRecord, error) {
	return s.store.ListMissions(ctx, false)
}

// Delete removes a mission from the catalog. Already-claimed rewards stay
// in the ledger.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteMission(ctx, id)
}
