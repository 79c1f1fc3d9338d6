/*
sync.go - Reconciliation of client-reported operations

PURPOSE:
  The client plays offline and periodically submits a batch of operations
  (taps, purchases). The engine computes offline earnings once from the
  account's last sync point, folds the batch into one net delta against a
  running balance, and commits exactly one ledger entry for the whole call.

IDEMPOTENCY:
  The entry's op id derives deterministically from the caller's sync op id,
  so a retried sync replays the recorded result instead of re-earning or
  re-spending. The breakdown (offline earnings, rejected ops) is stored in
  the entry metadata so the replayed response is byte-for-byte equivalent.

PARTIAL ACCEPTANCE:
  A purchase whose running balance would go negative is rejected for that op
  only and reported back as unapplied; earlier ops in the batch still count.
  The batch is never rolled back wholesale.
*/
package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/metrics"
)

// =============================================================================
// CLIENT OPERATIONS
// =============================================================================

type OpType string

const (
	OpTap      OpType = "tap"
	OpPurchase OpType = "purchase"
)

// Op is one client-reported action inside a sync batch.
type Op struct {
	Type            OpType
	Amount          int64  // tap: coins earned
	Item            string // purchase: item identifier
	Cost            int64  // purchase: coins spent
	ClientTimestamp time.Time
	OpID            string
}

// RejectedOp reports a sub-operation the engine did not apply.
type RejectedOp struct {
	OpID   string `json:"op_id"`
	Type   OpType `json:"type"`
	Reason string `json:"reason"`
}

// Rejection reasons for sub-operations.
const (
	RejectInsufficientFunds = "insufficient_funds"
	RejectInvalidAmount     = "invalid_amount"
	RejectUnknownType       = "unknown_type"
)

// SyncResult is the authoritative outcome of a sync call. OfflineEarnings is
// reported separately so the client can reconcile its local prediction.
type SyncResult struct {
	OfflineEarnings int64
	Account         Account
	Entry           Entry
	Rejected        []RejectedOp
	Replayed        bool
}

// =============================================================================
// SYNC ENGINE
// =============================================================================

// SyncEngine reconciles client batches against server state. All balance
// movement is delegated to the Service; the engine never writes state itself.
type SyncEngine struct {
	svc *Service
	log *zap.Logger
	now func() time.Time
}

func NewSyncEngine(svc *Service, log *zap.Logger) *SyncEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncEngine{svc: svc, log: log, now: time.Now}
}

// WithClock overrides the engine clock. Intended for tests.
func (e *SyncEngine) WithClock(now func() time.Time) *SyncEngine {
	e.now = now
	return e
}

// Sync folds ops into one net delta and commits it as a single ledger entry.
// Server time is authoritative: client timestamps never influence accrual,
// and LastSyncedAt only moves forward.
//
// Accrual and the fold both run inside the ledger transaction, against the
// account state read there. Two concurrent syncs therefore serialize: the
// second one accrues from the sync point the first one already advanced,
// so an offline window is never minted twice.
func (e *SyncEngine) Sync(ctx context.Context, accountID AccountID, ops []Op, opID string) (*SyncResult, error) {
	if opID == "" {
		return nil, &InvalidOperationError{Field: "opId", Detail: "must not be empty"}
	}

	now := e.now().UTC()

	// Captured by the plan; the attempt that commits wrote them last.
	var offline int64
	var rejected []RejectedOp

	res, err := e.svc.ApplyWith(ctx, accountID, ReasonSync, syncOpID(opID), func(acct Account) (Mutation, error) {
		offline = Accrue(acct.LastSyncedAt, now, acct.ProfitPerHour)

		var taps, spent int64
		taps, spent, rejected = foldOps(acct.Balance+offline, ops)

		return Mutation{
			Delta:    offline + taps - spent,
			Metadata: encodeSyncMetadata(offline, taps, spent, rejected),
			SyncedAt: &now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if res.Replayed {
		// A retried sync must report what actually happened the first time,
		// not a recomputation against already-advanced state.
		offline, rejected = decodeSyncMetadata(res.Entry.Metadata)
	} else {
		metrics.OfflineCoinsAccrued.Add(float64(offline))
		metrics.SyncOpsRejected.Add(float64(len(rejected)))
		if len(rejected) > 0 {
			e.log.Info("sync rejected sub-operations",
				zap.String("account", string(accountID)),
				zap.Int("rejected", len(rejected)))
		}
	}
	metrics.SyncsProcessed.Inc()

	after, err := e.svc.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &SyncResult{
		OfflineEarnings: offline,
		Account:         *after,
		Entry:           res.Entry,
		Rejected:        rejected,
		Replayed:        res.Replayed,
	}, nil
}

// syncOpID derives the ledger idempotency key from the caller's sync op id.
func syncOpID(opID string) string { return "sync_" + opID }

// foldOps walks the batch left to right against a running balance. Offline
// earnings are already in running, so they fund purchases within the batch.
func foldOps(running int64, ops []Op) (taps, spent int64, rejected []RejectedOp) {
	for _, op := range ops {
		switch op.Type {
		case OpTap:
			if op.Amount <= 0 {
				rejected = append(rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: RejectInvalidAmount})
				continue
			}
			running += op.Amount
			taps += op.Amount

		case OpPurchase:
			if op.Cost <= 0 {
				rejected = append(rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: RejectInvalidAmount})
				continue
			}
			if running-op.Cost < 0 {
				rejected = append(rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: RejectInsufficientFunds})
				continue
			}
			running -= op.Cost
			spent += op.Cost

		default:
			rejected = append(rejected, RejectedOp{OpID: op.OpID, Type: op.Type, Reason: RejectUnknownType})
		}
	}
	return taps, spent, rejected
}

// =============================================================================
// METADATA CODEC - Makes replayed syncs reconstructable
// =============================================================================

const (
	metaOfflineEarnings = "offline_earnings"
	metaTaps            = "taps"
	metaSpent           = "spent"
	metaRejected        = "rejected"
)

func encodeSyncMetadata(offline, taps, spent int64, rejected []RejectedOp) map[string]string {
	meta := map[string]string{
		metaOfflineEarnings: strconv.FormatInt(offline, 10),
		metaTaps:            strconv.FormatInt(taps, 10),
		metaSpent:           strconv.FormatInt(spent, 10),
	}
	if len(rejected) > 0 {
		if b, err := json.Marshal(rejected); err == nil {
			meta[metaRejected] = string(b)
		}
	}
	return meta
}

func decodeSyncMetadata(meta map[string]string) (offline int64, rejected []RejectedOp) {
	if meta == nil {
		return 0, nil
	}
	offline, _ = strconv.ParseInt(meta[metaOfflineEarnings], 10, 64)
	if raw, ok := meta[metaRejected]; ok {
		_ = json.Unmarshal([]byte(raw), &rejected)
	}
	return offline, rejected
}
