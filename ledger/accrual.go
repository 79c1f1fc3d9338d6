/*
accrual.go - Offline earnings computation

PURPOSE:
  Computes elapsed-time earnings between two sync points. This is the "idle"
  part of the idle game: profit accumulates while the player is away.

PROPERTIES:
  - Pure: no clocks, no storage, fully deterministic.
  - Clamped: now <= lastSyncedAt yields zero. Client clock skew or a replayed
    sync can never produce negative accrual.
  - Floored: fractional coins are discarded, never rounded up.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

var secondsPerHour = decimal.NewFromInt(3600)

// Accrue returns floor(profitPerHour * hoursElapsed) with hoursElapsed
// clamped at zero. Sub-second remainders are ignored.
func Accrue(lastSyncedAt, now time.Time, profitPerHour decimal.Decimal) int64 {
	if !now.After(lastSyncedAt) || profitPerHour.Sign() <= 0 {
		return 0
	}
	seconds := int64(now.Sub(lastSyncedAt) / time.Second)
	if seconds <= 0 {
		return 0
	}
	earnings := profitPerHour.
		Mul(decimal.NewFromInt(seconds)).
		Div(secondsPerHour).
		Floor()
	return earnings.IntPart()
}
