package ledger_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/jamforge/coin-engine/ledger"
)

func TestAccrue_ExactHours(t *testing.T) {
	// GIVEN: 3600 coins/hour and exactly 2 hours elapsed
	// WHEN: Accruing
	// THEN: 7200 coins

	last := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	now := last.Add(2 * time.Hour)

	earned := ledger.Accrue(last, now, decimal.NewFromInt(3600))
	assert.Equal(t, int64(7200), earned)
}

func TestAccrue_FloorsFractionalCoins(t *testing.T) {
	// GIVEN: 10 coins/hour and 5 minutes elapsed (0.8333... coins)
	// WHEN: Accruing
	// THEN: Fractions floor to 0, never round up

	last := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	now := last.Add(5 * time.Minute)

	earned := ledger.Accrue(last, now, decimal.NewFromInt(10))
	assert.Equal(t, int64(0), earned)

	// 7 minutes at 10/hour = 1.1666 -> 1
	earned = ledger.Accrue(last, last.Add(7*time.Minute), decimal.NewFromInt(10))
	assert.Equal(t, int64(1), earned)
}

func TestAccrue_FractionalRate(t *testing.T) {
	// GIVEN: A fractional profit rate of 0.5 coins/hour
	// WHEN: 3 hours elapse
	// THEN: floor(1.5) = 1 coin

	last := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	earned := ledger.Accrue(last, last.Add(3*time.Hour), decimal.RequireFromString("0.5"))
	assert.Equal(t, int64(1), earned)
}

func TestAccrue_NeverNegative(t *testing.T) {
	// GIVEN: A clock reading before the last sync point, or a broken rate
	// WHEN: Accruing
	// THEN: Zero, never negative

	last := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, int64(0), ledger.Accrue(last, last.Add(-time.Hour), decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), ledger.Accrue(last, last, decimal.NewFromInt(100)))
	assert.Equal(t, int64(0), ledger.Accrue(last, last.Add(time.Hour), decimal.NewFromInt(-100)))
	assert.Equal(t, int64(0), ledger.Accrue(last, last.Add(time.Hour), decimal.Zero))
}

func TestAccrue_LongOfflineWindow(t *testing.T) {
	// GIVEN: 100 coins/hour and 30 days away
	// WHEN: Accruing
	// THEN: The full window pays out; there is no cap here (capping is a
	//       product decision that belongs to the caller)

	last := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	now := last.Add(30 * 24 * time.Hour)

	earned := ledger.Accrue(last, now, decimal.NewFromInt(100))
	assert.Equal(t, int64(72000), earned)
}
