/*
shop.go - Purchasable upgrades

PURPOSE:
  Shop items cost coins and permanently raise the account's passive profit
  rate. A purchase is one ledger debit plus the rate bump, committed in the
  same storage transaction so a crash can never charge without upgrading.

IDEMPOTENCY:
  The client supplies the purchase op id. A retried purchase replays the
  recorded debit and does NOT bump the rate a second time.

SEE ALSO:
  - ledger/service.go: Mutation.ProfitRate
  - store/sqlite/sqlite.go: ShopItemRecord persistence
*/
package shop

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jamforge/coin-engine/ledger"
	"github.com/jamforge/coin-engine/store/sqlite"
)

var ErrItemNotFound = errors.New("shop item not found")

// Store is the persistence surface the shop needs. *sqlite.Store satisfies it.
type Store interface {
	GetShopItem(ctx context.Context, id string) (*sqlite.ShopItemRecord, error)
	ListShopItems(ctx context.Context, activeOnly bool) ([]sqlite.ShopItemRecord, error)
	SaveShopItem(ctx context.Context, item sqlite.ShopItemRecord) error
	DeleteShopItem(ctx context.Context, id string) error
}

// =============================================================================
// SHOP SERVICE
// =============================================================================

type Service struct {
	store  Store
	ledger *ledger.Service
	log    *zap.Logger
}

func NewService(store Store, lsvc *ledger.Service, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, ledger: lsvc, log: log}
}

// Catalog returns the items visible to players.
func (s *Service) Catalog(ctx context.Context) ([]sqlite.ShopItemRecord, error) {
	return s.store.ListShopItems(ctx, true)
}

// PurchaseResult reports the outcome of a purchase.
type PurchaseResult struct {
	Item          sqlite.ShopItemRecord
	Balance       int64
	ProfitPerHour decimal.Decimal
	Replayed      bool
}

// Purchase debits the item cost and raises the profit rate. opID must be
// unique per purchase attempt; retries with the same opID replay.
func (s *Service) Purchase(ctx context.Context, accountID ledger.AccountID, itemID, opID string) (*PurchaseResult, error) {
	item, err := s.store.GetShopItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || !item.Active {
		return nil, ErrItemNotFound
	}

	// The new rate is computed from the account state read inside the
	// ledger transaction, so two purchases racing each other stack their
	// boosts instead of the later commit clobbering the earlier one.
	res, err := s.ledger.ApplyWith(ctx, accountID, ledger.ReasonPurchase, "shop_"+opID,
		func(acct ledger.Account) (ledger.Mutation, error) {
			newRate := acct.ProfitPerHour.Add(item.ProfitBoost)
			return ledger.Mutation{
				Delta:      -item.Cost,
				Metadata:   map[string]string{"item_id": item.ID},
				ProfitRate: &newRate,
			}, nil
		})
	if err != nil {
		return nil, err
	}

	after, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if res.Replayed {
		s.log.Debug("purchase replayed",
			zap.String("account", string(accountID)),
			zap.String("item", item.ID))
	}

	return &PurchaseResult{
		Item:          *item,
		Balance:       res.Balance,
		ProfitPerHour: after.ProfitPerHour,
		Replayed:      res.Replayed,
	}, nil
}

// =============================================================================
// ADMIN CATALOG MANAGEMENT
// =============================================================================

// Save upserts a shop item.
func (s *Service) Save(ctx context.Context, item sqlite.ShopItemRecord) error {
	if item.ID == "" {
		return &ledger.InvalidOperationError{Field: "id", Detail: "must not be empty"}
	}
	if item.Cost <= 0 {
		return &ledger.InvalidOperationError{Field: "cost", Detail: "must be positive"}
	}
	if item.ProfitBoost.IsNegative() {
		return &ledger.InvalidOperationError{Field: "profitBoost", Detail: "must not be negative"}
	}
	return s.store.SaveShopItem(ctx, item)
}

// List returns the full catalog, including inactive items.
func (s *Service) List(ctx context.Context) ([]sqlite.ShopItemRecord, error) {
	return s.store.ListShopItems(ctx, false)
}

// Delete removes an item from the catalog.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteShopItem(ctx, id)
}
