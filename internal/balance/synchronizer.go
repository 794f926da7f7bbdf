// Package balance keeps one user's exchange balances cached locally
// and sizes trades against them.
package balance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tradecore/pkg/db"
	"tradecore/pkg/exchanges/common"
)

// DefaultSyncInterval is how often balances refresh in the background.
const DefaultSyncInterval = 5 * time.Minute

// quoteAssets lists suffixes recognized when splitting a symbol.
var quoteAssets = []string{"USDT", "FDUSD", "USDC", "BUSD", "BTC", "ETH"}

// Synchronizer caches USDT and base-asset balances for one user.
type Synchronizer struct {
	userID   string
	asset    string // base asset of the active symbol
	gateway  common.Gateway
	queries  *db.UserQueries
	interval time.Duration

	mu       sync.RWMutex
	usdt     float64
	assetQty float64
	lastSync time.Time

	syncing atomic.Bool
}

// New creates a synchronizer for one user and trading symbol.
func New(userID, symbol string, gateway common.Gateway, queries *db.UserQueries) *Synchronizer {
	return &Synchronizer{
		userID:   userID,
		asset:    BaseAsset(symbol),
		gateway:  gateway,
		queries:  queries,
		interval: DefaultSyncInterval,
	}
}

// SetSymbol switches the tracked base asset, used in dynamic mode
// when the active symbol changes.
func (s *Synchronizer) SetSymbol(symbol string) {
	s.mu.Lock()
	s.asset = BaseAsset(symbol)
	s.mu.Unlock()
}

// Start syncs once and then refreshes periodically until ctx ends.
func (s *Synchronizer) Start(ctx context.Context) {
	if err := s.Sync(ctx); err != nil {
		log.Printf("[user %s] initial balance sync failed: %v", s.userID, err)
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sync(ctx); err != nil {
					log.Printf("[user %s] balance sync failed: %v", s.userID, err)
				}
			}
		}
	}()
}

// Sync fetches fresh balances from the exchange and persists them.
// Overlapping syncs are suppressed; the second caller returns nil
// and keeps the cached values.
func (s *Synchronizer) Sync(ctx context.Context) error {
	if !s.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.syncing.Store(false)

	s.mu.RLock()
	asset := s.asset
	s.mu.RUnlock()

	balances, err := s.gateway.Balances(ctx, "USDT", asset)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	s.mu.Lock()
	s.usdt = balances["USDT"].Free
	s.assetQty = balances[asset].Free
	s.lastSync = time.Now()
	usdt, qty := s.usdt, s.assetQty
	s.mu.Unlock()

	if s.queries != nil {
		if err := s.queries.UpdateBalance(ctx, &db.Balance{
			UserID:   s.userID,
			USDT:     usdt,
			Asset:    asset,
			AssetQty: qty,
		}); err != nil {
			log.Printf("[user %s] persist balance failed: %v", s.userID, err)
		}
	}
	return nil
}

// USDT returns the cached free quote balance.
func (s *Synchronizer) USDT() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usdt
}

// AssetQty returns the cached free base-asset balance.
func (s *Synchronizer) AssetQty() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assetQty
}

// LastSync reports when balances were last refreshed.
func (s *Synchronizer) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// Sufficient reports whether the cached quote balance covers the
// required amount.
func (s *Synchronizer) Sufficient(required float64) bool {
	return s.USDT() >= required
}

// TradeAmount sizes a buy from the available balance: percent of
// balance clamped to [min, max], never exceeding 99% of the balance.
// ok is false when even the cap cannot reach the minimum, in which
// case the trade must be refused.
func TradeAmount(available, percent, min, max float64) (amount float64, ok bool) {
	if available <= 0 || percent <= 0 {
		return 0, false
	}

	amount = available * percent / 100
	if amount < min {
		amount = min
	}
	if amount > max {
		amount = max
	}

	ceiling := available * 0.99
	if amount > ceiling {
		amount = ceiling
	}
	if amount < min {
		return 0, false
	}
	return amount, true
}

// BaseAsset splits the base asset off a trading symbol, e.g.
// BTCUSDT -> BTC. Unknown quotes return the symbol unchanged.
func BaseAsset(symbol string) string {
	sym := strings.ToUpper(symbol)
	for _, q := range quoteAssets {
		if strings.HasSuffix(sym, q) && len(sym) > len(q) {
			return strings.TrimSuffix(sym, q)
		}
	}
	return sym
}
