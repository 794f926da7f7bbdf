package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/balance"
	"tradecore/internal/coins"
	"tradecore/internal/config"
	"tradecore/internal/events"
	"tradecore/internal/strategy"
	"tradecore/pkg/db"
	"tradecore/pkg/exchanges/common"
)

func (e *Engine) params() strategy.Params {
	return strategy.Params{
		MinHistory:          e.cfg.MinHistory,
		MinDailyVariation:   e.cfg.MinDailyVariation,
		BuyThresholdFromLow: e.cfg.BuyThresholdFromLow,
		BuyOnDropPercent:    e.cfg.BuyOnDropPercent,
		TrendWindow:         e.cfg.TrendWindow,
		BuyCooldown:         e.cfg.BuyCooldown,

		ProfitTarget: e.cfg.DailyProfitTarget,
		StopLoss:     e.cfg.StopLossPercent,
		TakerFee:     e.cfg.TakerFee,

		ReinforcementTrigger: e.cfg.ReinforcementTriggerPercent,
	}
}

// onTick is the strict per-tick sequence: date rollover, coin state
// already folded in by the caller, sell check (which short-circuits
// the buy path), then at most one buy. One trade per tick, total.
func (e *Engine) onTick(ctx context.Context, symbol string, price float64, now time.Time) {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return
	}
	e.rolloverLocked(ctx, now)
	positions := append([]db.Position(nil), e.positions...)
	lastBuy := e.lastBuyTime
	dailyTrades := e.dailyTrades
	e.mu.Unlock()

	// Sell side first; an exit always outranks an entry.
	for _, pos := range positions {
		if pos.Symbol != symbol {
			continue
		}
		d := strategy.EvaluateSell(e.params(), pos.Price, pos.SpentUSD, pos.Qty, price)
		if d.Sell {
			e.tryExecute(func() { e.executeSell(ctx, pos, price, d) })
			return
		}

		// Holding: a deep enough drawdown may arm the reinforcement
		// entry for the original position.
		if e.cfg.EnableReinforcement &&
			pos.Strategy == strategy.StrategyOriginal &&
			!e.hasReinforcement(positions, pos.OrderID) {
			if ok, reason := strategy.ShouldReinforce(e.params(), pos.Price, price); ok {
				e.tryExecute(func() {
					e.executeBuy(ctx, symbol, strategy.StrategyReinforcement, reason, pos.OrderID)
				})
				return
			}
		}
		return // position open on this symbol, never stack an entry
	}

	// Buy side. A single original position at a time.
	if e.hasOriginalPosition(positions) {
		return
	}
	if dailyTrades >= e.cfg.MaxDailyTrades {
		return
	}

	candidate := symbol
	if e.cfg.TradingMode == config.ModeDynamic {
		exclude := make(map[string]bool, len(positions))
		for _, p := range positions {
			exclude[p.Symbol] = true
		}
		picked, ok := e.coins.Pick(coins.Criteria{
			MinDailyVariation: e.cfg.MinDailyVariation,
			DipThreshold:      e.cfg.DipThreshold,
			VolumeFloor:       e.cfg.VolumeFloor,
			NearLowBandPct:    e.cfg.BuyThresholdFromLow,
			Exclude:           exclude,
		})
		if !ok || picked != symbol {
			return
		}
		candidate = picked
	} else if symbol != e.cfg.Symbol {
		return
	}

	c, ok := e.coins.Get(candidate)
	if !ok {
		return
	}
	d := strategy.EvaluateBuy(e.params(), c.Snapshot(now, lastBuy))
	if !d.Buy {
		return
	}
	e.tryExecute(func() {
		e.executeBuy(ctx, candidate, strategy.StrategyOriginal, d.Reason, "")
	})
}

// tryExecute serializes order execution: one trade in flight and a
// minimum spacing between executions. Returns false when skipped.
func (e *Engine) tryExecute(fn func()) bool {
	if last := e.lastTradeAt.Load(); last > 0 && time.Since(time.Unix(0, last)) < minTradeInterval {
		return false
	}
	if !e.tradeInFlight.CompareAndSwap(false, true) {
		return false
	}
	defer e.tradeInFlight.Store(false)
	e.lastTradeAt.Store(time.Now().UnixNano())
	fn()
	return true
}

func (e *Engine) executeBuy(ctx context.Context, symbol, strategyName, reason, parentOrderID string) {
	available := e.deps.Balances.USDT()
	amount, ok := balance.TradeAmount(available, e.cfg.TradeAmountPercent, e.cfg.MinTradeAmount, e.cfg.MaxTradeAmount)
	if !ok {
		e.warn("insufficient_balance", "buy refused: balance %.2f USDT cannot fund the minimum trade", available)
		return
	}
	if e.cfg.EnableReinforcement {
		alloc := e.cfg.OriginalStrategyPercent
		if strategyName == strategy.StrategyReinforcement {
			alloc = e.cfg.ReinforcementStrategyPercent
		}
		amount = amount * alloc / 100
	}

	filters, err := e.deps.Gateway.Filters(ctx, symbol)
	if err != nil {
		e.logf("error", "buy aborted, trading rules unavailable for %s: %v", symbol, err)
		return
	}
	if filters.MinNotional > 0 && amount < filters.MinNotional {
		e.warn("below_min_notional", "buy refused: %.2f USDT under %s min notional %.2f", amount, symbol, filters.MinNotional)
		return
	}

	res, err := e.deps.Gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol:   symbol,
		Side:     common.SideBuy,
		Type:     common.OrderTypeMarket,
		QuoteQty: amount,
	})
	if err != nil {
		e.logf("error", "buy order failed on %s: %v", symbol, err)
		return
	}

	// The order reached the exchange. Settlement and persistence must
	// outlive engine shutdown or the fill would vanish on restart.
	ctx = context.WithoutCancel(ctx)

	// Let the fill settle, then refresh balances off the exchange.
	time.Sleep(settleWait)
	if err := e.deps.Balances.Sync(ctx); err != nil {
		e.logf("warning", "post-buy balance sync failed: %v", err)
	}

	// The executed quote amount is the authoritative cost basis.
	spent := res.ExecutedQuote
	if spent <= 0 {
		spent = amount
	}

	pos := db.Position{
		OrderID:       res.ExchangeOrderID,
		UserID:        e.cfg.UserID,
		Symbol:        symbol,
		Side:          string(common.SideBuy),
		Qty:           res.ExecutedQty,
		Price:         res.AvgPrice,
		SpentUSD:      spent,
		Status:        "OPEN",
		Strategy:      strategyName,
		ParentOrderID: parentOrderID,
		OpenedAt:      time.Now(),
	}
	if err := e.deps.Queries.SavePosition(ctx, &pos); err != nil {
		e.logf("error", "persist position %s failed: %v", pos.OrderID, err)
	}
	trade := db.Trade{
		ID:       uuid.NewString(),
		OrderID:  res.ExchangeOrderID,
		UserID:   e.cfg.UserID,
		Symbol:   symbol,
		Side:     string(common.SideBuy),
		Qty:      res.ExecutedQty,
		Price:    res.AvgPrice,
		Fee:      spent * e.cfg.TakerFee,
		Strategy: strategyName,
	}
	if err := e.deps.Queries.SaveTrade(ctx, &trade); err != nil {
		e.logf("error", "persist trade failed: %v", err)
	}

	now := time.Now()
	e.mu.Lock()
	e.positions = append(e.positions, pos)
	e.dailyTrades++
	e.lastBuyTime = now
	e.activeSymbol = symbol
	e.mu.Unlock()
	e.deps.Balances.SetSymbol(symbol)

	e.publishTrade(events.TradeExecuted{
		UserID:   e.cfg.UserID,
		Symbol:   symbol,
		Side:     string(common.SideBuy),
		Qty:      res.ExecutedQty,
		Price:    res.AvgPrice,
		Reason:   reason,
		Strategy: strategyName,
		Time:     now,
	})
	e.logf("success", "bought %s %s: %.8f @ %.8f, spent %.2f USDT (%s)",
		symbol, strategyName, res.ExecutedQty, res.AvgPrice, spent, reason)

	if err := e.checkpoint(ctx, true); err != nil {
		e.logf("warning", "post-buy checkpoint failed: %v", err)
	}
}

func (e *Engine) executeSell(ctx context.Context, pos db.Position, price float64, d strategy.SellDecision) {
	// Re-read the real base balance; recorded quantity may exceed it
	// after fees paid in the base asset or external withdrawals.
	if err := e.deps.Balances.Sync(ctx); err != nil {
		e.logf("warning", "pre-sell balance sync failed: %v", err)
	}
	real := e.deps.Balances.AssetQty()

	qty := pos.Qty
	if real > 0 && qty > real {
		qty = real * 0.99
		e.warn("quantity_trimmed", "sell qty trimmed from %.8f to %.8f on %s to match exchange balance",
			pos.Qty, qty, pos.Symbol)
	}

	filters, err := e.deps.Gateway.Filters(ctx, pos.Symbol)
	if err != nil {
		e.logf("error", "sell aborted, trading rules unavailable for %s: %v", pos.Symbol, err)
		return
	}
	qty = common.RoundQty(qty, filters)
	if qty <= 0 || (filters.MinNotional > 0 && qty*price < filters.MinNotional) {
		e.warn("below_min_notional", "sell aborted on %s: %.8f @ %.8f under min notional", pos.Symbol, qty, price)
		return
	}

	res, err := e.deps.Gateway.SubmitOrder(ctx, common.OrderRequest{
		Symbol: pos.Symbol,
		Side:   common.SideSell,
		Type:   common.OrderTypeMarket,
		Qty:    qty,
	})
	if err != nil {
		e.logf("error", "sell order failed on %s: %v", pos.Symbol, err)
		return
	}

	// Executed on the exchange; persistence must outlive shutdown.
	ctx = context.WithoutCancel(ctx)

	time.Sleep(settleWait)
	if err := e.deps.Balances.Sync(ctx); err != nil {
		e.logf("warning", "post-sell balance sync failed: %v", err)
	}

	sellValue := res.ExecutedQuote
	if sellValue <= 0 {
		sellValue = qty * price
	}
	fees := pos.SpentUSD*e.cfg.TakerFee + sellValue*e.cfg.TakerFee
	profit := sellValue - pos.SpentUSD - fees

	if err := e.deps.Queries.ClosePosition(ctx, e.cfg.UserID, pos.OrderID, profit); err != nil {
		e.logf("error", "close position %s failed: %v", pos.OrderID, err)
	}
	trade := db.Trade{
		ID:       uuid.NewString(),
		OrderID:  res.ExchangeOrderID,
		UserID:   e.cfg.UserID,
		Symbol:   pos.Symbol,
		Side:     string(common.SideSell),
		Qty:      res.ExecutedQty,
		Price:    res.AvgPrice,
		Fee:      sellValue * e.cfg.TakerFee,
		Profit:   profit,
		Strategy: pos.Strategy,
	}
	if err := e.deps.Queries.SaveTrade(ctx, &trade); err != nil {
		e.logf("error", "persist trade failed: %v", err)
	}

	now := time.Now()
	e.mu.Lock()
	e.removePositionLocked(pos.OrderID)
	e.dailyTrades++
	e.dailyProfit += profit
	e.totalProfit += profit
	e.mu.Unlock()

	e.publishTrade(events.TradeExecuted{
		UserID:   e.cfg.UserID,
		Symbol:   pos.Symbol,
		Side:     string(common.SideSell),
		Qty:      res.ExecutedQty,
		Price:    res.AvgPrice,
		Profit:   profit,
		Reason:   d.Code,
		Strategy: pos.Strategy,
		Time:     now,
	})
	e.logf("success", "sold %s: %.8f @ %.8f, profit %.2f USDT (%s)",
		pos.Symbol, res.ExecutedQty, res.AvgPrice, profit, d.Reason)

	if err := e.checkpoint(ctx, true); err != nil {
		e.logf("warning", "post-sell checkpoint failed: %v", err)
	}
}

// ForceCheck runs one decision pass immediately against the latest
// known prices, outside the tick cadence.
func (e *Engine) ForceCheck(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	symbol := e.activeSymbol
	e.mu.Unlock()

	c, ok := e.coins.Get(symbol)
	if !ok || c.Price <= 0 {
		return fmt.Errorf("no price data for %s yet", symbol)
	}
	e.onTick(ctx, symbol, c.Price, time.Now())
	return nil
}

// CloseAllPositions exits every open position at market, ignoring
// strategy signals. Partial failures leave the rest untouched.
func (e *Engine) CloseAllPositions(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	positions := append([]db.Position(nil), e.positions...)
	e.mu.Unlock()

	if len(positions) == 0 {
		return nil
	}

	var firstErr error
	for _, pos := range positions {
		c, ok := e.coins.Get(pos.Symbol)
		if !ok || c.Price <= 0 {
			if firstErr == nil {
				firstErr = fmt.Errorf("no price for %s", pos.Symbol)
			}
			continue
		}
		d := strategy.SellDecision{Sell: true, Code: "manual_close", Reason: "close all positions"}
		if !e.tryExecute(func() { e.executeSell(ctx, pos, c.Price, d) }) {
			if firstErr == nil {
				firstErr = fmt.Errorf("executor busy, position %s left open", pos.OrderID)
			}
		}
	}
	return firstErr
}

// rolloverLocked resets daily counters when the local date changes
// and persists the finished day's stats. Caller holds e.mu.
func (e *Engine) rolloverLocked(ctx context.Context, now time.Time) {
	day := now.Local().Format("2006-01-02")
	if e.day == day {
		return
	}

	if e.day != "" {
		stat := &db.DailyStat{
			UserID: e.cfg.UserID,
			Date:   e.day,
			Symbol: e.activeSymbol,
			Trades: e.dailyTrades,
			Profit: e.dailyProfit,
		}
		if c, ok := e.coins.Get(e.activeSymbol); ok {
			stat.DailyLow = c.DailyLow
			stat.DailyHigh = c.DailyHigh
		}
		// Detached from the run context so a shutdown racing the
		// rollover cannot drop the finished day's stats.
		statCtx := context.WithoutCancel(ctx)
		go func() {
			if err := e.deps.Queries.SaveDailyStats(statCtx, stat); err != nil {
				e.logf("warning", "persist daily stats for %s failed: %v", stat.Date, err)
			}
		}()
	}

	e.day = day
	e.dailyTrades = 0
	e.dailyProfit = 0
}

func (e *Engine) removePositionLocked(orderID string) {
	for i, p := range e.positions {
		if p.OrderID == orderID {
			e.positions = append(e.positions[:i], e.positions[i+1:]...)
			return
		}
	}
}

func (e *Engine) hasOriginalPosition(positions []db.Position) bool {
	for _, p := range positions {
		if p.Strategy == strategy.StrategyOriginal {
			return true
		}
	}
	return false
}

func (e *Engine) hasReinforcement(positions []db.Position, parentOrderID string) bool {
	for _, p := range positions {
		if p.ParentOrderID == parentOrderID && p.Strategy == strategy.StrategyReinforcement {
			return true
		}
	}
	return false
}

func (e *Engine) publishTrade(t events.TradeExecuted) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(events.EventTradeExecuted, t)
}
