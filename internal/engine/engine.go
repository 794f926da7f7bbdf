// Package engine runs one isolated trading worker per user: price
// ingestion, the per-tick decision loop, and order execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tradecore/internal/balance"
	"tradecore/internal/coins"
	"tradecore/internal/config"
	"tradecore/internal/events"
	"tradecore/internal/state"
	"tradecore/pkg/db"
	"tradecore/pkg/exchanges/common"
	market "tradecore/pkg/market/binance"
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

const (
	checkpointInterval = 5 * time.Minute
	coinRefreshEvery   = 30 * time.Second
	minTradeInterval   = 5 * time.Second
	settleWait         = 2 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrNotRunning     = errors.New("engine is not running")
)

// Deps bundles everything an engine needs; the orchestration layer
// owns construction.
type Deps struct {
	Gateway    common.Gateway
	MarketData *market.Client
	Streams    *market.StreamClient
	Queries    *db.UserQueries
	States     *state.Manager
	Balances   *balance.Synchronizer
	Bus        *events.Bus
}

// Engine is one user's trading worker.
type Engine struct {
	cfg  config.EngineConfig
	deps Deps

	mu           sync.Mutex
	status       Status
	cancel       context.CancelFunc
	stream       *market.TickerStream
	pollingOnly  bool
	activeSymbol string
	positions    []db.Position
	dailyTrades  int
	dailyProfit  float64
	totalProfit  float64
	lastBuyTime  time.Time
	day          string

	coins *coins.Tracker

	tradeInFlight atomic.Bool
	lastTradeAt   atomic.Int64 // unix nanos of last execution
	lastTickAt    atomic.Int64 // unix nanos of last price sample
	forceRestart  atomic.Bool
}

// New builds a stopped engine for a validated config.
func New(cfg config.EngineConfig, deps Deps) *Engine {
	symbols := []string{cfg.Symbol}
	if cfg.TradingMode == config.ModeDynamic {
		symbols = cfg.DynamicSymbols
	}
	return &Engine{
		cfg:          cfg,
		deps:         deps,
		status:       StatusStopped,
		coins:        coins.NewTracker(symbols),
		activeSymbol: symbols[0],
	}
}

// UserID returns the owning user.
func (e *Engine) UserID() string { return e.cfg.UserID }

// Config returns the engine's configuration.
func (e *Engine) Config() config.EngineConfig { return e.cfg }

// Start validates, probes the exchange, restores state and launches
// the background loops. Starting a running engine returns
// ErrAlreadyRunning and changes nothing.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusStopped {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.status = StatusStarting
	e.mu.Unlock()
	e.publishStatus(StatusStarting)

	fail := func(err error) error {
		e.mu.Lock()
		e.status = StatusStopped
		e.mu.Unlock()
		e.publishStatus(StatusStopped)
		return err
	}

	if err := e.cfg.Validate(); err != nil {
		return fail(fmt.Errorf("config invalid: %w", err))
	}
	if err := e.deps.Gateway.Ping(ctx); err != nil {
		return fail(fmt.Errorf("exchange probe failed: %w", err))
	}

	if err := e.restore(ctx); err != nil {
		return fail(fmt.Errorf("restore state: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.cancel = cancel
	e.status = StatusRunning
	e.mu.Unlock()

	e.deps.Balances.Start(runCtx)
	go e.checkpointLoop(runCtx)
	go e.coinRefreshLoop(runCtx)
	go e.ingestLoop(runCtx)
	go e.watchdogLoop(runCtx)

	e.publishStatus(StatusRunning)
	e.logf("info", "engine started (%s mode, %s)", e.cfg.TradingMode, e.activeSymbol)

	if err := e.checkpoint(ctx, true); err != nil {
		log.Printf("[user %s] initial checkpoint failed: %v", e.cfg.UserID, err)
	}
	return nil
}

// Stop winds the engine down: cancels the loops, closes the socket
// and flushes a final running=false checkpoint. Stopping a stopped
// engine is a no-op. A trade already past order submission finishes
// its settlement before the executor notices cancellation.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusStopping
	cancel := e.cancel
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()
	e.publishStatus(StatusStopping)

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}

	if err := e.checkpoint(ctx, false); err != nil {
		log.Printf("[user %s] final checkpoint failed: %v", e.cfg.UserID, err)
	}

	e.mu.Lock()
	e.status = StatusStopped
	e.cancel = nil
	e.mu.Unlock()
	e.publishStatus(StatusStopped)
	e.logf("info", "engine stopped")
	return nil
}

// Shutdown is Stop for process exit: the final checkpoint keeps the
// running flag set so the next boot's recovery sweep restarts this
// engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.status != StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.status = StatusStopping
	cancel := e.cancel
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}

	if err := e.checkpoint(ctx, true); err != nil {
		log.Printf("[user %s] shutdown checkpoint failed: %v", e.cfg.UserID, err)
	}

	e.mu.Lock()
	e.status = StatusStopped
	e.cancel = nil
	e.mu.Unlock()
	e.logf("info", "engine shut down, will recover on next boot")
	return nil
}

// Snapshot is the engine's externally visible state.
type Snapshot struct {
	UserID       string        `json:"user_id"`
	Status       Status        `json:"status"`
	TradingMode  string        `json:"trading_mode"`
	ActiveSymbol string        `json:"active_symbol"`
	CurrentPrice float64       `json:"current_price"`
	DailyLow     float64       `json:"daily_low"`
	DailyHigh    float64       `json:"daily_high"`
	DailyTrades  int           `json:"daily_trades"`
	DailyProfit  float64       `json:"daily_profit"`
	TotalProfit  float64       `json:"total_profit"`
	Positions    []db.Position `json:"positions"`
	PollingOnly  bool          `json:"polling_only"`
	LastTick     time.Time     `json:"last_tick"`
}

// Status returns a point-in-time snapshot for the API.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		UserID:       e.cfg.UserID,
		Status:       e.status,
		TradingMode:  e.cfg.TradingMode,
		ActiveSymbol: e.activeSymbol,
		DailyTrades:  e.dailyTrades,
		DailyProfit:  e.dailyProfit,
		TotalProfit:  e.totalProfit,
		PollingOnly:  e.pollingOnly,
		Positions:    append([]db.Position(nil), e.positions...),
	}
	if c, ok := e.coins.Get(e.activeSymbol); ok {
		snap.CurrentPrice = c.Price
		snap.DailyLow = c.DailyLow
		snap.DailyHigh = c.DailyHigh
	}
	if ns := e.lastTickAt.Load(); ns > 0 {
		snap.LastTick = time.Unix(0, ns)
	}
	return snap
}

// restore loads the last checkpoint and open positions, discarding
// checkpoints too stale to trust.
func (e *Engine) restore(ctx context.Context) error {
	st, err := e.deps.States.Load(ctx, e.cfg.UserID)
	if err != nil {
		return err
	}

	open, err := e.deps.Queries.GetOpenPositions(ctx, e.cfg.UserID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.positions = open
	e.totalProfit = st.TotalProfit

	if state.IsRecoverable(st, time.Now()) {
		e.dailyTrades = st.DailyTrades
		e.lastBuyTime = st.LastBuyTime
		if st.ActiveSymbol != "" {
			if _, ok := e.coins.Get(st.ActiveSymbol); ok {
				e.activeSymbol = st.ActiveSymbol
			}
		}
		for _, pt := range st.PriceHistory {
			e.coins.Update(e.activeSymbol, pt.Price, pt.Time)
		}
		e.day = time.Now().Local().Format("2006-01-02")
		e.logf("info", "restored checkpoint: %d open positions, %d daily trades",
			len(open), st.DailyTrades)
	} else if !st.UpdatedAt.IsZero() {
		e.logf("warning", "checkpoint older than %s, starting a fresh day", state.RecoveryMaxAge)
	}
	return nil
}

// checkpoint writes the current runtime state.
func (e *Engine) checkpoint(ctx context.Context, running bool) error {
	e.mu.Lock()
	st := state.EngineState{
		UserID:       e.cfg.UserID,
		Running:      running,
		DailyTrades:  e.dailyTrades,
		TotalProfit:  e.totalProfit,
		ActiveSymbol: e.activeSymbol,
		LastBuyTime:  e.lastBuyTime,
		Positions:    append([]db.Position(nil), e.positions...),
	}
	if c, ok := e.coins.Get(e.activeSymbol); ok {
		st.CurrentPrice = c.Price
		st.DailyLow = c.DailyLow
		st.DailyHigh = c.DailyHigh
		st.PriceHistory = c.History
	}
	e.mu.Unlock()

	return e.deps.States.Save(ctx, st)
}

func (e *Engine) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.checkpoint(ctx, true); err != nil {
				log.Printf("[user %s] checkpoint failed: %v", e.cfg.UserID, err)
			}
		}
	}
}

// coinRefreshLoop pulls 24h statistics for the basket so the
// selector and the strategies see exchange-wide ranges, not only
// locally observed ticks.
func (e *Engine) coinRefreshLoop(ctx context.Context) {
	refresh := func() {
		symbols := e.coins.Symbols()
		tickers, err := e.deps.MarketData.GetTickers(ctx, symbols)
		if err != nil {
			log.Printf("[user %s] ticker refresh failed: %v", e.cfg.UserID, err)
			return
		}
		e.coins.ApplyTickers(tickers, time.Now())
		if e.cfg.TradingMode == config.ModeDynamic {
			e.publishCoins()
		}
	}

	refresh()
	ticker := time.NewTicker(coinRefreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func (e *Engine) publishStatus(s Status) {
	if e.deps.Bus == nil {
		return
	}
	e.deps.Bus.Publish(events.EventStatusChange, events.StatusChange{
		UserID: e.cfg.UserID,
		Status: string(s),
		Time:   time.Now(),
	})
}

func (e *Engine) publishCoins() {
	if e.deps.Bus == nil {
		return
	}
	all := e.coins.All()
	payload := make(map[string]any, len(all))
	for sym, c := range all {
		payload[sym] = map[string]any{
			"price":      c.Price,
			"daily_low":  c.DailyLow,
			"daily_high": c.DailyHigh,
			"change_24h": c.Change24h,
			"volume_24h": c.QuoteVol24h,
		}
	}
	e.deps.Bus.Publish(events.EventCoinsUpdate, events.CoinsUpdate{
		UserID: e.cfg.UserID,
		Coins:  payload,
		Time:   time.Now(),
	})
}

func (e *Engine) warn(code, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[user %s] warning: %s", e.cfg.UserID, msg)
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.EventWarning, events.Warning{
			UserID:  e.cfg.UserID,
			Code:    code,
			Message: msg,
			Time:    time.Now(),
		})
	}
}

func (e *Engine) logf(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[user %s] %s", e.cfg.UserID, msg)
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(events.EventLog, events.LogLine{
			UserID:  e.cfg.UserID,
			Level:   level,
			Message: msg,
			Time:    time.Now(),
		})
	}
}
