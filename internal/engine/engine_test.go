package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tradecore/internal/balance"
	"tradecore/internal/config"
	"tradecore/internal/state"
	"tradecore/pkg/db"
	"tradecore/pkg/exchanges/common"
	market "tradecore/pkg/market/binance"
)

type stubGateway struct {
	mu      sync.Mutex
	orders  []common.OrderRequest
	results []common.OrderResult

	pingErr  error
	balances map[string]common.AssetBalance
	filters  common.SymbolFilters
	onSubmit func() // runs once an order has been accepted
}

func (g *stubGateway) Ping(ctx context.Context) error { return g.pingErr }

func (g *stubGateway) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if len(g.results) == 0 {
		return common.OrderResult{}, errors.New("no stubbed result")
	}
	res := g.results[0]
	g.results = g.results[1:]
	if g.onSubmit != nil {
		g.onSubmit()
	}
	return res, nil
}

func (g *stubGateway) Balances(ctx context.Context, assets ...string) (map[string]common.AssetBalance, error) {
	out := make(map[string]common.AssetBalance, len(assets))
	for _, a := range assets {
		out[a] = g.balances[a]
	}
	return out, nil
}

func (g *stubGateway) Filters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	return g.filters, nil
}

func (g *stubGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

func marketServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/ticker/price":
			w.Write([]byte(`[{"symbol":"BTCUSDT","price":"100.0"}]`))
		case "/api/v3/ticker/24hr":
			w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"100.0","highPrice":"102.0","lowPrice":"99.5","priceChangePercent":"-1.2","quoteVolume":"5000000","closeTime":1700000000000}]`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(userID string) config.EngineConfig {
	cfg := config.Default(userID)
	cfg.APIKey = "k"
	cfg.APISecret = "s"
	cfg.MinHistory = 5
	cfg.TrendWindow = 4
	cfg.BuyThresholdFromLow = 0.3
	cfg.MaxReconnectAttempts = 1
	cfg.ReconnectDelay = time.Millisecond
	cfg.PollInterval = 50 * time.Millisecond
	return cfg
}

func testEngine(t *testing.T, cfg config.EngineConfig, gw *stubGateway) *Engine {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "engine_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	queries := db.NewUserQueries(database.DB)

	srv := marketServer(t)
	deps := Deps{
		Gateway:    gw,
		MarketData: market.NewClient(srv.URL, false),
		Streams:    market.NewStreamClient("ws://127.0.0.1:1", false),
		Queries:    queries,
		States:     state.NewManager(queries),
		Balances:   balance.New(cfg.UserID, cfg.Symbol, gw, queries),
	}
	return New(cfg, deps)
}

func defaultStub() *stubGateway {
	return &stubGateway{
		balances: map[string]common.AssetBalance{
			"USDT": {Asset: "USDT", Free: 1000},
			"BTC":  {Asset: "BTC", Free: 2},
		},
		filters: common.SymbolFilters{
			Symbol: "BTCUSDT", StepSize: 0.00001, MinQty: 0.00001,
			MinNotional: 5, QtyDecimals: 5,
		},
	}
}

func TestStartStopLifecycle(t *testing.T) {
	e := testEngine(t, testConfig("user-1"), defaultStub())
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if got := e.Status().Status; got != StatusRunning {
		t.Fatalf("status = %s, want running", got)
	}

	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("second Stop = %v, want nil", err)
	}
	if got := e.Status().Status; got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}

	// The cycle is restartable.
	if err := e.Start(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
	e.Stop(ctx)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig("user-1")
	cfg.APIKey = ""
	e := testEngine(t, cfg, defaultStub())

	err := e.Start(context.Background())
	if !errors.Is(err, config.ErrCredentialsNeeded) {
		t.Fatalf("Start = %v, want credentials error", err)
	}
	if got := e.Status().Status; got != StatusStopped {
		t.Fatalf("status after failed start = %s, want stopped", got)
	}
}

func TestStartRejectsUnreachableExchange(t *testing.T) {
	gw := defaultStub()
	gw.pingErr = errors.New("connection refused")
	e := testEngine(t, testConfig("user-1"), gw)

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded against an unreachable exchange")
	}
	if got := e.Status().Status; got != StatusStopped {
		t.Fatalf("status after failed start = %s, want stopped", got)
	}
}

func TestTryExecuteThrottle(t *testing.T) {
	e := testEngine(t, testConfig("user-1"), defaultStub())

	ran := 0
	if !e.tryExecute(func() { ran++ }) {
		t.Fatal("first execution refused")
	}
	if e.tryExecute(func() { ran++ }) {
		t.Fatal("execution inside the minimum interval was not refused")
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}

	e.lastTradeAt.Store(time.Now().Add(-time.Minute).UnixNano())
	e.tradeInFlight.Store(true)
	if e.tryExecute(func() { ran++ }) {
		t.Fatal("overlapping execution was not refused")
	}
}

// seedBuyableHistory feeds a price path that satisfies the primary
// entry: range established, price near the daily low, rising tail.
func seedBuyableHistory(e *Engine, now time.Time) {
	prices := []float64{102, 100.0, 99.9, 99.95, 100.0, 100.05, 100.1}
	for i, p := range prices {
		e.coins.Update("BTCUSDT", p, now.Add(time.Duration(i-len(prices))*time.Second))
	}
}

func TestOnTickBuysAndRecordsPosition(t *testing.T) {
	gw := defaultStub()
	gw.results = []common.OrderResult{{
		ExchangeOrderID: "1001",
		Status:          common.StatusFilled,
		ExecutedQty:     0.999,
		ExecutedQuote:   99.95,
		AvgPrice:        100.05,
	}}
	e := testEngine(t, testConfig("user-1"), gw)
	ctx := context.Background()

	if err := e.deps.Balances.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	now := time.Now()
	seedBuyableHistory(e, now)
	e.mu.Lock()
	e.status = StatusRunning
	e.mu.Unlock()

	e.onTick(ctx, "BTCUSDT", 100.1, now)

	if gw.orderCount() != 1 {
		t.Fatalf("orders = %d, want 1", gw.orderCount())
	}
	snap := e.Status()
	if len(snap.Positions) != 1 {
		t.Fatalf("positions = %d, want 1", len(snap.Positions))
	}
	pos := snap.Positions[0]
	if pos.SpentUSD != 99.95 {
		t.Errorf("spent = %v, want executed quote 99.95", pos.SpentUSD)
	}
	if snap.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1", snap.DailyTrades)
	}

	open, err := e.deps.Queries.GetOpenPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 1 || open[0].OrderID != "1001" {
		t.Fatalf("persisted positions = %+v, want one with order 1001", open)
	}
}

// A shutdown racing a fill must not lose the position: once the
// order is accepted, settlement and the durable writes run detached
// from the tick context.
func TestBuySurvivesCancelAfterFill(t *testing.T) {
	gw := defaultStub()
	gw.results = []common.OrderResult{{
		ExchangeOrderID: "9001",
		Status:          common.StatusFilled,
		ExecutedQty:     0.999,
		ExecutedQuote:   99.95,
		AvgPrice:        100.05,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	gw.onSubmit = cancel

	e := testEngine(t, testConfig("user-1"), gw)
	if err := e.deps.Balances.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	now := time.Now()
	seedBuyableHistory(e, now)
	e.mu.Lock()
	e.status = StatusRunning
	e.mu.Unlock()

	e.onTick(ctx, "BTCUSDT", 100.1, now)

	if gw.orderCount() != 1 {
		t.Fatalf("orders = %d, want 1", gw.orderCount())
	}
	open, err := e.deps.Queries.GetOpenPositions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 1 || open[0].OrderID != "9001" {
		t.Fatalf("persisted positions = %+v, want the filled order 9001", open)
	}
	trades, err := e.deps.Queries.GetRecentTrades(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("persisted trades = %d, want 1", len(trades))
	}
}

func TestSellSurvivesCancelAfterFill(t *testing.T) {
	gw := defaultStub()
	gw.results = []common.OrderResult{{
		ExchangeOrderID: "9002",
		Status:          common.StatusFilled,
		ExecutedQty:     1,
		ExecutedQuote:   100.9,
		AvgPrice:        100.9,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	gw.onSubmit = cancel

	e := testEngine(t, testConfig("user-1"), gw)
	pos := db.Position{
		OrderID: "1001", UserID: "user-1", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 1, Price: 100, SpentUSD: 100,
		Status: "OPEN", Strategy: "original", OpenedAt: time.Now(),
	}
	if err := e.deps.Queries.SavePosition(context.Background(), &pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	now := time.Now()
	e.coins.Update("BTCUSDT", 101, now)
	e.mu.Lock()
	e.status = StatusRunning
	e.positions = []db.Position{pos}
	e.mu.Unlock()

	e.onTick(ctx, "BTCUSDT", 101, now)

	if gw.orderCount() != 1 {
		t.Fatalf("orders = %d, want 1", gw.orderCount())
	}
	open, err := e.deps.Queries.GetOpenPositions(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("persisted open positions = %d, want 0 after the exit", len(open))
	}
	trades, err := e.deps.Queries.GetRecentTrades(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("trades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("persisted trades = %d, want 1", len(trades))
	}
}

func TestOnTickRefusesSecondOriginalPosition(t *testing.T) {
	gw := defaultStub()
	e := testEngine(t, testConfig("user-1"), gw)
	ctx := context.Background()

	now := time.Now()
	seedBuyableHistory(e, now)
	e.mu.Lock()
	e.status = StatusRunning
	e.positions = []db.Position{{
		OrderID: "1", UserID: "user-1", Symbol: "ETHUSDT",
		Strategy: "original", Status: "OPEN", Price: 2000, SpentUSD: 100, Qty: 0.05,
	}}
	e.mu.Unlock()

	e.onTick(ctx, "BTCUSDT", 100.1, now)

	if gw.orderCount() != 0 {
		t.Fatalf("orders = %d, want 0 while an original position is open", gw.orderCount())
	}
}

func TestOnTickSellsAtProfitTarget(t *testing.T) {
	gw := defaultStub()
	gw.results = []common.OrderResult{{
		ExchangeOrderID: "2001",
		Status:          common.StatusFilled,
		ExecutedQty:     1,
		ExecutedQuote:   100.9,
		AvgPrice:        100.9,
	}}
	e := testEngine(t, testConfig("user-1"), gw)
	ctx := context.Background()

	pos := db.Position{
		OrderID: "1001", UserID: "user-1", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 1, Price: 100, SpentUSD: 100,
		Status: "OPEN", Strategy: "original", OpenedAt: time.Now(),
	}
	if err := e.deps.Queries.SavePosition(ctx, &pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	now := time.Now()
	e.coins.Update("BTCUSDT", 101, now)
	e.mu.Lock()
	e.status = StatusRunning
	e.positions = []db.Position{pos}
	e.mu.Unlock()

	// Net of both taker legs, 101 clears the 0.3% target.
	e.onTick(ctx, "BTCUSDT", 101, now)

	if gw.orderCount() != 1 {
		t.Fatalf("orders = %d, want 1", gw.orderCount())
	}
	snap := e.Status()
	if len(snap.Positions) != 0 {
		t.Fatalf("positions = %d, want 0 after exit", len(snap.Positions))
	}
	if snap.DailyProfit <= 0 {
		t.Errorf("daily profit = %v, want positive", snap.DailyProfit)
	}

	open, err := e.deps.Queries.GetOpenPositions(ctx, "user-1")
	if err != nil {
		t.Fatalf("open positions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("persisted open positions = %d, want 0", len(open))
	}
}

func TestOnTickHoldsBelowProfitTarget(t *testing.T) {
	gw := defaultStub()
	e := testEngine(t, testConfig("user-1"), gw)
	ctx := context.Background()

	now := time.Now()
	e.coins.Update("BTCUSDT", 100.1, now)
	e.mu.Lock()
	e.status = StatusRunning
	e.positions = []db.Position{{
		OrderID: "1001", UserID: "user-1", Symbol: "BTCUSDT",
		Qty: 1, Price: 100, SpentUSD: 100, Status: "OPEN", Strategy: "original",
	}}
	e.mu.Unlock()

	// 0.1% raw is under the target once fees are paid; no exit, and
	// the open position also blocks a new entry.
	e.onTick(ctx, "BTCUSDT", 100.1, now)

	if gw.orderCount() != 0 {
		t.Fatalf("orders = %d, want 0", gw.orderCount())
	}
}

func TestCloseAllPositions(t *testing.T) {
	gw := defaultStub()
	gw.results = []common.OrderResult{{
		ExchangeOrderID: "3001",
		Status:          common.StatusFilled,
		ExecutedQty:     1,
		ExecutedQuote:   99,
		AvgPrice:        99,
	}}
	e := testEngine(t, testConfig("user-1"), gw)
	ctx := context.Background()

	pos := db.Position{
		OrderID: "1001", UserID: "user-1", Symbol: "BTCUSDT",
		Side: "BUY", Qty: 1, Price: 100, SpentUSD: 100,
		Status: "OPEN", Strategy: "original", OpenedAt: time.Now(),
	}
	if err := e.deps.Queries.SavePosition(ctx, &pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	e.coins.Update("BTCUSDT", 99, time.Now())
	e.mu.Lock()
	e.status = StatusRunning
	e.positions = []db.Position{pos}
	e.mu.Unlock()

	if err := e.CloseAllPositions(ctx); err != nil {
		t.Fatalf("CloseAllPositions: %v", err)
	}
	if gw.orderCount() != 1 {
		t.Fatalf("orders = %d, want 1", gw.orderCount())
	}
	if got := len(e.Status().Positions); got != 0 {
		t.Fatalf("positions = %d, want 0", got)
	}
}

func TestCloseAllPositionsRequiresRunning(t *testing.T) {
	e := testEngine(t, testConfig("user-1"), defaultStub())
	if err := e.CloseAllPositions(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
}

func TestRolloverResetsDailyCounters(t *testing.T) {
	e := testEngine(t, testConfig("user-1"), defaultStub())

	e.mu.Lock()
	e.day = "2024-06-01"
	e.dailyTrades = 3
	e.dailyProfit = 4.2
	e.rolloverLocked(context.Background(), time.Now())
	trades, profit, day := e.dailyTrades, e.dailyProfit, e.day
	e.mu.Unlock()

	if trades != 0 || profit != 0 {
		t.Fatalf("counters = %d/%.2f, want 0/0 after rollover", trades, profit)
	}
	if day != time.Now().Local().Format("2006-01-02") {
		t.Fatalf("day = %s, want today", day)
	}
}

// A rollover racing shutdown still records the finished day: the
// stats write is detached from the run context.
func TestRolloverPersistsStatsAfterCancel(t *testing.T) {
	e := testEngine(t, testConfig("user-1"), defaultStub())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e.mu.Lock()
	e.day = "2024-06-01"
	e.dailyTrades = 3
	e.dailyProfit = 4.2
	e.rolloverLocked(ctx, time.Now())
	e.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		stats, err := e.deps.Queries.GetDailyStats(context.Background(), "user-1", 5)
		if err != nil {
			t.Fatalf("daily stats: %v", err)
		}
		if len(stats) == 1 {
			if stats[0].Date != "2024-06-01" || stats[0].Trades != 3 {
				t.Fatalf("persisted stat = %+v, want 2024-06-01 with 3 trades", stats[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("finished day's stats never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	e := testEngine(t, testConfig("user-1"), defaultStub())

	if _, ok := r.Get("user-1"); ok {
		t.Fatal("empty registry returned an engine")
	}
	r.Set("user-1", e)
	if got, ok := r.Get("user-1"); !ok || got != e {
		t.Fatal("Get did not return the stored engine")
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
	r.Remove("user-1")
	if _, ok := r.Get("user-1"); ok {
		t.Fatal("Remove left the engine behind")
	}
}

func TestStreamStale(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		last int64
		want bool
	}{
		{"no tick yet", 0, false},
		{"fresh tick", now.Add(-time.Second).UnixNano(), false},
		{"at the boundary", now.Add(-staleAfter).UnixNano(), false},
		{"past the boundary", now.Add(-staleAfter - time.Second).UnixNano(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := streamStale(tt.last, now); got != tt.want {
				t.Fatalf("streamStale = %v, want %v", got, tt.want)
			}
		})
	}
}
