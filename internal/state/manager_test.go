package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradecore/internal/strategy"
	"tradecore/pkg/db"
)

func testDB(t *testing.T) (*db.Database, *db.UserQueries) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "state_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database, db.NewUserQueries(database.DB)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	_, queries := testDB(t)
	m := NewManager(queries)
	ctx := context.Background()

	buyTime := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	s := EngineState{
		UserID:       "user-1",
		Running:      true,
		CurrentPrice: 30100,
		DailyLow:     29800,
		DailyHigh:    30500,
		DailyTrades:  2,
		TotalProfit:  12.5,
		ActiveSymbol: "BTCUSDT",
		LastBuyTime:  buyTime,
		PriceHistory: []strategy.PricePoint{
			{Price: 30000, Time: buyTime},
			{Price: 30100, Time: buyTime.Add(time.Minute)},
		},
		Positions: []db.Position{{
			OrderID: "777", UserID: "user-1", Symbol: "BTCUSDT",
			Side: "BUY", Qty: 0.001, Price: 30000, SpentUSD: 30,
			Status: "OPEN", Strategy: "original",
		}},
	}

	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := m.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !got.Running || got.DailyTrades != 2 || got.ActiveSymbol != "BTCUSDT" {
		t.Errorf("scalar fields wrong: %+v", got)
	}
	if got.TotalProfit != 12.5 {
		t.Errorf("total profit = %v, want 12.5", got.TotalProfit)
	}
	if len(got.PriceHistory) != 2 || got.PriceHistory[1].Price != 30100 {
		t.Errorf("price history = %+v", got.PriceHistory)
	}
	if len(got.Positions) != 1 || got.Positions[0].SpentUSD != 30 {
		t.Errorf("positions = %+v", got.Positions)
	}
	if got.LastBuyTime.IsZero() {
		t.Error("last buy time lost in round trip")
	}
}

func TestLoadMissingRowReturnsDefault(t *testing.T) {
	_, queries := testDB(t)
	m := NewManager(queries)

	got, err := m.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID != "nobody" || got.Running || len(got.Positions) != 0 {
		t.Fatalf("default state wrong: %+v", got)
	}
}

func TestLoadCorruptJSONFallsBack(t *testing.T) {
	database, queries := testDB(t)
	m := NewManager(queries)
	ctx := context.Background()

	_, err := database.DB.Exec(`
		INSERT INTO bot_states (user_id, running, current_price, price_history, positions)
		VALUES ('user-2', 1, 100, '{not json', '[broken')
	`)
	if err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	got, err := m.Load(ctx, "user-2")
	if err != nil {
		t.Fatalf("Load must tolerate corrupt JSON, got %v", err)
	}
	if got.CurrentPrice != 100 {
		t.Errorf("scalar fields must survive: price = %v", got.CurrentPrice)
	}
	if got.PriceHistory != nil || got.Positions != nil {
		t.Errorf("corrupt collections must fall back empty: %+v", got)
	}
}

func TestSaveTruncatesHistory(t *testing.T) {
	_, queries := testDB(t)
	m := NewManager(queries)
	ctx := context.Background()

	s := Default("user-3")
	base := time.Now()
	for i := 0; i < MaxHistoryPoints+40; i++ {
		s.PriceHistory = append(s.PriceHistory, strategy.PricePoint{
			Price: float64(i), Time: base.Add(time.Duration(i) * time.Second),
		})
	}
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, "user-3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.PriceHistory) != MaxHistoryPoints {
		t.Fatalf("history length = %d, want %d", len(got.PriceHistory), MaxHistoryPoints)
	}
	// The newest samples survive.
	if got.PriceHistory[MaxHistoryPoints-1].Price != float64(MaxHistoryPoints+39) {
		t.Errorf("newest sample = %v", got.PriceHistory[MaxHistoryPoints-1].Price)
	}
}

func TestSetRunningKeepsCheckpoint(t *testing.T) {
	_, queries := testDB(t)
	m := NewManager(queries)
	ctx := context.Background()

	s := Default("user-4")
	s.Running = true
	s.TotalProfit = 5
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.SetRunning(ctx, "user-4", false); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}

	got, err := m.Load(ctx, "user-4")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Running {
		t.Error("running flag not cleared")
	}
	if got.TotalProfit != 5 {
		t.Errorf("total profit = %v, want untouched 5", got.TotalProfit)
	}
}

func TestIsRecoverable(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"one hour old", time.Hour, true},
		{"just inside cutoff", RecoveryMaxAge - time.Minute, true},
		{"at cutoff", RecoveryMaxAge, false},
		{"two days old", 48 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := EngineState{UpdatedAt: now.Add(-tt.age)}
			if got := IsRecoverable(s, now); got != tt.want {
				t.Fatalf("IsRecoverable(age=%v) = %v, want %v", tt.age, got, tt.want)
			}
		})
	}

	if IsRecoverable(EngineState{}, now) {
		t.Error("zero UpdatedAt must not be recoverable")
	}
}
