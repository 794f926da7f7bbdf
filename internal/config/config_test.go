package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tradecore/pkg/db"
)

func validConfig() EngineConfig {
	c := Default("user-1")
	c.APIKey = "k"
	c.APISecret = "s"
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr bool
	}{
		{"defaults with credentials", func(c *EngineConfig) {}, false},
		{"missing credentials", func(c *EngineConfig) { c.APIKey = "" }, true},
		{"missing symbol", func(c *EngineConfig) { c.Symbol = "" }, true},
		{"bad trading mode", func(c *EngineConfig) { c.TradingMode = "turbo" }, true},
		{"dynamic without basket", func(c *EngineConfig) { c.TradingMode = ModeDynamic }, true},
		{"dynamic with basket", func(c *EngineConfig) {
			c.TradingMode = ModeDynamic
			c.DynamicSymbols = []string{"BTCUSDT", "ETHUSDT"}
		}, false},
		{"trade percent over 100", func(c *EngineConfig) { c.TradeAmountPercent = 150 }, true},
		{"max below min", func(c *EngineConfig) { c.MaxTradeAmount = 1 }, true},
		{"tiny history", func(c *EngineConfig) { c.MinHistory = 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReinforcementAllocation(t *testing.T) {
	tests := []struct {
		name     string
		original float64
		reinf    float64
		wantErr  bool
	}{
		{"70/30 ok", 70, 30, false},
		{"50/50 ok", 50, 50, false},
		{"does not sum to 100", 70, 40, true},
		{"original below 10", 5, 95, true},
		{"original above 90", 95, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.EnableReinforcement = true
			c.OriginalStrategyPercent = tt.original
			c.ReinforcementStrategyPercent = tt.reinf
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisabledReinforcementIgnoresAllocation(t *testing.T) {
	c := validConfig()
	c.EnableReinforcement = false
	c.OriginalStrategyPercent = 95
	c.ReinforcementStrategyPercent = 95
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v, allocation must only bind when enabled", err)
	}
}

func TestValidateMissingCredentialsSentinel(t *testing.T) {
	c := validConfig()
	c.APISecret = ""
	if err := c.Validate(); !errors.Is(err, ErrCredentialsNeeded) {
		t.Fatalf("Validate() = %v, want ErrCredentialsNeeded", err)
	}
}

func TestFromRowAppliesDefaults(t *testing.T) {
	row := &db.BotConfig{UserID: "user-2", Symbol: "ethusdt"}
	c := FromRow(row)

	if c.Symbol != "ETHUSDT" {
		t.Errorf("symbol = %s, want uppercased ETHUSDT", c.Symbol)
	}
	if c.TradeAmountPercent != 10 {
		t.Errorf("trade amount percent = %v, want default 10", c.TradeAmountPercent)
	}
	if c.BuyCooldown != 5*time.Minute {
		t.Errorf("buy cooldown = %v, want default 5m", c.BuyCooldown)
	}
	if c.DipThreshold != -0.5 {
		t.Errorf("dip threshold = %v, want default -0.5", c.DipThreshold)
	}
}

func TestFromRowParsesDynamicSymbols(t *testing.T) {
	row := &db.BotConfig{
		UserID:         "user-3",
		TradingMode:    ModeDynamic,
		DynamicSymbols: "btcusdt, ethusdt,,SOLUSDT",
	}
	c := FromRow(row)

	want := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	if len(c.DynamicSymbols) != len(want) {
		t.Fatalf("dynamic symbols = %v, want %v", c.DynamicSymbols, want)
	}
	for i := range want {
		if c.DynamicSymbols[i] != want[i] {
			t.Errorf("symbol[%d] = %s, want %s", i, c.DynamicSymbols[i], want[i])
		}
	}
}

func TestRowRoundTrip(t *testing.T) {
	c := validConfig()
	c.TradingMode = ModeDynamic
	c.DynamicSymbols = []string{"BTCUSDT", "ETHUSDT"}
	c.BuyCooldown = 90 * time.Second
	c.DipThreshold = -1.2

	back := FromRow(c.ToRow())
	back.APIKey, back.APISecret = c.APIKey, c.APISecret

	if back.BuyCooldown != c.BuyCooldown {
		t.Errorf("cooldown round trip = %v, want %v", back.BuyCooldown, c.BuyCooldown)
	}
	if back.DipThreshold != c.DipThreshold {
		t.Errorf("dip threshold round trip = %v, want %v", back.DipThreshold, c.DipThreshold)
	}
	if len(back.DynamicSymbols) != 2 {
		t.Errorf("dynamic symbols round trip = %v", back.DynamicSymbols)
	}
}

func TestLoadPresets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	content := `presets:
  - name: conservative
    daily_profit_target: 0.2
    stop_loss_percent: 1.0
    max_daily_trades: 2
  - name: aggressive
    trade_amount_percent: 25
    buy_on_drop_percent: 1.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	presets, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	if len(presets) != 2 {
		t.Fatalf("got %d presets, want 2", len(presets))
	}

	c := presets[0].Apply(validConfig())
	if c.DailyProfitTarget != 0.2 {
		t.Errorf("profit target = %v, want 0.2", c.DailyProfitTarget)
	}
	if c.StopLossPercent != 1.0 {
		t.Errorf("stop loss = %v, want 1.0", c.StopLossPercent)
	}
	// Untouched fields keep defaults.
	if c.TradeAmountPercent != 10 {
		t.Errorf("trade amount percent = %v, want untouched 10", c.TradeAmountPercent)
	}
}
