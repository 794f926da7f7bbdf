package api

import (
	"errors"
	"net/http"
	"strconv"

	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/pkg/db"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"success": false,
		"code":    code,
		"error":   msg,
	})
}

// startBot builds a fresh engine from the stored configuration and
// starts it. A running engine is left alone.
func (s *Server) startBot(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	user, err := s.Queries.GetUserByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "USER_NOT_FOUND", "user does not exist")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if !user.Approved {
		respondError(c, http.StatusForbidden, "NOT_APPROVED", "account is not approved for trading")
		return
	}

	if eng, ok := s.Registry.Get(userID); ok && eng.Status().Status != engine.StatusStopped {
		respondError(c, http.StatusConflict, "ALREADY_RUNNING", "engine is already running")
		return
	}

	eng, err := s.Builder.EngineFor(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusBadRequest, "NO_CONFIG", "save a configuration before starting")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if err := eng.Start(ctx); err != nil {
		if errors.Is(err, engine.ErrAlreadyRunning) {
			respondError(c, http.StatusConflict, "ALREADY_RUNNING", "engine is already running")
			return
		}
		respondError(c, http.StatusBadGateway, "START_FAILED", err.Error())
		return
	}
	s.Registry.Set(userID, eng)

	c.JSON(http.StatusOK, gin.H{"success": true, "status": eng.Status()})
}

// stopBot stops the user's engine. Stopping a stopped or absent
// engine succeeds and changes nothing.
func (s *Server) stopBot(c *gin.Context) {
	userID := CurrentUserID(c)

	eng, ok := s.Registry.Get(userID)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": gin.H{"status": engine.StatusStopped}})
		return
	}
	if err := eng.Stop(c.Request.Context()); err != nil {
		respondError(c, http.StatusInternalServerError, "STOP_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": eng.Status()})
}

func (s *Server) forceCheck(c *gin.Context) {
	eng, ok := s.Registry.Get(CurrentUserID(c))
	if !ok {
		respondError(c, http.StatusConflict, "NOT_RUNNING", "engine is not running")
		return
	}
	if err := eng.ForceCheck(c.Request.Context()); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			respondError(c, http.StatusConflict, "NOT_RUNNING", "engine is not running")
			return
		}
		respondError(c, http.StatusBadGateway, "CHECK_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) closePositions(c *gin.Context) {
	eng, ok := s.Registry.Get(CurrentUserID(c))
	if !ok {
		respondError(c, http.StatusConflict, "NOT_RUNNING", "engine is not running")
		return
	}
	if err := eng.CloseAllPositions(c.Request.Context()); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			respondError(c, http.StatusConflict, "NOT_RUNNING", "engine is not running")
			return
		}
		respondError(c, http.StatusBadGateway, "CLOSE_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": eng.Status()})
}

// getStatus reports the live engine snapshot, or the last checkpoint
// when no engine is loaded.
func (s *Server) getStatus(c *gin.Context) {
	userID := CurrentUserID(c)

	if eng, ok := s.Registry.Get(userID); ok {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": eng.Status()})
		return
	}

	st, err := s.Queries.GetBotState(c.Request.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": gin.H{
			"user_id": userID,
			"status":  engine.StatusStopped,
		}})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": gin.H{
		"user_id":       userID,
		"status":        engine.StatusStopped,
		"active_symbol": st.ActiveSymbol,
		"total_profit":  st.TotalProfit,
		"updated_at":    st.UpdatedAt,
	}})
}

func (s *Server) getConfig(c *gin.Context) {
	userID := CurrentUserID(c)

	row, err := s.Queries.GetBotConfig(c.Request.Context(), userID)
	if errors.Is(err, db.ErrNotFound) {
		base := config.Default(userID)
		if name := c.Query("preset"); name != "" {
			for _, p := range s.Presets {
				if p.Name == name {
					base = p.Apply(base)
					break
				}
			}
		}
		row = base.ToRow()
	} else if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// Credentials never leave the server; report presence only.
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"config":          row,
		"has_credentials": row.APIKey != "" && row.APISecret != "",
	})
}

// configRequest mirrors db.BotConfig with credentials accepted on the
// way in. Omitted credentials keep the stored ones.
type configRequest struct {
	Symbol         string `json:"symbol"`
	TradingMode    string `json:"trading_mode"`
	DynamicSymbols string `json:"dynamic_symbols"`

	TradeAmountPercent float64 `json:"trade_amount_percent"`
	MinTradeAmount     float64 `json:"min_trade_amount"`
	MaxTradeAmount     float64 `json:"max_trade_amount"`

	DailyProfitTarget   float64 `json:"daily_profit_target"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	MaxDailyTrades      int     `json:"max_daily_trades"`
	MinDailyVariation   float64 `json:"min_daily_variation"`
	BuyThresholdFromLow float64 `json:"buy_threshold_from_low"`
	BuyOnDropPercent    float64 `json:"buy_on_drop_percent"`
	MinHistory          int     `json:"min_history"`
	TrendWindow         int     `json:"trend_window"`
	BuyCooldownSeconds  int     `json:"buy_cooldown_seconds"`
	MakerFee            float64 `json:"maker_fee"`
	TakerFee            float64 `json:"taker_fee"`

	EnableReinforcement          bool    `json:"enable_reinforcement"`
	OriginalStrategyPercent      float64 `json:"original_strategy_percent"`
	ReinforcementStrategyPercent float64 `json:"reinforcement_strategy_percent"`
	ReinforcementTriggerPercent  float64 `json:"reinforcement_trigger_percent"`

	DipThreshold float64 `json:"dip_threshold"`
	VolumeFloor  float64 `json:"volume_floor"`

	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`

	PollIntervalSeconds   int `json:"poll_interval_seconds"`
	MaxReconnectAttempts  int `json:"max_reconnect_attempts"`
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds"`
}

func (r configRequest) toRow(userID string) *db.BotConfig {
	return &db.BotConfig{
		UserID:         userID,
		Symbol:         r.Symbol,
		TradingMode:    r.TradingMode,
		DynamicSymbols: r.DynamicSymbols,

		TradeAmountPercent: r.TradeAmountPercent,
		MinTradeAmount:     r.MinTradeAmount,
		MaxTradeAmount:     r.MaxTradeAmount,

		DailyProfitTarget:   r.DailyProfitTarget,
		StopLossPercent:     r.StopLossPercent,
		MaxDailyTrades:      r.MaxDailyTrades,
		MinDailyVariation:   r.MinDailyVariation,
		BuyThresholdFromLow: r.BuyThresholdFromLow,
		BuyOnDropPercent:    r.BuyOnDropPercent,
		MinHistory:          r.MinHistory,
		TrendWindow:         r.TrendWindow,
		BuyCooldownSeconds:  r.BuyCooldownSeconds,
		MakerFee:            r.MakerFee,
		TakerFee:            r.TakerFee,

		EnableReinforcement:          r.EnableReinforcement,
		OriginalStrategyPercent:      r.OriginalStrategyPercent,
		ReinforcementStrategyPercent: r.ReinforcementStrategyPercent,
		ReinforcementTriggerPercent:  r.ReinforcementTriggerPercent,

		DipThreshold: r.DipThreshold,
		VolumeFloor:  r.VolumeFloor,

		APIKey:    r.APIKey,
		APISecret: r.APISecret,
		BaseURL:   r.BaseURL,

		PollIntervalSeconds:   r.PollIntervalSeconds,
		MaxReconnectAttempts:  r.MaxReconnectAttempts,
		ReconnectDelaySeconds: r.ReconnectDelaySeconds,
	}
}

// updateConfig validates and persists a new engine configuration.
// A running engine keeps its current config until restarted.
func (s *Server) updateConfig(c *gin.Context) {
	userID := CurrentUserID(c)
	ctx := c.Request.Context()

	var req configRequest
	if err := c.BindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	row := req.toRow(userID)

	// Keep stored credentials when the request omits them.
	if row.APIKey == "" || row.APISecret == "" {
		existing, err := s.Queries.GetBotConfig(ctx, userID)
		if err == nil {
			if row.APIKey == "" {
				row.APIKey = existing.APIKey
			}
			if row.APISecret == "" {
				row.APISecret = existing.APISecret
			}
		}
	}

	if err := config.FromRow(row).Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
		return
	}

	var err error
	if row.APIKey, err = s.Builder.Conceal(row.APIKey); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if row.APISecret, err = s.Builder.Conceal(row.APISecret); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if err := s.Queries.SaveBotConfig(ctx, row); err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	restartNeeded := false
	if eng, ok := s.Registry.Get(userID); ok && eng.Status().Status == engine.StatusRunning {
		restartNeeded = true
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "restart_required": restartNeeded})
}

func (s *Server) getTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	trades, err := s.Queries.GetRecentTrades(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trades": trades})
}

func (s *Server) getBalance(c *gin.Context) {
	b, err := s.Queries.GetBalance(c.Request.Context(), CurrentUserID(c))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"success": true, "balance": db.Balance{UserID: CurrentUserID(c)}})
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "balance": b})
}

func (s *Server) getPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "presets": s.Presets})
}

func (s *Server) getRecoveryStatus(c *gin.Context) {
	resp := gin.H{"success": true, "in_progress": s.Recovery.InProgress()}
	if last, ok := s.Recovery.LastResult(); ok {
		resp["last"] = last
	}
	c.JSON(http.StatusOK, resp)
}

// forceRecover re-runs recovery for the calling user only.
func (s *Server) forceRecover(c *gin.Context) {
	userID := CurrentUserID(c)

	if err := s.Recovery.ForceRecoverUser(c.Request.Context(), userID); err != nil {
		respondError(c, http.StatusBadGateway, "RECOVERY_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
