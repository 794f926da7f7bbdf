// Package db provides user-isolated database queries for multi-tenant architecture.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
)

// UserQueries provides user-isolated database queries.
type UserQueries struct {
	db *sql.DB
}

// NewUserQueries creates a new UserQueries instance.
func NewUserQueries(db *sql.DB) *UserQueries {
	return &UserQueries{db: db}
}

// ----------------------------------------
// User Queries
// ----------------------------------------

// GetUserByID returns a user by id, ErrNotFound when absent.
func (q *UserQueries) GetUserByID(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var u User
	err := q.db.QueryRowContext(ctx, `
		SELECT id, username, approved, created_at, updated_at
		FROM users
		WHERE id = ?
	`, userID).Scan(&u.ID, &u.Username, &u.Approved, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// UpsertUser creates a user row or updates its username/approval.
func (q *UserQueries) UpsertUser(ctx context.Context, u *User) error {
	if u == nil || u.ID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, username, approved, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			approved = excluded.approved,
			updated_at = CURRENT_TIMESTAMP
	`, u.ID, u.Username, u.Approved)
	return err
}

// ListRunningUsers returns ids of users whose last checkpoint says
// the engine was running. Used by auto recovery after a restart.
func (q *UserQueries) ListRunningUsers(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id FROM bot_states WHERE running = 1 ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query running users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ----------------------------------------
// Config Queries
// ----------------------------------------

// GetBotConfig returns the persisted engine config for a user.
func (q *UserQueries) GetBotConfig(ctx context.Context, userID string) (*BotConfig, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var c BotConfig
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, symbol, trading_mode, dynamic_symbols,
			trade_amount_percent, min_trade_amount, max_trade_amount,
			daily_profit_target, stop_loss_percent, max_daily_trades,
			min_daily_variation, buy_threshold_from_low, buy_on_drop_percent,
			min_history, trend_window, buy_cooldown_seconds,
			maker_fee, taker_fee,
			enable_reinforcement, original_strategy_percent,
			reinforcement_strategy_percent, reinforcement_trigger_percent,
			dip_threshold, volume_floor,
			api_key, api_secret, base_url,
			poll_interval_seconds, max_reconnect_attempts, reconnect_delay_seconds,
			updated_at
		FROM bot_configs
		WHERE user_id = ?
	`, userID).Scan(
		&c.UserID, &c.Symbol, &c.TradingMode, &c.DynamicSymbols,
		&c.TradeAmountPercent, &c.MinTradeAmount, &c.MaxTradeAmount,
		&c.DailyProfitTarget, &c.StopLossPercent, &c.MaxDailyTrades,
		&c.MinDailyVariation, &c.BuyThresholdFromLow, &c.BuyOnDropPercent,
		&c.MinHistory, &c.TrendWindow, &c.BuyCooldownSeconds,
		&c.MakerFee, &c.TakerFee,
		&c.EnableReinforcement, &c.OriginalStrategyPercent,
		&c.ReinforcementStrategyPercent, &c.ReinforcementTriggerPercent,
		&c.DipThreshold, &c.VolumeFloor,
		&c.APIKey, &c.APISecret, &c.BaseURL,
		&c.PollIntervalSeconds, &c.MaxReconnectAttempts, &c.ReconnectDelaySeconds,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bot config: %w", err)
	}
	return &c, nil
}

// SaveBotConfig creates or replaces the engine config row for a user.
func (q *UserQueries) SaveBotConfig(ctx context.Context, c *BotConfig) error {
	if c == nil || c.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bot_configs (
			user_id, symbol, trading_mode, dynamic_symbols,
			trade_amount_percent, min_trade_amount, max_trade_amount,
			daily_profit_target, stop_loss_percent, max_daily_trades,
			min_daily_variation, buy_threshold_from_low, buy_on_drop_percent,
			min_history, trend_window, buy_cooldown_seconds,
			maker_fee, taker_fee,
			enable_reinforcement, original_strategy_percent,
			reinforcement_strategy_percent, reinforcement_trigger_percent,
			dip_threshold, volume_floor,
			api_key, api_secret, base_url,
			poll_interval_seconds, max_reconnect_attempts, reconnect_delay_seconds,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			symbol = excluded.symbol,
			trading_mode = excluded.trading_mode,
			dynamic_symbols = excluded.dynamic_symbols,
			trade_amount_percent = excluded.trade_amount_percent,
			min_trade_amount = excluded.min_trade_amount,
			max_trade_amount = excluded.max_trade_amount,
			daily_profit_target = excluded.daily_profit_target,
			stop_loss_percent = excluded.stop_loss_percent,
			max_daily_trades = excluded.max_daily_trades,
			min_daily_variation = excluded.min_daily_variation,
			buy_threshold_from_low = excluded.buy_threshold_from_low,
			buy_on_drop_percent = excluded.buy_on_drop_percent,
			min_history = excluded.min_history,
			trend_window = excluded.trend_window,
			buy_cooldown_seconds = excluded.buy_cooldown_seconds,
			maker_fee = excluded.maker_fee,
			taker_fee = excluded.taker_fee,
			enable_reinforcement = excluded.enable_reinforcement,
			original_strategy_percent = excluded.original_strategy_percent,
			reinforcement_strategy_percent = excluded.reinforcement_strategy_percent,
			reinforcement_trigger_percent = excluded.reinforcement_trigger_percent,
			dip_threshold = excluded.dip_threshold,
			volume_floor = excluded.volume_floor,
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			base_url = excluded.base_url,
			poll_interval_seconds = excluded.poll_interval_seconds,
			max_reconnect_attempts = excluded.max_reconnect_attempts,
			reconnect_delay_seconds = excluded.reconnect_delay_seconds,
			updated_at = CURRENT_TIMESTAMP
	`,
		c.UserID, c.Symbol, c.TradingMode, c.DynamicSymbols,
		c.TradeAmountPercent, c.MinTradeAmount, c.MaxTradeAmount,
		c.DailyProfitTarget, c.StopLossPercent, c.MaxDailyTrades,
		c.MinDailyVariation, c.BuyThresholdFromLow, c.BuyOnDropPercent,
		c.MinHistory, c.TrendWindow, c.BuyCooldownSeconds,
		c.MakerFee, c.TakerFee,
		c.EnableReinforcement, c.OriginalStrategyPercent,
		c.ReinforcementStrategyPercent, c.ReinforcementTriggerPercent,
		c.DipThreshold, c.VolumeFloor,
		c.APIKey, c.APISecret, c.BaseURL,
		c.PollIntervalSeconds, c.MaxReconnectAttempts, c.ReconnectDelaySeconds,
	)
	return err
}

// ----------------------------------------
// State Queries
// ----------------------------------------

// GetBotState returns the last engine checkpoint for a user.
func (q *UserQueries) GetBotState(ctx context.Context, userID string) (*BotState, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var s BotState
	var lastBuy sql.NullTime
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, running, current_price, daily_low, daily_high,
			daily_trades, total_profit, active_symbol, last_buy_time,
			price_history, positions, updated_at
		FROM bot_states
		WHERE user_id = ?
	`, userID).Scan(
		&s.UserID, &s.Running, &s.CurrentPrice, &s.DailyLow, &s.DailyHigh,
		&s.DailyTrades, &s.TotalProfit, &s.ActiveSymbol, &lastBuy,
		&s.PriceHistory, &s.Positions, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bot state: %w", err)
	}
	if lastBuy.Valid {
		t := lastBuy.Time
		s.LastBuyTime = &t
	}
	return &s, nil
}

// SaveBotState writes a full engine checkpoint row for a user.
func (q *UserQueries) SaveBotState(ctx context.Context, s *BotState) error {
	if s == nil || s.UserID == "" {
		return ErrUserIDRequired
	}

	var lastBuy interface{}
	if s.LastBuyTime != nil {
		lastBuy = *s.LastBuyTime
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bot_states (
			user_id, running, current_price, daily_low, daily_high,
			daily_trades, total_profit, active_symbol, last_buy_time,
			price_history, positions, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			running = excluded.running,
			current_price = excluded.current_price,
			daily_low = excluded.daily_low,
			daily_high = excluded.daily_high,
			daily_trades = excluded.daily_trades,
			total_profit = excluded.total_profit,
			active_symbol = excluded.active_symbol,
			last_buy_time = excluded.last_buy_time,
			price_history = excluded.price_history,
			positions = excluded.positions,
			updated_at = CURRENT_TIMESTAMP
	`,
		s.UserID, s.Running, s.CurrentPrice, s.DailyLow, s.DailyHigh,
		s.DailyTrades, s.TotalProfit, s.ActiveSymbol, lastBuy,
		s.PriceHistory, s.Positions,
	)
	return err
}

// SetRunning flips only the running flag, keeping the rest of the
// checkpoint intact. Recovery uses this to mark failed users stopped.
func (q *UserQueries) SetRunning(ctx context.Context, userID string, running bool) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO bot_states (user_id, running, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			running = excluded.running,
			updated_at = CURRENT_TIMESTAMP
	`, userID, running)
	return err
}

// ----------------------------------------
// Position Queries
// ----------------------------------------

// GetOpenPositions returns open positions for a user, oldest first.
func (q *UserQueries) GetOpenPositions(ctx context.Context, userID string) ([]Position, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT order_id, user_id, symbol, side, qty, price, spent_usd,
			status, strategy, COALESCE(parent_order_id, ''), profit, opened_at
		FROM positions
		WHERE user_id = ? AND status = 'OPEN'
		ORDER BY opened_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.OrderID, &p.UserID, &p.Symbol, &p.Side, &p.Qty,
			&p.Price, &p.SpentUSD, &p.Status, &p.Strategy, &p.ParentOrderID,
			&p.Profit, &p.OpenedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// SavePosition inserts a newly opened position.
func (q *UserQueries) SavePosition(ctx context.Context, p *Position) error {
	if p == nil || p.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO positions (
			order_id, user_id, symbol, side, qty, price, spent_usd,
			status, strategy, parent_order_id, opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 'OPEN', ?, ?, CURRENT_TIMESTAMP)
	`, p.OrderID, p.UserID, p.Symbol, p.Side, p.Qty, p.Price, p.SpentUSD,
		p.Strategy, p.ParentOrderID)
	return err
}

// ClosePosition marks a position closed and records realized profit.
func (q *UserQueries) ClosePosition(ctx context.Context, userID, orderID string, profit float64) error {
	if userID == "" {
		return ErrUserIDRequired
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE positions
		SET status = 'CLOSED', profit = ?, closed_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND order_id = ? AND status = 'OPEN'
	`, profit, userID, orderID)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// ----------------------------------------
// Trade Queries
// ----------------------------------------

// SaveTrade appends an executed fill to trade history.
func (q *UserQueries) SaveTrade(ctx context.Context, t *Trade) error {
	if t == nil || t.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, user_id, symbol, side, qty, price, fee, profit, strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.OrderID, t.UserID, t.Symbol, t.Side, t.Qty, t.Price, t.Fee, t.Profit, t.Strategy)
	return err
}

// GetRecentTrades returns the latest trades for a user, newest first.
func (q *UserQueries) GetRecentTrades(ctx context.Context, userID string, limit int) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, order_id, user_id, symbol, side, qty, price, fee, profit, strategy, created_at
		FROM trades
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &t.Side,
			&t.Qty, &t.Price, &t.Fee, &t.Profit, &t.Strategy, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Balance Queries
// ----------------------------------------

// UpdateBalance writes the latest synced balances for a user.
func (q *UserQueries) UpdateBalance(ctx context.Context, b *Balance) error {
	if b == nil || b.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO balances (user_id, usdt, asset, asset_qty, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			usdt = excluded.usdt,
			asset = excluded.asset,
			asset_qty = excluded.asset_qty,
			updated_at = CURRENT_TIMESTAMP
	`, b.UserID, b.USDT, b.Asset, b.AssetQty)
	return err
}

// GetBalance returns the last synced balances for a user.
func (q *UserQueries) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	var b Balance
	err := q.db.QueryRowContext(ctx, `
		SELECT user_id, usdt, asset, asset_qty, updated_at
		FROM balances
		WHERE user_id = ?
	`, userID).Scan(&b.UserID, &b.USDT, &b.Asset, &b.AssetQty, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return &b, nil
}

// ----------------------------------------
// Daily Stats Queries
// ----------------------------------------

// SaveDailyStats upserts the stats row for one user and local date.
func (q *UserQueries) SaveDailyStats(ctx context.Context, s *DailyStat) error {
	if s == nil || s.UserID == "" {
		return ErrUserIDRequired
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO daily_stats (user_id, date, symbol, trades, profit, daily_low, daily_high)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			symbol = excluded.symbol,
			trades = excluded.trades,
			profit = excluded.profit,
			daily_low = excluded.daily_low,
			daily_high = excluded.daily_high
	`, s.UserID, s.Date, s.Symbol, s.Trades, s.Profit, s.DailyLow, s.DailyHigh)
	return err
}

// GetDailyStats returns the most recent daily rows for one user.
func (q *UserQueries) GetDailyStats(ctx context.Context, userID string, limit int) ([]DailyStat, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id, date, symbol, trades, profit, daily_low, daily_high
		FROM daily_stats
		WHERE user_id = ?
		ORDER BY date DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []DailyStat
	for rows.Next() {
		var s DailyStat
		if err := rows.Scan(&s.UserID, &s.Date, &s.Symbol, &s.Trades, &s.Profit, &s.DailyLow, &s.DailyHigh); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
