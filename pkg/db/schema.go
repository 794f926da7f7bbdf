package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    approved BOOLEAN DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS bot_configs (
    user_id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL DEFAULT 'BTCUSDT',
    trading_mode TEXT NOT NULL DEFAULT 'single',
    dynamic_symbols TEXT DEFAULT '',
    trade_amount_percent REAL DEFAULT 10.0,
    min_trade_amount REAL DEFAULT 5.0,
    max_trade_amount REAL DEFAULT 10000.0,
    daily_profit_target REAL DEFAULT 0.3,
    stop_loss_percent REAL DEFAULT 1.5,
    max_daily_trades INTEGER DEFAULT 3,
    min_daily_variation REAL DEFAULT 0.5,
    buy_threshold_from_low REAL DEFAULT 0.2,
    buy_on_drop_percent REAL DEFAULT 0.7,
    min_history INTEGER DEFAULT 20,
    trend_window INTEGER DEFAULT 10,
    buy_cooldown_seconds INTEGER DEFAULT 300,
    maker_fee REAL DEFAULT 0.001,
    taker_fee REAL DEFAULT 0.001,
    enable_reinforcement BOOLEAN DEFAULT 0,
    original_strategy_percent REAL DEFAULT 70,
    reinforcement_strategy_percent REAL DEFAULT 30,
    reinforcement_trigger_percent REAL DEFAULT 1.0,
    dip_threshold REAL DEFAULT -0.5,
    volume_floor REAL DEFAULT 1000000,
    api_key TEXT DEFAULT '',
    api_secret TEXT DEFAULT '',
    base_url TEXT DEFAULT '',
    poll_interval_seconds INTEGER DEFAULT 10,
    max_reconnect_attempts INTEGER DEFAULT 5,
    reconnect_delay_seconds INTEGER DEFAULT 5,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS bot_states (
    user_id TEXT PRIMARY KEY,
    running BOOLEAN DEFAULT 0,
    current_price REAL DEFAULT 0,
    daily_low REAL DEFAULT 0,
    daily_high REAL DEFAULT 0,
    daily_trades INTEGER DEFAULT 0,
    total_profit REAL DEFAULT 0,
    active_symbol TEXT DEFAULT '',
    last_buy_time DATETIME,
    price_history TEXT DEFAULT '[]',
    positions TEXT DEFAULT '[]',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS positions (
    order_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL DEFAULT 'BUY',
    qty REAL NOT NULL,
    price REAL NOT NULL,
    spent_usd REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'OPEN',
    strategy TEXT NOT NULL DEFAULT 'original',
    parent_order_id TEXT DEFAULT '',
    profit REAL DEFAULT 0,
    opened_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    closed_at DATETIME,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status);

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    order_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    fee REAL DEFAULT 0,
    profit REAL DEFAULT 0,
    strategy TEXT NOT NULL DEFAULT 'original',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_trades_user ON trades(user_id, created_at);

CREATE TABLE IF NOT EXISTS balances (
    user_id TEXT PRIMARY KEY,
    usdt REAL DEFAULT 0,
    asset TEXT DEFAULT '',
    asset_qty REAL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS daily_stats (
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,
    symbol TEXT DEFAULT '',
    trades INTEGER DEFAULT 0,
    profit REAL DEFAULT 0,
    daily_low REAL DEFAULT 0,
    daily_high REAL DEFAULT 0,
    PRIMARY KEY(user_id, date),
    FOREIGN KEY(user_id) REFERENCES users(id)
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "positions", "spent_usd", "REAL NOT NULL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "positions", "parent_order_id", "TEXT DEFAULT ''"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_configs", "dip_threshold", "REAL DEFAULT -0.5"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "bot_configs", "volume_floor", "REAL DEFAULT 1000000"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "trades", "strategy", "TEXT NOT NULL DEFAULT 'original'"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
