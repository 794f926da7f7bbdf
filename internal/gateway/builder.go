// Package gateway assembles per-user engine dependencies: decrypted
// credentials, the exchange client, market data access and storage.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"tradecore/internal/balance"
	"tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/state"
	"tradecore/pkg/crypto"
	"tradecore/pkg/db"
	"tradecore/pkg/exchanges/binance/spot"
	"tradecore/pkg/exchanges/common"
	market "tradecore/pkg/market/binance"
)

// Options selects endpoints shared by every engine the builder makes.
type Options struct {
	Testnet   bool
	MarketURL string // REST market data base, empty for the public host
	StreamURL string // websocket base, empty for the public host
}

// Builder constructs ready-to-start engines for users from their
// persisted configuration.
type Builder struct {
	queries *db.UserQueries
	states  *state.Manager
	bus     *events.Bus
	keys    *crypto.KeyManager // nil means credentials are stored in plaintext
	opts    Options
}

func NewBuilder(queries *db.UserQueries, states *state.Manager, bus *events.Bus, keys *crypto.KeyManager, opts Options) *Builder {
	return &Builder{
		queries: queries,
		states:  states,
		bus:     bus,
		keys:    keys,
		opts:    opts,
	}
}

// ConfigFor loads and hydrates a user's engine configuration with
// credentials decrypted.
func (b *Builder) ConfigFor(ctx context.Context, userID string) (config.EngineConfig, error) {
	row, err := b.queries.GetBotConfig(ctx, userID)
	if err != nil {
		return config.EngineConfig{}, fmt.Errorf("load config: %w", err)
	}
	cfg := config.FromRow(row)

	cfg.APIKey, err = b.reveal(cfg.APIKey)
	if err != nil {
		return config.EngineConfig{}, fmt.Errorf("decrypt api key: %w", err)
	}
	cfg.APISecret, err = b.reveal(cfg.APISecret)
	if err != nil {
		return config.EngineConfig{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	return cfg, nil
}

// EngineFor builds a stopped engine wired with the user's exchange
// client, market data access and balance synchronizer.
func (b *Builder) EngineFor(ctx context.Context, userID string) (*engine.Engine, error) {
	cfg, err := b.ConfigFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return b.EngineFromConfig(cfg), nil
}

// EngineFromConfig builds an engine from an already hydrated config.
func (b *Builder) EngineFromConfig(cfg config.EngineConfig) *engine.Engine {
	gw := b.GatewayFromConfig(cfg)
	deps := engine.Deps{
		Gateway:    gw,
		MarketData: market.NewClient(b.opts.MarketURL, b.opts.Testnet),
		Streams:    market.NewStreamClient(b.opts.StreamURL, b.opts.Testnet),
		Queries:    b.queries,
		States:     b.states,
		Balances:   balance.New(cfg.UserID, cfg.Symbol, gw, b.queries),
		Bus:        b.bus,
	}
	return engine.New(cfg, deps)
}

// GatewayFromConfig builds the spot exchange client for one user.
func (b *Builder) GatewayFromConfig(cfg config.EngineConfig) common.Gateway {
	return spot.New(spot.Config{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.BaseURL,
		Testnet:   b.opts.Testnet,
	})
}

// Conceal encrypts a credential for storage when a key manager is
// configured; otherwise the value is stored as given.
func (b *Builder) Conceal(plaintext string) (string, error) {
	if b.keys == nil || plaintext == "" || strings.HasPrefix(plaintext, "ENC[v") {
		return plaintext, nil
	}
	return b.keys.Encrypt(plaintext)
}

// reveal decrypts a stored credential; plaintext values pass through
// so pre-encryption rows keep working.
func (b *Builder) reveal(stored string) (string, error) {
	if b.keys == nil || !strings.HasPrefix(stored, "ENC[v") {
		return stored, nil
	}
	return b.keys.Decrypt(stored)
}
