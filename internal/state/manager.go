// Package state checkpoints engine runtime state so a restart can
// resume mid-day without losing positions or price context.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"tradecore/internal/strategy"
	"tradecore/pkg/db"
)

// RecoveryMaxAge is the staleness cutoff: checkpoints older than this
// restore as a fresh day instead.
const RecoveryMaxAge = 24 * time.Hour

// MaxHistoryPoints bounds persisted price history.
const MaxHistoryPoints = 100

// EngineState is one engine's resumable runtime state.
type EngineState struct {
	UserID       string
	Running      bool
	CurrentPrice float64
	DailyLow     float64
	DailyHigh    float64
	DailyTrades  int
	TotalProfit  float64
	ActiveSymbol string
	LastBuyTime  time.Time // zero when never bought
	PriceHistory []strategy.PricePoint
	Positions    []db.Position
	UpdatedAt    time.Time
}

// Default returns the empty state for a user.
func Default(userID string) EngineState {
	return EngineState{UserID: userID}
}

// Manager persists and restores engine checkpoints.
type Manager struct {
	queries *db.UserQueries
}

func NewManager(queries *db.UserQueries) *Manager {
	return &Manager{queries: queries}
}

// Save writes a checkpoint, truncating price history to the last
// MaxHistoryPoints samples.
func (m *Manager) Save(ctx context.Context, s EngineState) error {
	if s.UserID == "" {
		return db.ErrUserIDRequired
	}

	history := s.PriceHistory
	if len(history) > MaxHistoryPoints {
		history = history[len(history)-MaxHistoryPoints:]
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal price history: %w", err)
	}
	positionsJSON, err := json.Marshal(s.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions: %w", err)
	}

	row := &db.BotState{
		UserID:       s.UserID,
		Running:      s.Running,
		CurrentPrice: s.CurrentPrice,
		DailyLow:     s.DailyLow,
		DailyHigh:    s.DailyHigh,
		DailyTrades:  s.DailyTrades,
		TotalProfit:  s.TotalProfit,
		ActiveSymbol: s.ActiveSymbol,
		PriceHistory: string(historyJSON),
		Positions:    string(positionsJSON),
	}
	if !s.LastBuyTime.IsZero() {
		t := s.LastBuyTime
		row.LastBuyTime = &t
	}
	return m.queries.SaveBotState(ctx, row)
}

// Load restores a checkpoint. A missing row returns the default
// state; corrupted JSON columns fall back to empty collections so a
// bad checkpoint never blocks recovery.
func (m *Manager) Load(ctx context.Context, userID string) (EngineState, error) {
	row, err := m.queries.GetBotState(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return EngineState{}, err
	}

	s := EngineState{
		UserID:       row.UserID,
		Running:      row.Running,
		CurrentPrice: row.CurrentPrice,
		DailyLow:     row.DailyLow,
		DailyHigh:    row.DailyHigh,
		DailyTrades:  row.DailyTrades,
		TotalProfit:  row.TotalProfit,
		ActiveSymbol: row.ActiveSymbol,
		UpdatedAt:    row.UpdatedAt,
	}
	if row.LastBuyTime != nil {
		s.LastBuyTime = *row.LastBuyTime
	}
	s.PriceHistory = parseHistory(userID, row.PriceHistory)
	s.Positions = parsePositions(userID, row.Positions)
	return s, nil
}

// SetRunning flips only the running flag without rewriting the
// checkpoint body.
func (m *Manager) SetRunning(ctx context.Context, userID string, running bool) error {
	return m.queries.SetRunning(ctx, userID, running)
}

// IsRecoverable reports whether a checkpoint is fresh enough to
// resume from.
func IsRecoverable(s EngineState, now time.Time) bool {
	if s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) < RecoveryMaxAge
}

func parseHistory(userID, raw string) []strategy.PricePoint {
	if raw == "" {
		return nil
	}
	var history []strategy.PricePoint
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		log.Printf("[user %s] corrupt price history in checkpoint, starting empty: %v", userID, err)
		return nil
	}
	return history
}

func parsePositions(userID, raw string) []db.Position {
	if raw == "" {
		return nil
	}
	var positions []db.Position
	if err := json.Unmarshal([]byte(raw), &positions); err != nil {
		log.Printf("[user %s] corrupt positions in checkpoint, starting empty: %v", userID, err)
		return nil
	}
	return positions
}
