// Package recovery restarts the engines of users that were running
// before the process died.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tradecore/internal/engine"
	"tradecore/internal/gateway"
	"tradecore/pkg/db"
)

var (
	ErrInProgress  = errors.New("recovery already in progress")
	ErrNotApproved = errors.New("user is not approved")
)

// Result summarizes one recovery sweep.
type Result struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Attempted  int               `json:"attempted"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
}

// Orchestrator rebuilds and restarts engines flagged running in the
// database. Users are recovered sequentially; one user's failure
// never blocks the rest.
type Orchestrator struct {
	queries  *db.UserQueries
	builder  *gateway.Builder
	registry *engine.Registry

	mu         sync.Mutex
	inProgress bool
	last       *Result
}

func New(queries *db.UserQueries, builder *gateway.Builder, registry *engine.Registry) *Orchestrator {
	return &Orchestrator{
		queries:  queries,
		builder:  builder,
		registry: registry,
	}
}

// Run sweeps every user flagged running and tries to restart each
// engine. A second concurrent sweep returns ErrInProgress.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	o.mu.Lock()
	if o.inProgress {
		o.mu.Unlock()
		return Result{}, ErrInProgress
	}
	o.inProgress = true
	o.mu.Unlock()

	res := Result{StartedAt: time.Now(), Errors: map[string]string{}}
	defer func() {
		res.FinishedAt = time.Now()
		o.mu.Lock()
		o.inProgress = false
		o.last = &res
		o.mu.Unlock()
	}()

	users, err := o.queries.ListRunningUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("list running users: %w", err)
	}
	if len(users) == 0 {
		log.Printf("recovery: nothing to do")
		return res, nil
	}
	log.Printf("recovery: %d user(s) flagged running", len(users))

	for _, userID := range users {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Attempted++
		if err := o.recoverUser(ctx, userID); err != nil {
			res.Failed++
			res.Errors[userID] = err.Error()
			log.Printf("recovery: [user %s] failed: %v", userID, err)
			// The flag stays off until the user starts again by hand.
			if dbErr := o.queries.SetRunning(ctx, userID, false); dbErr != nil {
				log.Printf("recovery: [user %s] clear running flag: %v", userID, dbErr)
			}
			continue
		}
		res.Successful++
		log.Printf("recovery: [user %s] engine restarted", userID)
	}
	return res, nil
}

// ForceRecoverUser recovers a single user outside a sweep, replacing
// any stopped engine already registered.
func (o *Orchestrator) ForceRecoverUser(ctx context.Context, userID string) error {
	if err := o.recoverUser(ctx, userID); err != nil {
		if dbErr := o.queries.SetRunning(ctx, userID, false); dbErr != nil {
			log.Printf("recovery: [user %s] clear running flag: %v", userID, dbErr)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) recoverUser(ctx context.Context, userID string) error {
	user, err := o.queries.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !user.Approved {
		return ErrNotApproved
	}

	if running, ok := o.registry.Get(userID); ok && running.Status().Status == engine.StatusRunning {
		return nil // already alive, nothing to recover
	}

	eng, err := o.builder.EngineFor(ctx, userID)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	o.registry.Set(userID, eng)
	return nil
}

// InProgress reports whether a sweep is running.
func (o *Orchestrator) InProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inProgress
}

// LastResult returns the most recent sweep summary, if any.
func (o *Orchestrator) LastResult() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Result{}, false
	}
	return *o.last, true
}
