package recovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"tradecore/internal/engine"
	"tradecore/internal/gateway"
	"tradecore/internal/state"
	"tradecore/pkg/db"
)

func testQueries(t *testing.T) *db.UserQueries {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "recovery_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.NewUserQueries(database.DB)
}

// exchangeServer answers just enough of the Binance surface for an
// engine to pass its startup probe.
func exchangeServer(t *testing.T, accountStatus int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v3/time":
			w.Write([]byte(`{"serverTime":1700000000000}`))
		case "/api/v3/account":
			if accountStatus != http.StatusOK {
				w.WriteHeader(accountStatus)
				w.Write([]byte(`{"code":-2014,"msg":"API-key format invalid"}`))
				return
			}
			w.Write([]byte(`{"canTrade":true,"balances":[{"asset":"USDT","free":"1000","locked":"0"},{"asset":"BTC","free":"0","locked":"0"}]}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seedUser(t *testing.T, queries *db.UserQueries, userID, baseURL string, approved, running bool) {
	t.Helper()
	ctx := context.Background()
	if err := queries.UpsertUser(ctx, &db.User{ID: userID, Username: userID, Approved: approved}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	cfg := &db.BotConfig{
		UserID:                userID,
		Symbol:                "BTCUSDT",
		TradingMode:           "single",
		APIKey:                "test-key",
		APISecret:             "test-secret",
		BaseURL:               baseURL,
		MaxReconnectAttempts:  1,
		ReconnectDelaySeconds: 1,
	}
	if err := queries.SaveBotConfig(ctx, cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	if err := queries.SetRunning(ctx, userID, running); err != nil {
		t.Fatalf("seed running flag: %v", err)
	}
}

func newOrchestrator(queries *db.UserQueries) (*Orchestrator, *engine.Registry) {
	registry := engine.NewRegistry()
	builder := gateway.NewBuilder(queries, state.NewManager(queries), nil, nil, gateway.Options{})
	return New(queries, builder, registry), registry
}

func TestRunRecoversFlaggedUser(t *testing.T) {
	queries := testQueries(t)
	srv := exchangeServer(t, http.StatusOK)
	seedUser(t, queries, "user-1", srv.URL, true, true)

	o, registry := newOrchestrator(queries)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Attempted != 1 || res.Successful != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 attempted, 1 successful", res)
	}

	eng, ok := registry.Get("user-1")
	if !ok {
		t.Fatal("recovered engine missing from registry")
	}
	if got := eng.Status().Status; got != engine.StatusRunning {
		t.Fatalf("engine status = %s, want running", got)
	}
	eng.Stop(context.Background())
}

func TestRunSkipsUnapprovedUser(t *testing.T) {
	queries := testQueries(t)
	srv := exchangeServer(t, http.StatusOK)
	seedUser(t, queries, "user-1", srv.URL, false, true)

	o, registry := newOrchestrator(queries)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("failed = %d, want 1", res.Failed)
	}
	if _, ok := registry.Get("user-1"); ok {
		t.Fatal("unapproved user got an engine")
	}

	// The running flag is cleared so the sweep is not retried forever.
	users, err := queries.ListRunningUsers(context.Background())
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("running users = %v, want none", users)
	}
}

func TestRunClearsFlagOnRejectedCredentials(t *testing.T) {
	queries := testQueries(t)
	srv := exchangeServer(t, http.StatusUnauthorized)
	seedUser(t, queries, "user-1", srv.URL, true, true)

	o, _ := newOrchestrator(queries)
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 || res.Successful != 0 {
		t.Fatalf("result = %+v, want one failure", res)
	}
	if res.Errors["user-1"] == "" {
		t.Fatal("failure reason not recorded")
	}

	users, _ := queries.ListRunningUsers(context.Background())
	if len(users) != 0 {
		t.Fatalf("running users = %v, want none", users)
	}
}

func TestRunWithNothingFlagged(t *testing.T) {
	queries := testQueries(t)
	o, _ := newOrchestrator(queries)

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Attempted != 0 {
		t.Fatalf("attempted = %d, want 0", res.Attempted)
	}
	if last, ok := o.LastResult(); !ok || last.Attempted != 0 {
		t.Fatal("sweep summary not recorded")
	}
}

func TestRunSkipsAlreadyRunningEngine(t *testing.T) {
	queries := testQueries(t)
	srv := exchangeServer(t, http.StatusOK)
	seedUser(t, queries, "user-1", srv.URL, true, true)

	o, registry := newOrchestrator(queries)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	eng, _ := registry.Get("user-1")
	defer eng.Stop(context.Background())

	// Flag is set again by the running engine's checkpoints; a second
	// sweep must not build a duplicate.
	if err := queries.SetRunning(context.Background(), "user-1", true); err != nil {
		t.Fatalf("set running: %v", err)
	}
	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("second sweep failed: %+v", res)
	}
	if got, _ := registry.Get("user-1"); got != eng {
		t.Fatal("second sweep replaced the live engine")
	}
}

func TestForceRecoverUserRequiresApproval(t *testing.T) {
	queries := testQueries(t)
	srv := exchangeServer(t, http.StatusOK)
	seedUser(t, queries, "user-1", srv.URL, false, false)

	o, _ := newOrchestrator(queries)
	err := o.ForceRecoverUser(context.Background(), "user-1")
	if !errors.Is(err, ErrNotApproved) {
		t.Fatalf("err = %v, want ErrNotApproved", err)
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	queries := testQueries(t)
	o, _ := newOrchestrator(queries)

	o.mu.Lock()
	o.inProgress = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.inProgress = false
		o.mu.Unlock()
	}()

	if _, err := o.Run(context.Background()); !errors.Is(err, ErrInProgress) {
		t.Fatalf("err = %v, want ErrInProgress", err)
	}
}
