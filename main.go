package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tradecore/internal/api"
	engcfg "tradecore/internal/config"
	"tradecore/internal/engine"
	"tradecore/internal/events"
	"tradecore/internal/gateway"
	"tradecore/internal/recovery"
	"tradecore/internal/state"
	"tradecore/pkg/config"
	"tradecore/pkg/crypto"
	"tradecore/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	log.Printf("trading core starting on port %s (db %s)", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("apply migrations: %v", err)
	}
	queries := db.NewUserQueries(database.DB)
	states := state.NewManager(queries)

	// Credential encryption at rest; without a master key the rows
	// stay plaintext and a warning is logged once.
	var keys *crypto.KeyManager
	if km, err := crypto.NewKeyManager(); err == nil {
		keys = km
		log.Printf("credential encryption enabled (key v%d)", km.CurrentVersion())
	} else {
		log.Printf("warning: %v; API credentials will be stored in plaintext", err)
	}

	registry := engine.NewRegistry()
	builder := gateway.NewBuilder(queries, states, bus, keys, gateway.Options{
		Testnet:   cfg.BinanceTestnet,
		MarketURL: cfg.BinanceBaseURL,
		StreamURL: cfg.BinanceStreamURL,
	})
	rec := recovery.New(queries, builder, registry)

	server := api.NewServer(bus, queries, registry, builder, rec, cfg.JWTSecret)
	if cfg.PresetsPath != "" {
		presets, err := engcfg.LoadPresets(cfg.PresetsPath)
		if err != nil {
			log.Printf("load presets %s: %v", cfg.PresetsPath, err)
		} else {
			server.Presets = presets
			log.Printf("loaded %d engine preset(s)", len(presets))
		}
	}

	// Restart engines that were running before the last shutdown.
	if cfg.EnableAutoRecovery {
		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(cfg.RecoveryDelay) * time.Second):
			}
			res, err := rec.Run(ctx)
			if err != nil {
				log.Printf("recovery sweep: %v", err)
				return
			}
			log.Printf("recovery sweep done: %d attempted, %d recovered, %d failed",
				res.Attempted, res.Successful, res.Failed)
		}()
	}

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
	cancel()

	// Flush a final checkpoint for every live engine before exit.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for userID, eng := range registry.All() {
		wg.Add(1)
		go func(userID string, eng *engine.Engine) {
			defer wg.Done()
			if err := eng.Shutdown(shutdownCtx); err != nil {
				log.Printf("[user %s] shutdown stop: %v", userID, err)
			}
		}(userID, eng)
	}
	wg.Wait()
	log.Println("all engines stopped")
}
