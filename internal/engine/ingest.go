package engine

import (
	"context"
	"log"
	"time"

	"tradecore/internal/config"
	market "tradecore/pkg/market/binance"
)

// watchdogInterval is how often the stale-stream check runs;
// staleAfter is the silence that triggers a forced socket teardown.
const (
	watchdogInterval = 15 * time.Second
	staleAfter       = 60 * time.Second
)

// ingestLoop keeps prices flowing: websocket first, bounded
// reconnects with linearly growing delays, then a permanent REST
// polling fallback once the attempts are exhausted.
func (e *Engine) ingestLoop(ctx context.Context) {
	attempts := 0
	for ctx.Err() == nil {
		stream, err := e.subscribe(ctx)
		if err == nil {
			e.mu.Lock()
			e.stream = stream
			e.mu.Unlock()
			e.lastTickAt.Store(time.Now().UnixNano())

			delivered := e.consume(ctx, stream)

			e.mu.Lock()
			e.stream = nil
			e.mu.Unlock()

			if ctx.Err() != nil {
				return
			}
			if delivered {
				attempts = 0
			}
			if e.forceRestart.CompareAndSwap(true, false) {
				e.logf("warning", "watchdog tore down a stalled stream, reconnecting")
			}
		} else {
			log.Printf("[user %s] websocket subscribe failed: %v", e.cfg.UserID, err)
		}

		attempts++
		if attempts > e.cfg.MaxReconnectAttempts {
			e.logf("warning", "websocket unavailable after %d attempts, polling from now on", attempts-1)
			e.mu.Lock()
			e.pollingOnly = true
			e.mu.Unlock()
			e.pollLoop(ctx)
			return
		}

		delay := time.Duration(attempts) * e.cfg.ReconnectDelay
		e.logf("warning", "websocket reconnect %d/%d in %s", attempts, e.cfg.MaxReconnectAttempts, delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (e *Engine) subscribe(ctx context.Context) (*market.TickerStream, error) {
	if e.cfg.TradingMode == config.ModeDynamic {
		return e.deps.Streams.SubscribeTickers(ctx, e.coins.Symbols())
	}
	return e.deps.Streams.SubscribeTicker(ctx, e.cfg.Symbol)
}

// consume drains one stream until it dies; reports whether it ever
// delivered a tick.
func (e *Engine) consume(ctx context.Context, stream *market.TickerStream) bool {
	delivered := false
	for tick := range stream.C {
		delivered = true
		now := time.Now()
		e.lastTickAt.Store(now.UnixNano())
		e.coins.ApplyTickers(map[string]market.Ticker{tick.Symbol: tick}, now)
		e.onTick(ctx, tick.Symbol, tick.Price, now)
	}
	return delivered
}

// pollLoop is the degraded path: batch price reads on a timer.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prices, err := e.deps.MarketData.GetPrices(ctx, e.coins.Symbols())
			if err != nil {
				log.Printf("[user %s] price poll failed: %v", e.cfg.UserID, err)
				continue
			}
			now := time.Now()
			e.lastTickAt.Store(now.UnixNano())
			for sym, price := range prices {
				e.coins.Update(sym, price, now)
				e.onTick(ctx, sym, price, now)
			}
		}
	}
}

// streamStale reports whether the last tick is old enough to give up
// on the socket. A zero timestamp means no tick has arrived yet; the
// connect path owns that case.
func streamStale(lastNano int64, now time.Time) bool {
	if lastNano == 0 {
		return false
	}
	return now.Sub(time.Unix(0, lastNano)) > staleAfter
}

// watchdogLoop force-closes the socket when ticks stop arriving but
// the connection never errored. The teardown is deliberately not a
// graceful close; a stalled peer will not answer one.
func (e *Engine) watchdogLoop(ctx context.Context) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			stream := e.stream
			polling := e.pollingOnly
			e.mu.Unlock()
			if stream == nil || polling {
				continue
			}

			if streamStale(e.lastTickAt.Load(), time.Now()) {
				e.forceRestart.Store(true)
				stream.Close()
			}
		}
	}
}
