package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	streamURL string
	dialer    *websocket.Dialer
}

// NewStreamClient builds a websocket client. streamURL may be empty;
// testnet toggles the default host.
func NewStreamClient(streamURL string, testnet bool) *StreamClient {
	if streamURL == "" {
		streamURL = "wss://stream.binance.com:9443"
		if testnet {
			streamURL = "wss://testnet.binance.vision"
		}
	}
	return &StreamClient{
		streamURL: strings.TrimRight(streamURL, "/"),
		dialer:    websocket.DefaultDialer,
	}
}

// TickerStream is a live subscription. Close tears the socket down
// immediately, even mid-read; C closes once the read loop exits.
type TickerStream struct {
	C     <-chan Ticker
	conn  *websocket.Conn
	close func()
}

// Close force-closes the underlying socket. Safe to call more than
// once and from any goroutine.
func (s *TickerStream) Close() {
	s.close()
}

// SubscribeTicker subscribes to the 24h ticker stream for one symbol.
func (c *StreamClient) SubscribeTicker(ctx context.Context, symbol string) (*TickerStream, error) {
	u := fmt.Sprintf("%s/ws/%s@ticker", c.streamURL, strings.ToLower(symbol))
	return c.subscribe(ctx, u)
}

// SubscribeTickers subscribes to a combined ticker stream covering
// several symbols over one socket.
func (c *StreamClient) SubscribeTickers(ctx context.Context, symbols []string) (*TickerStream, error) {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	u := fmt.Sprintf("%s/stream?streams=%s", c.streamURL, strings.Join(streams, "/"))
	return c.subscribe(ctx, u)
}

func (c *StreamClient) subscribe(ctx context.Context, u string) (*TickerStream, error) {
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws: %w", err)
	}

	out := make(chan Ticker, 100)
	var once sync.Once
	closeConn := func() {
		once.Do(func() {
			// Connection may already be gone; errors are expected.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	go func() {
		defer close(out)
		defer closeConn()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			_, msg, err := conn.ReadMessage()
			if err != nil {
				// Closed by caller or context; exit quietly.
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
					strings.Contains(err.Error(), "use of closed network connection") {
					return
				}
				log.Printf("binance ws read error: %v", err)
				return
			}

			parsed, err := parseTickerMessage(msg)
			if err != nil {
				log.Printf("binance ws parse error: %v", err)
				continue
			}
			select {
			case out <- parsed:
			default:
				// Consumer stalled; drop rather than block the read loop.
			}
		}
	}()

	return &TickerStream{C: out, conn: conn, close: closeConn}, nil
}

// tickerPayload covers both the raw /ws form and the combined /stream
// envelope ({"stream":..., "data":{...}}).
type tickerPayload struct {
	Symbol        string `json:"s"`
	Last          string `json:"c"`
	High          string `json:"h"`
	Low           string `json:"l"`
	ChangePercent string `json:"P"`
	QuoteVolume   string `json:"q"`
	EventTime     int64  `json:"E"`
}

func parseTickerMessage(msg []byte) (Ticker, error) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	payload := msg
	if err := json.Unmarshal(msg, &envelope); err == nil && len(envelope.Data) > 0 {
		payload = envelope.Data
	}

	var raw tickerPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Ticker{}, err
	}
	if raw.Symbol == "" {
		return Ticker{}, fmt.Errorf("ticker message without symbol")
	}
	return Ticker{
		Symbol:        raw.Symbol,
		Price:         toFloat(raw.Last),
		High:          toFloat(raw.High),
		Low:           toFloat(raw.Low),
		ChangePercent: toFloat(raw.ChangePercent),
		QuoteVolume:   toFloat(raw.QuoteVolume),
		Time:          raw.EventTime,
	}, nil
}
