// Package market provides public Binance spot market data over REST
// and websocket streams. No credentials are required.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client wraps public REST access to Binance market data.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a REST client. baseURL may be empty; use testnet
// to switch hosts.
func NewClient(baseURL string, testnet bool) *Client {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
		if testnet {
			baseURL = "https://testnet.binance.vision"
		}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetPrice fetches the last price for one symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (Price, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return Price{}, err
	}

	var raw struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Price{}, fmt.Errorf("decode price: %w", err)
	}
	return Price{Symbol: raw.Symbol, Price: toFloat(raw.Price)}, nil
}

// GetPrices fetches last prices for several symbols in one request.
func (c *Client) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	params := url.Values{}
	params.Set("symbols", symbolsParam(symbols))
	body, err := c.do(ctx, "/api/v3/ticker/price", params)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for _, r := range raw {
		out[r.Symbol] = toFloat(r.Price)
	}
	return out, nil
}

// GetTicker fetches the 24h statistics for one symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.do(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return Ticker{}, err
	}

	var raw rawTicker24h
	if err := json.Unmarshal(body, &raw); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	return raw.toTicker(), nil
}

// GetTickers fetches 24h statistics for several symbols in one request.
func (c *Client) GetTickers(ctx context.Context, symbols []string) (map[string]Ticker, error) {
	params := url.Values{}
	params.Set("symbols", symbolsParam(symbols))
	body, err := c.do(ctx, "/api/v3/ticker/24hr", params)
	if err != nil {
		return nil, err
	}

	var raw []rawTicker24h
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode tickers: %w", err)
	}
	out := make(map[string]Ticker, len(raw))
	for _, r := range raw {
		out[r.Symbol] = r.toTicker()
	}
	return out, nil
}

// Ping checks public connectivity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil)
	return err
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance %s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}

// symbolsParam encodes the JSON-array symbols parameter Binance
// expects for batch endpoints: ["BTCUSDT","ETHUSDT"].
func symbolsParam(symbols []string) string {
	quoted := make([]string, len(symbols))
	for i, s := range symbols {
		quoted[i] = `"` + strings.ToUpper(s) + `"`
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

type rawTicker24h struct {
	Symbol        string `json:"symbol"`
	LastPrice     string `json:"lastPrice"`
	HighPrice     string `json:"highPrice"`
	LowPrice      string `json:"lowPrice"`
	ChangePercent string `json:"priceChangePercent"`
	QuoteVolume   string `json:"quoteVolume"`
	CloseTime     int64  `json:"closeTime"`
}

func (r rawTicker24h) toTicker() Ticker {
	return Ticker{
		Symbol:        r.Symbol,
		Price:         toFloat(r.LastPrice),
		High:          toFloat(r.HighPrice),
		Low:           toFloat(r.LowPrice),
		ChangePercent: toFloat(r.ChangePercent),
		QuoteVolume:   toFloat(r.QuoteVolume),
		Time:          r.CloseTime,
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	default:
		return 0
	}
}
