package spot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"tradecore/pkg/exchanges/common"
)

// filtersTTL bounds how long cached exchange trading rules are trusted.
const filtersTTL = time.Hour

type cachedFilters struct {
	filters common.SymbolFilters
	fetched time.Time
}

var (
	filtersMu    sync.Mutex
	filtersCache = map[string]cachedFilters{}
)

// Filters returns the trading rules for a symbol, cached for an hour.
func (c *Client) Filters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	key := c.baseURL + "|" + symbol

	filtersMu.Lock()
	if cached, ok := filtersCache[key]; ok && time.Since(cached.fetched) < filtersTTL {
		filtersMu.Unlock()
		return cached.filters, nil
	}
	filtersMu.Unlock()

	f, err := c.fetchFilters(ctx, symbol)
	if err != nil {
		return common.SymbolFilters{}, err
	}

	filtersMu.Lock()
	filtersCache[key] = cachedFilters{filters: f, fetched: time.Now()}
	filtersMu.Unlock()
	return f, nil
}

func (c *Client) fetchFilters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	u := c.baseURL + "/api/v3/exchangeInfo?symbol=" + symbol
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return common.SymbolFilters{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.SymbolFilters{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return common.SymbolFilters{}, fmt.Errorf("exchange info status %d: %s", resp.StatusCode, string(b))
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				TickSize    string `json:"tickSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return common.SymbolFilters{}, fmt.Errorf("decode exchange info: %w", err)
	}
	if len(info.Symbols) == 0 {
		return common.SymbolFilters{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
	}

	out := common.SymbolFilters{Symbol: symbol}
	for _, f := range info.Symbols[0].Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			out.StepSize = toFloat(f.StepSize)
			out.MinQty = toFloat(f.MinQty)
			out.QtyDecimals = common.DecimalsOf(f.StepSize)
		case "PRICE_FILTER":
			out.TickSize = toFloat(f.TickSize)
		case "NOTIONAL", "MIN_NOTIONAL":
			out.MinNotional = toFloat(f.MinNotional)
		}
	}
	return out, nil
}

