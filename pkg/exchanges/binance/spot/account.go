package spot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"tradecore/pkg/exchanges/common"
)

// AccountInfo holds balances and permissions.
type AccountInfo struct {
	CanTrade   bool           `json:"canTrade"`
	UpdateTime int64          `json:"updateTime"`
	Balances   []assetBalance `json:"balances"`
}

type assetBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// GetAccountInfo returns account balances and basic flags.
func (c *Client) GetAccountInfo(ctx context.Context) (*AccountInfo, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binance: API key/secret required")
	}
	params := url.Values{}
	c.stampParams(params)

	body, err := c.doSigned(ctx, http.MethodGet, c.baseURL+"/api/v3/account", params)
	if err != nil {
		return nil, err
	}
	var info AccountInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode account info: %w", err)
	}
	return &info, nil
}

// Balances returns free/locked amounts for the requested assets.
// With no assets given, every non-zero balance is returned.
func (c *Client) Balances(ctx context.Context, assets ...string) (map[string]common.AssetBalance, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(assets))
	for _, a := range assets {
		want[a] = true
	}

	out := make(map[string]common.AssetBalance)
	for _, b := range info.Balances {
		free := toFloat(b.Free)
		locked := toFloat(b.Locked)
		if len(want) > 0 {
			if !want[b.Asset] {
				continue
			}
		} else if free == 0 && locked == 0 {
			continue
		}
		out[b.Asset] = common.AssetBalance{Asset: b.Asset, Free: free, Locked: locked}
	}

	// Requested assets always get an entry, zero or not.
	for a := range want {
		if _, ok := out[a]; !ok {
			out[a] = common.AssetBalance{Asset: a}
		}
	}
	return out, nil
}
