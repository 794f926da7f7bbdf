package common

import "context"

// Gateway abstracts a spot trading venue for the engine and the
// balance synchronizer.
type Gateway interface {
	Ping(ctx context.Context) error
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	Balances(ctx context.Context, assets ...string) (map[string]AssetBalance, error)
	Filters(ctx context.Context, symbol string) (SymbolFilters, error)
}
