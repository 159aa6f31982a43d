// Package broker defines the order-routing interface the trader
// depends on, plus a simulated implementation for paper trading.
//
// Every call takes a context so the trader can bound broker latency;
// a hung broker must never stall tick ingestion.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// Side is the order side as the broker sees it.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderRequest is a market order for qty contracts.
type OrderRequest struct {
	ContractID string
	Side       Side
	Qty        int64
}

// Order is the broker's acknowledgement of a placed order.
type Order struct {
	OrderID    string
	ContractID string
	Side       Side
	Qty        int64
	FillPrice  float64
	PlacedAt   time.Time
}

// NetPosition is the broker's view of the open position on a contract.
// Qty is signed: positive long, negative short, zero flat.
type NetPosition struct {
	ContractID string
	Qty        int64
	AvgPrice   float64
}

// Direction maps the signed quantity to a model direction. Only
// meaningful when Qty != 0.
func (n NetPosition) Direction() model.Direction {
	if n.Qty < 0 {
		return model.Short
	}
	return model.Long
}

// ErrRateLimited is returned (possibly wrapped) when the broker
// rejects a call for request-rate reasons. The trader backs off
// instead of retrying immediately.
var ErrRateLimited = errors.New("broker: rate limited")

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Client is the minimal broker surface the trader needs.
type Client interface {
	// CreateOrder places a market order and returns the fill.
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)

	// ClosePosition flattens the contract at market. Closing an
	// already-flat contract is not an error.
	ClosePosition(ctx context.Context, contractID string) error

	// NetPosition returns the broker-side position on the contract.
	NetPosition(ctx context.Context, contractID string) (NetPosition, error)

	// Equity returns current account equity.
	Equity(ctx context.Context) (float64, error)
}
