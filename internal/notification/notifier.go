// Package notification delivers trade alerts to external channels.
// Delivery is best-effort: a failed notification is logged and never
// blocks or fails the trade itself.
package notification

import (
	"context"
	"log"
)

// TradeAlert describes an executed (or attempted) trade action.
type TradeAlert struct {
	Symbol string  `json:"symbol"`
	Action string  `json:"action"` // BUY, SELL, FLAT
	Qty    int64   `json:"qty"`
	Price  float64 `json:"price,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert TradeAlert) error
}

// LogNotifier logs alerts instead of delivering them (useful for
// development and paper trading).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert TradeAlert) error {
	log.Printf("[notify] %s %s qty=%d price=%.2f reason=%s",
		alert.Action, alert.Symbol, alert.Qty, alert.Price, alert.Reason)
	return nil
}
