package model

import (
	"encoding/json"
	"time"
)

// TradeAction is the kind of execution event.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionFlat TradeAction = "FLAT"
)

// TradeEvent records a completed entry or exit for auditing and
// publishing. Detail carries the quantitative gate values that
// triggered the decision (ATR, delta, thresholds) as free text.
type TradeEvent struct {
	ContractID string      `json:"contract_id"`
	Action     TradeAction `json:"action"`
	Qty        int64       `json:"qty"`
	Price      float64     `json:"price"`
	OrderID    string      `json:"order_id,omitempty"`
	Reason     string      `json:"reason"`
	Detail     string      `json:"detail,omitempty"`
	TS         time.Time   `json:"ts"`
}

// JSON returns the JSON-encoded event.
func (e *TradeEvent) JSON() []byte {
	data, _ := json.Marshal(e)
	return data
}
