package model

import (
	"encoding/json"
	"math"
	"time"
)

// Timeframe identifies which bar series a bar belongs to.
type Timeframe string

const (
	LTF Timeframe = "ltf" // low timeframe (e.g. 3m)
	HTF Timeframe = "htf" // high timeframe (e.g. 15m)
)

// Bar is a fixed-interval OHLCV aggregate with signed volume delta.
// Delta is positive volume traded on upticks, negative on downticks.
// Bars are immutable once closed; the aggregator owns the only
// mutable (forming) instance.
type Bar struct {
	ContractID string    `json:"contract_id"`
	TS         time.Time `json:"ts"` // bucket start (UTC, interval-aligned)
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	Delta      int64     `json:"delta"`
}

// Valid reports whether the bar satisfies the OHLC invariants:
// all prices finite, high >= max(open, close), low <= min(open, close),
// volume >= 0. Bars failing this are excluded from indicator windows.
func (b *Bar) Valid() bool {
	for _, v := range [4]float64{b.Open, b.High, b.Low, b.Close} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if b.High < b.Open || b.High < b.Close {
		return false
	}
	if b.Low > b.Open || b.Low > b.Close {
		return false
	}
	return b.Volume >= 0
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	data, _ := json.Marshal(b)
	return data
}
