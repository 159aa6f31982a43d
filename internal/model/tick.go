package model

import "time"

// Tick represents a single normalized market-data tick for one contract.
// CumVolume is the session-cumulative traded volume as reported by the
// feed; per-tick volume is derived downstream as cum - lastCum.
type Tick struct {
	ContractID string    `json:"contract_id"`
	LastPrice  float64   `json:"last_price"`
	CumVolume  int64     `json:"cum_volume"` // cumulative session volume
	TS         time.Time `json:"ts"`         // UTC timestamp
}
