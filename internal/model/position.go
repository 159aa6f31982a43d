package model

import "time"

// Direction is the side of a position or order.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Position represents the single tracked position for a contract.
// At most one Position exists per engine instance at any instant.
// StopLoss is mutated only by the trailing-stop ratchet, never loosened.
type Position struct {
	ContractID string    `json:"contract_id"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	Qty        int64     `json:"qty"`
	StopLoss   float64   `json:"stop_loss"`
}
