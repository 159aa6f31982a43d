// Package risk converts account equity and current volatility into an
// order quantity.
package risk

import (
	"fmt"
	"math"
)

// Sizer computes contract quantities from a fixed fraction of equity
// risked per trade, with the stop distance derived from ATR.
type Sizer struct {
	riskPct      float64 // fraction of equity risked per trade
	stopATRMult  float64 // stop distance in ATR multiples
	maxContracts int64
}

// NewSizer validates and builds a sizer.
func NewSizer(riskPct, stopATRMult float64, maxContracts int64) (*Sizer, error) {
	if riskPct <= 0 || riskPct >= 1 {
		return nil, fmt.Errorf("risk: risk per trade must be in (0,1), got %v", riskPct)
	}
	if stopATRMult <= 0 {
		return nil, fmt.Errorf("risk: stop ATR multiplier must be positive, got %v", stopATRMult)
	}
	if maxContracts < 1 {
		return nil, fmt.Errorf("risk: max contracts must be at least 1, got %d", maxContracts)
	}
	return &Sizer{riskPct: riskPct, stopATRMult: stopATRMult, maxContracts: maxContracts}, nil
}

// Quantity returns floor(equity*riskPct / (atr*stopMult)) clamped to
// [1, maxContracts]. ATR must be positive and finite; zero quantity is
// never returned because upstream gates already require a live ATR.
func (s *Sizer) Quantity(equity, atr float64) (int64, error) {
	if equity <= 0 || math.IsNaN(equity) || math.IsInf(equity, 0) {
		return 0, fmt.Errorf("risk: invalid equity %v", equity)
	}
	if atr <= 0 || math.IsNaN(atr) || math.IsInf(atr, 0) {
		return 0, fmt.Errorf("risk: invalid atr %v", atr)
	}
	qty := int64(math.Floor(equity * s.riskPct / (atr * s.stopATRMult)))
	if qty < 1 {
		qty = 1
	}
	if qty > s.maxContracts {
		qty = s.maxContracts
	}
	return qty, nil
}
