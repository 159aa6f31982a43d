package strategy

import (
	"fmt"
	"time"
)

// Config is an immutable snapshot of all tunable strategy parameters.
// It is read-only after being handed to the Calculator; changing
// parameters requires constructing a new engine instance.
type Config struct {
	ContractID string

	// Session window in the venue timezone.
	TradingStart string // "HH:MM"
	TradingEnd   string // "HH:MM"
	Timezone     string // IANA name, e.g. "America/Chicago"

	// Timeframes.
	LTFInterval time.Duration
	HTFInterval time.Duration
	SeriesCap   int

	// Indicator lengths and entry thresholds.
	ATRLength            int
	MinATRToTrade        float64
	DeltaSpikeThreshold  float64
	DeltaSMALength       int
	DeltaSurgeMultiplier float64
	HTFEMALength         int
	HTFUseForming        bool
	BreakoutLookbackBars int
	UseEMAFilter         bool
	EMALength            int

	// Exit parameters.
	MinBarsBeforeExit    int
	DeltaSlopeExitLength int

	// Protective stops.
	ATRStopLossMultiplier float64
	TrailActivationATR    float64
	TrailOffsetATR        float64
	TrailGracePeriod      time.Duration

	// Intra-bar (forming bar) detection.
	EnableIntraBar          bool
	IntraBarMinAccumulation time.Duration
	IntraBarConfirmSamples  int
	IntraBarCooldown        time.Duration
	DisableBarCloseEntries  bool

	// Risk sizing.
	RiskPerTradePct float64 // fraction of equity risked per trade, e.g. 0.01
	MaxContracts    int64
}

// DefaultConfig returns the baseline parameter set.
func DefaultConfig() Config {
	return Config{
		TradingStart: "08:30",
		TradingEnd:   "15:00",
		Timezone:     "America/Chicago",

		LTFInterval: 3 * time.Minute,
		HTFInterval: 15 * time.Minute,
		SeriesCap:   512,

		ATRLength:            14,
		MinATRToTrade:        0.5,
		DeltaSpikeThreshold:  450,
		DeltaSMALength:       20,
		DeltaSurgeMultiplier: 1.4,
		HTFEMALength:         21,
		HTFUseForming:        false,
		BreakoutLookbackBars: 20,
		UseEMAFilter:         false,
		EMALength:            21,

		MinBarsBeforeExit:    2,
		DeltaSlopeExitLength: 5,

		ATRStopLossMultiplier: 1.5,
		TrailActivationATR:    1.0,
		TrailOffsetATR:        1.0,
		TrailGracePeriod:      30 * time.Second,

		EnableIntraBar:          false,
		IntraBarMinAccumulation: 45 * time.Second,
		IntraBarConfirmSamples:  3,
		IntraBarCooldown:        2 * time.Minute,
		DisableBarCloseEntries:  true,

		RiskPerTradePct: 0.01,
		MaxContracts:    5,
	}
}

// Validate checks parameter sanity before the engine starts.
func (c Config) Validate() error {
	if c.ContractID == "" {
		return fmt.Errorf("strategy config: contract id required")
	}
	if c.LTFInterval <= 0 || c.HTFInterval <= 0 {
		return fmt.Errorf("strategy config: intervals must be positive")
	}
	if c.HTFInterval <= c.LTFInterval {
		return fmt.Errorf("strategy config: HTF interval %v must exceed LTF %v",
			c.HTFInterval, c.LTFInterval)
	}
	if c.ATRLength <= 0 || c.DeltaSMALength <= 0 || c.HTFEMALength <= 0 ||
		c.BreakoutLookbackBars <= 0 || c.DeltaSlopeExitLength <= 0 {
		return fmt.Errorf("strategy config: indicator lengths must be positive")
	}
	if c.UseEMAFilter && c.EMALength <= 0 {
		return fmt.Errorf("strategy config: EMA filter enabled with length %d", c.EMALength)
	}
	if c.DeltaSurgeMultiplier <= 0 {
		return fmt.Errorf("strategy config: delta surge multiplier must be positive")
	}
	if c.ATRStopLossMultiplier <= 0 {
		return fmt.Errorf("strategy config: ATR stop-loss multiplier must be positive")
	}
	if c.TrailOffsetATR <= 0 || c.TrailActivationATR <= 0 {
		return fmt.Errorf("strategy config: trail multipliers must be positive")
	}
	if c.EnableIntraBar && c.IntraBarConfirmSamples <= 0 {
		return fmt.Errorf("strategy config: intra-bar confirm samples must be positive")
	}
	if c.RiskPerTradePct <= 0 || c.RiskPerTradePct >= 1 {
		return fmt.Errorf("strategy config: risk per trade %v out of (0,1)", c.RiskPerTradePct)
	}
	if c.MaxContracts <= 0 {
		return fmt.Errorf("strategy config: max contracts must be positive")
	}
	return nil
}

// WarmUpEstimate returns how long live bar accumulation takes before
// CompleteWarmUp can succeed: enough closed LTF bars for the ATR and
// enough closed HTF bars for the trend EMA, whichever is slower.
func (c Config) WarmUpEstimate() time.Duration {
	ltf := time.Duration(c.ATRLength+1) * c.LTFInterval
	htf := time.Duration(c.HTFEMALength) * c.HTFInterval
	if htf > ltf {
		return htf
	}
	return ltf
}
