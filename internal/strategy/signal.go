package strategy

// SignalKind is the direction of a trade signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "buy"
	SignalSell SignalKind = "sell"
	SignalHold SignalKind = "hold"
)

// Signal is a value type produced fresh on every evaluation. Reason is
// human-readable, naming the gate that decided the outcome; it is for
// logs and audit, never for control flow.
type Signal struct {
	Kind       SignalKind `json:"kind"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

func hold(reason string) Signal {
	return Signal{Kind: SignalHold, Reason: reason}
}

// Trend classifies the higher-timeframe direction.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// MarketState is a small scratch record refreshed on every closed bar.
// Owned by the Calculator; the trader reads it for position sizing.
type MarketState struct {
	ATR             float64 `json:"atr"`
	HTFTrend        Trend   `json:"htf_trend"`
	DeltaCumulative int64   `json:"delta_cumulative"`
}
