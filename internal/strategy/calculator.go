// Package strategy implements the signal state machine: entry gates,
// exit conditions, intra-bar detection, and position-local risk state
// (hard stop and trailing-stop ratchet).
//
// The Calculator owns the bar store and evaluates one of two logical
// sub-states per bar once warm-up completes: Flat (entries only) or
// InPosition (exits only). It never talks to the broker; the trader
// does that.
package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/indicator"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/agg"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/session"
)

// State is the calculator lifecycle state.
type State int

const (
	WarmingUp State = iota
	Ready
)

// WarmUpStatus reports warm-up progress for external health checks.
type WarmUpStatus struct {
	IsComplete bool `json:"is_complete"`
	LTFBars    int  `json:"ltf_bars"`
	HTFBars    int  `json:"htf_bars"`
}

// Calculator evaluates entry gates and exit conditions over the bar
// store and owns position-local risk state.
type Calculator struct {
	cfg    Config
	window session.Window
	bars   *agg.Aggregator

	state      State
	lastWarmTS map[model.Timeframe]time.Time

	market MarketState

	// lastEntryBarTS marks the bucket that already produced an entry
	// signal, covering both the bar-close and intra-bar paths.
	lastEntryBarTS int64

	intraBar *intraBarDetector

	// mu guards position state, which background order goroutines
	// mutate while the tick loop reads it.
	mu             sync.Mutex
	pos            *positionState
	barsSinceEntry int
}

// NewCalculator validates the config and builds a calculator around
// the given bar store.
func NewCalculator(cfg Config, bars *agg.Aggregator) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	window, err := session.NewWindow(cfg.TradingStart, cfg.TradingEnd, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Calculator{
		cfg:        cfg,
		window:     window,
		bars:       bars,
		state:      WarmingUp,
		lastWarmTS: make(map[model.Timeframe]time.Time, 2),
		intraBar:   newIntraBarDetector(cfg),
	}, nil
}

// Config returns the immutable parameter snapshot.
func (c *Calculator) Config() Config { return c.cfg }

// Market returns the per-bar scratch state (ATR, HTF trend, cumulative
// delta); the trader reads it for position sizing.
func (c *Calculator) Market() MarketState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.market
}

// ProcessWarmUpBar seeds a historical closed bar. Bars must arrive
// oldest first; malformed or out-of-order history is a hard error so
// the engine never runs on corrupted context.
func (c *Calculator) ProcessWarmUpBar(bar model.Bar, tf model.Timeframe) error {
	if c.state == Ready {
		return fmt.Errorf("strategy: warm-up already complete")
	}
	if !bar.Valid() {
		return fmt.Errorf("strategy: invalid warm-up bar %s/%s at %v", bar.ContractID, tf, bar.TS)
	}
	if last, ok := c.lastWarmTS[tf]; ok && !bar.TS.After(last) {
		return fmt.Errorf("strategy: warm-up bar out of order for %s: %v after %v", tf, bar.TS, last)
	}
	c.lastWarmTS[tf] = bar.TS

	switch tf {
	case model.LTF:
		c.bars.SeedLTF(bar)
	case model.HTF:
		c.bars.SeedHTF(bar)
	default:
		return fmt.Errorf("strategy: unknown timeframe %q", tf)
	}
	return nil
}

// CompleteWarmUp transitions to Ready. It requires enough history for
// the slowest indicator; a short warm-up is a startup error rather
// than a silent "never trades" engine.
func (c *Calculator) CompleteWarmUp() error {
	if c.state == Ready {
		return nil
	}
	if n := c.bars.LTF().Len(); n < c.cfg.ATRLength+1 {
		return fmt.Errorf("strategy: warm-up needs %d LTF bars, have %d", c.cfg.ATRLength+1, n)
	}
	if n := c.bars.HTF().Len(); n < c.cfg.HTFEMALength {
		return fmt.Errorf("strategy: warm-up needs %d HTF bars, have %d", c.cfg.HTFEMALength, n)
	}
	c.refreshMarketState()
	c.state = Ready
	return nil
}

// WarmUpStatus reports progress for the health endpoint.
func (c *Calculator) WarmUpStatus() WarmUpStatus {
	return WarmUpStatus{
		IsComplete: c.state == Ready,
		LTFBars:    c.bars.LTF().Len(),
		HTFBars:    c.bars.HTF().Len(),
	}
}

// ProcessClosedBar refreshes market state from the just-closed LTF bar
// (already appended to the store by the aggregator) and evaluates
// either entries (Flat) or exits (InPosition).
func (c *Calculator) ProcessClosedBar(bar model.Bar) Signal {
	if c.state != Ready {
		return hold("warm-up incomplete")
	}

	c.refreshMarketState()
	c.mu.Lock()
	c.market.DeltaCumulative += bar.Delta
	inPosition := c.pos != nil
	if inPosition {
		c.barsSinceEntry++
	}
	c.mu.Unlock()

	if inPosition {
		return c.evaluateExit(bar)
	}
	return c.evaluateEntry(bar)
}

// refreshMarketState recomputes ATR and HTF trend from the series.
func (c *Calculator) refreshMarketState() {
	ltf := c.bars.LTF().Last(c.bars.LTF().Len())
	atr := indicator.ATR(ltf, c.cfg.ATRLength)
	trend := c.htfTrend()

	c.mu.Lock()
	c.market.ATR = atr
	c.market.HTFTrend = trend
	c.mu.Unlock()
}

// htfTrend classifies the higher timeframe by close versus EMA over
// HTF closes, optionally including the still-forming HTF bar.
func (c *Calculator) htfTrend() Trend {
	closes := indicator.Closes(c.bars.HTF().Last(c.bars.HTF().Len()))
	if c.cfg.HTFUseForming {
		if fb, ok := c.bars.FormingHTF(); ok {
			closes = append(closes, fb.Close)
		}
	}
	ema := indicator.EMA(closes, c.cfg.HTFEMALength)
	if !indicator.Ready(ema) || len(closes) == 0 {
		return TrendNeutral
	}
	last := closes[len(closes)-1]
	switch {
	case last > ema:
		return TrendBullish
	case last < ema:
		return TrendBearish
	default:
		return TrendNeutral
	}
}

// evaluateEntry runs the entry gates in order against a closed bar.
// All gates must pass; the first failure yields hold with a reason
// naming the gate.
func (c *Calculator) evaluateEntry(bar model.Bar) Signal {
	if c.cfg.EnableIntraBar && c.cfg.DisableBarCloseEntries {
		return hold("bar-close entries disabled while intra-bar detection is active")
	}
	if bar.TS.UnixMilli() == c.lastEntryBarTS {
		return hold("entry already signalled for this bar")
	}

	window := c.bars.LTF().Last(c.bars.LTF().Len())
	sig := c.runEntryGates(bar.TS, bar.Close, bar.Delta, window)
	if sig.Kind != SignalHold {
		c.lastEntryBarTS = bar.TS.UnixMilli()
	}
	return sig
}

// runEntryGates applies the session, ATR, delta, trend, breakout, and
// optional EMA gates. window holds the LTF bars to scan, most recent
// last, with the bar under evaluation included.
func (c *Calculator) runEntryGates(ts time.Time, close float64, delta int64, window []model.Bar) Signal {
	// 1. Session gate.
	if !c.window.Contains(ts) {
		return hold(fmt.Sprintf("outside trading session %s", c.window))
	}

	// 2. ATR gate: a dead market makes stop distances meaningless.
	atr := c.market.ATR
	if !indicator.Ready(atr) || atr <= c.cfg.MinATRToTrade {
		return hold(fmt.Sprintf("ATR gate: atr=%.4f not above min %.4f", atr, c.cfg.MinATRToTrade))
	}

	// 3. Delta gate: spike over absolute threshold AND over the signed
	// moving baseline, in the same direction.
	deltaSMA := indicator.SMA(indicator.Deltas(window), c.cfg.DeltaSMALength)
	if !indicator.Ready(deltaSMA) {
		return hold(fmt.Sprintf("delta gate: baseline not ready (%d bars)", len(window)))
	}
	surge := deltaSMA * c.cfg.DeltaSurgeMultiplier
	d := float64(delta)
	var dir model.Direction
	switch {
	case d > c.cfg.DeltaSpikeThreshold && d > surge:
		dir = model.Long
	case d < -c.cfg.DeltaSpikeThreshold && d < surge:
		dir = model.Short
	default:
		return hold(fmt.Sprintf("delta gate: delta=%+d below spike %.0f / surge %.1f",
			delta, c.cfg.DeltaSpikeThreshold, surge))
	}

	// 4. HTF trend gate.
	trend := c.market.HTFTrend
	if dir == model.Long && trend != TrendBullish {
		return hold(fmt.Sprintf("trend gate: HTF %s, need bullish for long", trend))
	}
	if dir == model.Short && trend != TrendBearish {
		return hold(fmt.Sprintf("trend gate: HTF %s, need bearish for short", trend))
	}

	// 5. Breakout gate, current bar included in the lookback window.
	n := c.cfg.BreakoutLookbackBars
	if dir == model.Long {
		hh := indicator.HighestHigh(window, n)
		if !indicator.Ready(hh) || close <= hh*0.995 {
			return hold(fmt.Sprintf("breakout gate: close %.2f not above %.2f (hh %.2f over %d bars)",
				close, hh*0.995, hh, n))
		}
	} else {
		ll := indicator.LowestLow(window, n)
		if !indicator.Ready(ll) || close >= ll*1.005 {
			return hold(fmt.Sprintf("breakout gate: close %.2f not below %.2f (ll %.2f over %d bars)",
				close, ll*1.005, ll, n))
		}
	}

	// 6. Optional LTF EMA filter.
	if c.cfg.UseEMAFilter {
		ema := indicator.EMA(indicator.Closes(window), c.cfg.EMALength)
		if !indicator.Ready(ema) {
			return hold("EMA filter: not ready")
		}
		if dir == model.Long && close <= ema {
			return hold(fmt.Sprintf("EMA filter: close %.2f not above EMA %.2f", close, ema))
		}
		if dir == model.Short && close >= ema {
			return hold(fmt.Sprintf("EMA filter: close %.2f not below EMA %.2f", close, ema))
		}
	}

	kind := SignalBuy
	if dir == model.Short {
		kind = SignalSell
	}
	return Signal{
		Kind: kind,
		Reason: fmt.Sprintf("delta %+d (spike %.0f, surge %.1f), HTF %s, breakout at %.2f, atr %.2f",
			delta, c.cfg.DeltaSpikeThreshold, surge, trend, close, atr),
		Confidence: 0.9,
	}
}

// evaluateExit checks the hard stop and the delta-slope exit for the
// open position against a closed bar.
func (c *Calculator) evaluateExit(bar model.Bar) Signal {
	c.mu.Lock()
	pos := c.pos
	sinceEntry := c.barsSinceEntry
	c.mu.Unlock()
	if pos == nil {
		return hold("flat")
	}

	if sinceEntry < c.cfg.MinBarsBeforeExit {
		return hold(fmt.Sprintf("exit suppressed: %d/%d bars since entry",
			sinceEntry, c.cfg.MinBarsBeforeExit))
	}

	exitKind := SignalSell
	if pos.pos.Direction == model.Short {
		exitKind = SignalBuy
	}

	// Hard stop on bar extremes.
	if pos.pos.Direction == model.Long && bar.Low <= pos.pos.StopLoss {
		return Signal{Kind: exitKind,
			Reason:     fmt.Sprintf("Hit stop (%.2f): bar low %.2f", pos.pos.StopLoss, bar.Low),
			Confidence: 1.0}
	}
	if pos.pos.Direction == model.Short && bar.High >= pos.pos.StopLoss {
		return Signal{Kind: exitKind,
			Reason:     fmt.Sprintf("Hit stop (%.2f): bar high %.2f", pos.pos.StopLoss, bar.High),
			Confidence: 1.0}
	}

	// Delta-slope exit: the signed-delta SMA at the current index
	// versus the prior one.
	l := c.cfg.DeltaSlopeExitLength
	bars := c.bars.LTF().Last(l + 1)
	if len(bars) == l+1 {
		deltas := indicator.Deltas(bars)
		smaPrev := indicator.SMA(deltas[:l], l)
		smaNow := indicator.SMA(deltas[1:], l)
		if indicator.Ready(smaPrev) && indicator.Ready(smaNow) {
			if pos.pos.Direction == model.Long && smaNow < smaPrev {
				return Signal{Kind: exitKind,
					Reason:     fmt.Sprintf("delta slope turned negative (%.1f -> %.1f)", smaPrev, smaNow),
					Confidence: 0.8}
			}
			if pos.pos.Direction == model.Short && smaNow > smaPrev {
				return Signal{Kind: exitKind,
					Reason:     fmt.Sprintf("delta slope turned positive (%.1f -> %.1f)", smaPrev, smaNow),
					Confidence: 0.8}
			}
		}
	}

	return hold("holding position")
}

// CheckFormingBar runs the intra-bar entry path against the forming
// LTF bar. Only meaningful while flat; returns hold otherwise.
func (c *Calculator) CheckFormingBar(now time.Time) Signal {
	if c.state != Ready || !c.cfg.EnableIntraBar {
		return hold("intra-bar detection inactive")
	}
	if c.HasPosition() {
		return hold("in position")
	}
	forming, ok := c.bars.Forming()
	if !ok {
		return hold("no forming bar")
	}
	if forming.TS.UnixMilli() == c.lastEntryBarTS {
		return hold("entry already signalled for this bar")
	}

	sig := c.intraBar.check(c, forming, now)
	if sig.Kind != SignalHold {
		// Intra-bar wins over the bar-close path for this bucket.
		c.lastEntryBarTS = forming.TS.UnixMilli()
	}
	return sig
}

// SetPosition records a confirmed (or optimistically locked) entry,
// computes the hard stop at entry ∓ atr*multiplier, and arms — but
// does not activate — the trailing stop.
func (c *Calculator) SetPosition(entryPrice float64, dir model.Direction, atr float64, qty int64) {
	stopDist := atr * c.cfg.ATRStopLossMultiplier
	stop := entryPrice - stopDist
	if dir == model.Short {
		stop = entryPrice + stopDist
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = &positionState{
		pos: model.Position{
			ContractID: c.cfg.ContractID,
			Direction:  dir,
			EntryPrice: entryPrice,
			EntryTime:  time.Now().UTC(),
			Qty:        qty,
			StopLoss:   stop,
		},
		entryATR: atr,
	}
	c.barsSinceEntry = 0
}

// ClearPosition destroys the position state after a flatten, confirmed
// or not; the trader treats local flat as the source of truth.
func (c *Calculator) ClearPosition() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pos = nil
	c.barsSinceEntry = 0
}

// HasPosition reports whether a position currently exists.
func (c *Calculator) HasPosition() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos != nil
}

// Position returns a copy of the current position, if any.
func (c *Calculator) Position() (model.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos == nil {
		return model.Position{}, false
	}
	return c.pos.pos, true
}

// OnTickForProtectiveStops runs the tick-level hard-stop and
// trailing-stop checks. Called on every tick while a position exists,
// for faster reaction than bar close.
func (c *Calculator) OnTickForProtectiveStops(lastPrice, atrNow float64) StopResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos == nil {
		return StopNone
	}
	atr := atrNow
	if !indicator.Ready(atr) || atr <= 0 {
		atr = c.pos.entryATR
	}
	return c.pos.onTick(lastPrice, atr, c.cfg)
}

// StopLevel returns the effective protective level (trailing when
// active, else hard stop) for logging.
func (c *Calculator) StopLevel() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos == nil {
		return math.NaN()
	}
	if c.pos.trailActive {
		return c.pos.trailLevel
	}
	return c.pos.pos.StopLoss
}
