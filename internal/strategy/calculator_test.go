package strategy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/agg"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// barTime is an LTF bucket boundary inside every test session window.
var barTime = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ContractID = "ES"
	cfg.TradingStart = "00:00"
	cfg.TradingEnd = "23:59"
	cfg.Timezone = "UTC"
	cfg.LTFInterval = time.Minute
	cfg.HTFInterval = 5 * time.Minute
	cfg.ATRLength = 3
	cfg.MinATRToTrade = 0.5
	cfg.DeltaSpikeThreshold = 100
	cfg.DeltaSMALength = 3
	cfg.DeltaSurgeMultiplier = 1.5
	cfg.HTFEMALength = 3
	cfg.HTFUseForming = false
	cfg.BreakoutLookbackBars = 3
	cfg.UseEMAFilter = false
	cfg.MinBarsBeforeExit = 1
	cfg.DeltaSlopeExitLength = 2
	cfg.ATRStopLossMultiplier = 1.0
	cfg.TrailActivationATR = 1.0
	cfg.TrailOffsetATR = 1.0
	cfg.TrailGracePeriod = 0
	cfg.EnableIntraBar = false
	return cfg
}

func ltfBar(i int, close float64, delta int64) model.Bar {
	return model.Bar{
		ContractID: "ES",
		TS:         barTime.Add(time.Duration(i-100) * time.Minute),
		Open:       close - 0.5,
		High:       close + 1,
		Low:        close - 1,
		Close:      close,
		Volume:     100,
		Delta:      delta,
	}
}

func htfBar(i int, close float64) model.Bar {
	return model.Bar{
		ContractID: "ES",
		TS:         barTime.Add(time.Duration(i-100) * 5 * time.Minute),
		Open:       close - 1,
		High:       close + 1,
		Low:        close - 2,
		Close:      close,
		Volume:     500,
	}
}

// warmBullish seeds a gently rising market: LTF closes step up 0.5,
// small positive deltas, HTF trend bullish.
func warmBullish(t *testing.T, cfg Config) (*Calculator, *agg.Aggregator) {
	t.Helper()
	a := agg.New(agg.Config{
		ContractID:  cfg.ContractID,
		LTFInterval: cfg.LTFInterval,
		HTFInterval: cfg.HTFInterval,
		SeriesCap:   cfg.SeriesCap,
	})
	calc, err := NewCalculator(cfg, a)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, calc.ProcessWarmUpBar(ltfBar(i, 100+0.5*float64(i), 10), model.LTF))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, calc.ProcessWarmUpBar(htfBar(i, 100+float64(i)), model.HTF))
	}
	require.NoError(t, calc.CompleteWarmUp())
	return calc, a
}

// closeBar mimics the live path: the aggregator appends the closed
// bar, then the calculator evaluates it.
func closeBar(calc *Calculator, a *agg.Aggregator, bar model.Bar) Signal {
	a.SeedLTF(bar)
	return calc.ProcessClosedBar(bar)
}

// breakoutBuyBar builds a bar that clears every long entry gate given
// the warmBullish context.
func breakoutBuyBar(a *agg.Aggregator) model.Bar {
	last, _ := a.LTF().LastBar()
	close := last.High + 1 // above every high in the lookback
	return model.Bar{
		ContractID: "ES",
		TS:         last.TS.Add(time.Minute),
		Open:       last.Close,
		High:       close + 0.25,
		Low:        last.Close - 0.5,
		Close:      close,
		Volume:     400,
		Delta:      200,
	}
}

func TestWarmUp_Lifecycle(t *testing.T) {
	cfg := testConfig()
	a := agg.New(agg.Config{ContractID: "ES", LTFInterval: cfg.LTFInterval, HTFInterval: cfg.HTFInterval})
	calc, err := NewCalculator(cfg, a)
	require.NoError(t, err)

	// Too little history refuses to complete.
	require.Error(t, calc.CompleteWarmUp())
	assert.False(t, calc.WarmUpStatus().IsComplete)

	// Signals are always hold before warm-up completes.
	sig := calc.ProcessClosedBar(ltfBar(0, 100, 10))
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "warm-up")

	// Out-of-order and malformed history are hard errors.
	require.NoError(t, calc.ProcessWarmUpBar(ltfBar(5, 100, 0), model.LTF))
	require.Error(t, calc.ProcessWarmUpBar(ltfBar(4, 100, 0), model.LTF))
	bad := ltfBar(6, 100, 0)
	bad.High = bad.Low - 5
	require.Error(t, calc.ProcessWarmUpBar(bad, model.LTF))
}

func TestWarmUp_EstimateTracksSlowestIndicator(t *testing.T) {
	cfg := testConfig() // 1m LTF, 5m HTF, ATR 3, HTF EMA 3

	// HTF EMA dominates: 3 bars * 5m = 15m vs (3+1) * 1m = 4m.
	assert.Equal(t, 15*time.Minute, cfg.WarmUpEstimate())

	// A long ATR can make the LTF side the slower one.
	cfg.ATRLength = 30
	assert.Equal(t, 31*time.Minute, cfg.WarmUpEstimate())

	// The defaults (15m HTF, 21-bar EMA) mean hours of live warm-up.
	assert.Equal(t, 21*15*time.Minute, DefaultConfig().WarmUpEstimate())
}

func TestEntry_FlatMarketHoldsOnATRGate(t *testing.T) {
	cfg := testConfig()
	cfg.ATRLength = 14
	a := agg.New(agg.Config{ContractID: "ES", LTFInterval: cfg.LTFInterval, HTFInterval: cfg.HTFInterval})
	calc, err := NewCalculator(cfg, a)
	require.NoError(t, err)

	// 20 warm-up bars with flat prices: ATR is ready but zero.
	for i := 0; i < 20; i++ {
		b := ltfBar(i, 100, 0)
		b.Open, b.High, b.Low = 100, 100, 100
		require.NoError(t, calc.ProcessWarmUpBar(b, model.LTF))
	}
	for i := 0; i < 4; i++ {
		b := htfBar(i, 100)
		b.Open, b.High, b.Low = 100, 100, 100
		require.NoError(t, calc.ProcessWarmUpBar(b, model.HTF))
	}
	require.NoError(t, calc.CompleteWarmUp())

	b := ltfBar(20, 100, 0)
	b.Open, b.High, b.Low = 100, 100, 100
	sig := closeBar(calc, a, b)
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "ATR gate")
}

func TestEntry_AllGatesPassProducesBuy(t *testing.T) {
	calc, a := warmBullish(t, testConfig())

	sig := closeBar(calc, a, breakoutBuyBar(a))
	require.Equal(t, SignalBuy, sig.Kind, "reason: %s", sig.Reason)
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
	assert.NotEmpty(t, sig.Reason)
}

func TestEntry_ShortSideSymmetry(t *testing.T) {
	cfg := testConfig()
	a := agg.New(agg.Config{ContractID: "ES", LTFInterval: cfg.LTFInterval, HTFInterval: cfg.HTFInterval})
	calc, err := NewCalculator(cfg, a)
	require.NoError(t, err)

	// Falling market: LTF down, HTF bearish, deltas negative.
	for i := 0; i < 20; i++ {
		require.NoError(t, calc.ProcessWarmUpBar(ltfBar(i, 120-0.5*float64(i), -10), model.LTF))
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, calc.ProcessWarmUpBar(htfBar(i, 120-float64(i)), model.HTF))
	}
	require.NoError(t, calc.CompleteWarmUp())

	last, _ := a.LTF().LastBar()
	close := last.Low - 1
	bar := model.Bar{
		ContractID: "ES",
		TS:         last.TS.Add(time.Minute),
		Open:       last.Close,
		High:       last.Close + 0.5,
		Low:        close - 0.25,
		Close:      close,
		Volume:     400,
		Delta:      -200,
	}
	sig := closeBar(calc, a, bar)
	require.Equal(t, SignalSell, sig.Kind, "reason: %s", sig.Reason)
	assert.InDelta(t, 0.9, sig.Confidence, 1e-9)
}

// Each gate alone must be able to veto the same otherwise-valid entry.
func TestEntry_GateConjunction(t *testing.T) {
	t.Run("session", func(t *testing.T) {
		cfg := testConfig()
		cfg.TradingStart = "08:30"
		cfg.TradingEnd = "15:00" // barTime+n is 18:xx UTC, outside
		calc, a := warmBullish(t, cfg)
		sig := closeBar(calc, a, breakoutBuyBar(a))
		assert.Equal(t, SignalHold, sig.Kind)
		assert.Contains(t, sig.Reason, "session")
	})

	t.Run("atr", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinATRToTrade = 1000 // nothing clears this
		calc, a := warmBullish(t, cfg)
		sig := closeBar(calc, a, breakoutBuyBar(a))
		assert.Equal(t, SignalHold, sig.Kind)
		assert.Contains(t, sig.Reason, "ATR gate")
	})

	t.Run("delta", func(t *testing.T) {
		calc, a := warmBullish(t, testConfig())
		bar := breakoutBuyBar(a)
		bar.Delta = 50 // below the spike threshold
		sig := closeBar(calc, a, bar)
		assert.Equal(t, SignalHold, sig.Kind)
		assert.Contains(t, sig.Reason, "delta gate")
	})

	t.Run("trend", func(t *testing.T) {
		cfg := testConfig()
		a := agg.New(agg.Config{ContractID: "ES", LTFInterval: cfg.LTFInterval, HTFInterval: cfg.HTFInterval})
		calc, err := NewCalculator(cfg, a)
		require.NoError(t, err)
		// Rising LTF but falling HTF: long entry must be vetoed.
		for i := 0; i < 20; i++ {
			require.NoError(t, calc.ProcessWarmUpBar(ltfBar(i, 100+0.5*float64(i), 10), model.LTF))
		}
		for i := 0; i < 4; i++ {
			require.NoError(t, calc.ProcessWarmUpBar(htfBar(i, 120-float64(i)), model.HTF))
		}
		require.NoError(t, calc.CompleteWarmUp())
		sig := closeBar(calc, a, breakoutBuyBar(a))
		assert.Equal(t, SignalHold, sig.Kind)
		assert.Contains(t, sig.Reason, "trend gate")
	})

	t.Run("breakout", func(t *testing.T) {
		calc, a := warmBullish(t, testConfig())
		bar := breakoutBuyBar(a)
		last, _ := a.LTF().LastBar()
		bar.Close = last.High - 3 // well below the lookback high
		bar.Open = bar.Close - 0.5
		bar.High = last.High // keep hh anchored above close
		bar.Low = bar.Close - 1
		sig := closeBar(calc, a, bar)
		assert.Equal(t, SignalHold, sig.Kind)
		assert.Contains(t, sig.Reason, "breakout gate")
	})

	t.Run("ema filter", func(t *testing.T) {
		cfg := testConfig()
		cfg.UseEMAFilter = true
		cfg.EMALength = 3
		calc, a := warmBullish(t, cfg)
		bar := breakoutBuyBar(a)
		// Passing bar clears the filter (close above rising EMA).
		sig := closeBar(calc, a, bar)
		assert.Equal(t, SignalBuy, sig.Kind, "reason: %s", sig.Reason)
	})
}

func TestEntry_PerBarCooldown(t *testing.T) {
	calc, a := warmBullish(t, testConfig())

	bar := breakoutBuyBar(a)
	sig := closeBar(calc, a, bar)
	require.Equal(t, SignalBuy, sig.Kind, "reason: %s", sig.Reason)

	// The same bar evaluated again must not re-signal.
	again := calc.ProcessClosedBar(bar)
	assert.Equal(t, SignalHold, again.Kind)
	assert.Contains(t, again.Reason, "already signalled")
}

func TestExit_HardStopReason(t *testing.T) {
	calc, a := warmBullish(t, testConfig())

	// Entry at 100 with ATR 2 and 1x multiplier puts the stop at 98.
	calc.SetPosition(100.0, model.Long, 2.0, 1)
	pos, ok := calc.Position()
	require.True(t, ok)
	assert.InDelta(t, 98.0, pos.StopLoss, 1e-9)

	last, _ := a.LTF().LastBar()
	bar := model.Bar{
		ContractID: "ES",
		TS:         last.TS.Add(time.Minute),
		Open:       99,
		High:       99.5,
		Low:        97.5, // pierces the stop
		Close:      98.5,
		Volume:     100,
	}
	sig := closeBar(calc, a, bar)
	require.Equal(t, SignalSell, sig.Kind)
	assert.Contains(t, sig.Reason, fmt.Sprintf("Hit stop (%.2f)", 98.0))
}

func TestExit_SuppressedBeforeMinBars(t *testing.T) {
	cfg := testConfig()
	cfg.MinBarsBeforeExit = 3
	calc, a := warmBullish(t, cfg)

	calc.SetPosition(100.0, model.Long, 2.0, 1)
	last, _ := a.LTF().LastBar()
	bar := model.Bar{
		ContractID: "ES",
		TS:         last.TS.Add(time.Minute),
		Open:       99, High: 99.5, Low: 90, Close: 98.5, // even through the stop
		Volume: 100,
	}
	sig := closeBar(calc, a, bar)
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "exit suppressed")
}

func TestExit_DeltaSlopeTurn(t *testing.T) {
	calc, a := warmBullish(t, testConfig())
	calc.SetPosition(110.0, model.Long, 2.0, 1)

	// Keep prices above the stop (108) and flip the delta slope hard
	// negative: recent deltas 10, 10, then -80.
	last, _ := a.LTF().LastBar()
	bar := model.Bar{
		ContractID: "ES",
		TS:         last.TS.Add(time.Minute),
		Open:       110, High: 111, Low: 109.5, Close: 110.5,
		Volume: 100,
		Delta:  -80,
	}
	sig := closeBar(calc, a, bar)
	require.Equal(t, SignalSell, sig.Kind, "reason: %s", sig.Reason)
	assert.Contains(t, sig.Reason, "delta slope")
}

func TestPosition_LifecycleAndClear(t *testing.T) {
	calc, _ := warmBullish(t, testConfig())

	assert.False(t, calc.HasPosition())
	calc.SetPosition(100.0, model.Short, 2.0, 3)
	require.True(t, calc.HasPosition())

	pos, _ := calc.Position()
	assert.Equal(t, model.Short, pos.Direction)
	assert.InDelta(t, 102.0, pos.StopLoss, 1e-9) // short stop above entry
	assert.EqualValues(t, 3, pos.Qty)

	calc.ClearPosition()
	assert.False(t, calc.HasPosition())
	// Clearing twice is harmless.
	calc.ClearPosition()
	assert.False(t, calc.HasPosition())
}

func TestProtectiveStops_TrailRatchetsMonotonically(t *testing.T) {
	calc, _ := warmBullish(t, testConfig())
	calc.SetPosition(100.0, model.Long, 2.0, 1) // stop 98, activation +2, offset 2

	// Below activation: nothing happens, level stays at the hard stop.
	assert.Equal(t, StopNone, calc.OnTickForProtectiveStops(101.0, 2.0))
	assert.InDelta(t, 98.0, calc.StopLevel(), 1e-9)

	// +3 favorable arms the trail at 103-2 = 101.
	assert.Equal(t, StopNone, calc.OnTickForProtectiveStops(103.0, 2.0))
	assert.InDelta(t, 101.0, calc.StopLevel(), 1e-9)

	// Price advances: the level only rises.
	assert.Equal(t, StopNone, calc.OnTickForProtectiveStops(105.0, 2.0))
	assert.InDelta(t, 103.0, calc.StopLevel(), 1e-9)

	// Price eases back: the level must not loosen.
	assert.Equal(t, StopNone, calc.OnTickForProtectiveStops(104.0, 2.0))
	assert.InDelta(t, 103.0, calc.StopLevel(), 1e-9)

	// Crossing the ratcheted level fires the trail exit.
	assert.Equal(t, TrailHit, calc.OnTickForProtectiveStops(102.9, 2.0))
}

func TestProtectiveStops_HardStopBeatsTrail(t *testing.T) {
	calc, _ := warmBullish(t, testConfig())
	calc.SetPosition(100.0, model.Long, 2.0, 1)

	assert.Equal(t, StopHit, calc.OnTickForProtectiveStops(97.9, 2.0))
}

func TestProtectiveStops_GracePeriodDefersTrail(t *testing.T) {
	cfg := testConfig()
	cfg.TrailGracePeriod = time.Hour
	calc, _ := warmBullish(t, cfg)
	calc.SetPosition(100.0, model.Long, 2.0, 1)

	// Well past activation, but inside the grace period: no trail.
	assert.Equal(t, StopNone, calc.OnTickForProtectiveStops(110.0, 2.0))
	assert.Equal(t, StopNone, calc.OnTickForProtectiveStops(100.5, 2.0))
	assert.InDelta(t, 98.0, calc.StopLevel(), 1e-9)

	// The hard stop still applies during grace.
	assert.Equal(t, StopHit, calc.OnTickForProtectiveStops(97.0, 2.0))
}

func TestIntraBar_ConfirmationAndSuppression(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIntraBar = true
	cfg.IntraBarConfirmSamples = 2
	cfg.IntraBarMinAccumulation = 10 * time.Second
	cfg.IntraBarCooldown = time.Minute
	cfg.DisableBarCloseEntries = false
	calc, a := warmBullish(t, cfg)

	// Open a forming bar just past the last warm-up bar with a heavy
	// positive delta and a breakout-level price.
	last, _ := a.LTF().LastBar()
	t0 := last.TS.Add(time.Minute)
	a.OnTick(last.High+1, 10000, t0)
	a.OnTick(last.High+2, 10300, t0.Add(2*time.Second)) // delta +300

	// Too young: min accumulation not reached.
	sig := calc.CheckFormingBar(t0.Add(3 * time.Second))
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "too young")

	// First qualifying sample: still waiting for confirmation.
	sig = calc.CheckFormingBar(t0.Add(20 * time.Second))
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "confirmation 1/2")

	// Second consecutive sample confirms and fires.
	sig = calc.CheckFormingBar(t0.Add(21 * time.Second))
	require.Equal(t, SignalBuy, sig.Kind, "reason: %s", sig.Reason)
	assert.Contains(t, sig.Reason, "intra-bar")

	// The bar-close path for the same bucket is now suppressed.
	fb, ok := a.Forming()
	require.True(t, ok)
	closed := fb
	sig = calc.ProcessClosedBar(closed)
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "already signalled")
}

func TestIntraBar_SampleMustClearSurgeBaseline(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIntraBar = true
	cfg.IntraBarConfirmSamples = 2
	cfg.IntraBarMinAccumulation = 10 * time.Second
	cfg.IntraBarCooldown = time.Minute
	calc, a := warmBullish(t, cfg)

	// Push the delta baseline up: three closed bars at +400 make the
	// surge threshold 400*1.5 = 600.
	for i := 20; i < 23; i++ {
		closeBar(calc, a, ltfBar(i, 100+0.5*float64(i), 400))
	}

	last, _ := a.LTF().LastBar()
	t0 := last.TS.Add(time.Minute)
	a.OnTick(last.Close, 10000, t0)
	a.OnTick(last.Close+0.1, 10300, t0.Add(2*time.Second)) // forming delta +300

	// +300 clears the spike (100) but not the surge baseline (600):
	// the sample must not count toward confirmation.
	sig := calc.CheckFormingBar(t0.Add(20 * time.Second))
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "surge")

	// Once the forming delta clears both thresholds, confirmation
	// starts from zero; the failed sample above counted for nothing.
	a.OnTick(last.Close+0.2, 10700, t0.Add(22*time.Second)) // forming delta +700
	sig = calc.CheckFormingBar(t0.Add(25 * time.Second))
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "confirmation 1/2")
}

func TestIntraBar_DisabledBarCloseEntries(t *testing.T) {
	cfg := testConfig()
	cfg.EnableIntraBar = true
	cfg.DisableBarCloseEntries = true
	calc, a := warmBullish(t, cfg)

	sig := closeBar(calc, a, breakoutBuyBar(a))
	assert.Equal(t, SignalHold, sig.Kind)
	assert.Contains(t, sig.Reason, "bar-close entries disabled")
}
