package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

func bar(open, high, low, close float64) model.Bar {
	return model.Bar{
		ContractID: "TEST",
		TS:         time.Unix(0, 0).UTC(),
		Open:       open, High: high, Low: low, Close: close,
		Volume: 100,
	}
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func TestSMA_Correctness(t *testing.T) {
	// Hand-calculated SMA(3):
	// values 100, 102, 104, 103, 105 -> (104+103+105)/3 = 104.0
	values := []float64{100, 102, 104, 103, 105}
	assertClose(t, "SMA(3)", SMA(values, 3), 104.0, 0.0001)

	// Too few values -> NaN, never zero.
	if !math.IsNaN(SMA(values[:2], 3)) {
		t.Errorf("SMA with 2 values, period 3: want NaN, got %v", SMA(values[:2], 3))
	}
}

func TestEMA_Correctness(t *testing.T) {
	// EMA(3) over 100, 102, 104, 103, 105:
	// seed = SMA(100,102,104) = 102, k = 0.5
	// after 103: 102.5; after 105: 103.75
	values := []float64{100, 102, 104, 103, 105}
	assertClose(t, "EMA(3)", EMA(values, 3), 103.75, 0.0001)

	if !math.IsNaN(EMA(values[:2], 3)) {
		t.Errorf("EMA with 2 values, period 3: want NaN")
	}
}

func TestSlope(t *testing.T) {
	assertClose(t, "slope rising", Slope([]float64{1, 3, 5}), 2.0, 0.0001)
	assertClose(t, "slope flat", Slope([]float64{4, 4, 4, 4}), 0.0, 0.0001)
	if !math.IsNaN(Slope([]float64{7})) {
		t.Errorf("slope of one point: want NaN")
	}
}

func TestATR_WilderCorrectness(t *testing.T) {
	// ATR(2) hand-calc. TRs below are all 3:
	//   b1 vs b0.close=100: max(102-99, |102-100|, |99-100|)  = 3
	//   b2 vs b1.close=101: max(103-100, |103-101|, |100-101|) = 3
	//   seed = (3+3)/2 = 3
	//   b3 vs b2.close=102: TR = 3 -> atr = (3*1+3)/2 = 3
	bars := []model.Bar{
		bar(100, 101, 99, 100),
		bar(100, 102, 99, 101),
		bar(101, 103, 100, 102),
		bar(102, 104, 101, 103),
	}
	assertClose(t, "ATR(2)", ATR(bars, 2), 3.0, 0.0001)
}

func TestATR_Readiness(t *testing.T) {
	// With period 14, 14 bars are not enough (TR needs a prior close);
	// the 15th bar makes it ready.
	var bars []model.Bar
	for i := 0; i < 14; i++ {
		p := 100 + float64(i)
		bars = append(bars, bar(p, p+2, p-1, p+1))
	}
	if v := ATR(bars, 14); !math.IsNaN(v) {
		t.Fatalf("ATR with 14 bars: want NaN, got %v", v)
	}

	bars = append(bars, bar(114, 116, 113, 115))
	v := ATR(bars, 14)
	if math.IsNaN(v) || v <= 0 {
		t.Fatalf("ATR with 15 bars: want positive value, got %v", v)
	}
}

func TestATR_FlatMarketIsZeroNotNaN(t *testing.T) {
	// Flat prices are a valid, ready ATR of zero. Entry gating treats
	// that as "do not trade", not as "not ready".
	var bars []model.Bar
	for i := 0; i < 20; i++ {
		bars = append(bars, bar(100, 100, 100, 100))
	}
	v := ATR(bars, 14)
	if math.IsNaN(v) {
		t.Fatalf("flat-market ATR: want 0, got NaN")
	}
	assertClose(t, "flat ATR", v, 0, 1e-9)
}

func TestATR_InvalidBarTruncatesHistory(t *testing.T) {
	// A NaN bar in the middle cuts the usable tail; with too few valid
	// bars after it, ATR is not ready.
	var bars []model.Bar
	for i := 0; i < 10; i++ {
		p := 100 + float64(i)
		bars = append(bars, bar(p, p+2, p-1, p+1))
	}
	bad := bar(110, 112, 109, 111)
	bad.Close = math.NaN()
	bars = append(bars, bad)
	for i := 0; i < 5; i++ {
		p := 111 + float64(i)
		bars = append(bars, bar(p, p+2, p-1, p+1))
	}
	if v := ATR(bars, 14); !math.IsNaN(v) {
		t.Fatalf("ATR over corrupted history: want NaN, got %v", v)
	}
}

func TestHighestHighLowestLow(t *testing.T) {
	bars := []model.Bar{
		bar(100, 105, 98, 101),
		bar(101, 103, 97, 102),
		bar(102, 110, 99, 104),
	}
	assertClose(t, "HH(3)", HighestHigh(bars, 3), 110, 0.0001)
	assertClose(t, "LL(3)", LowestLow(bars, 3), 97, 0.0001)
	assertClose(t, "HH(2)", HighestHigh(bars, 2), 110, 0.0001)

	if !math.IsNaN(HighestHigh(bars, 4)) {
		t.Errorf("HH over short window: want NaN")
	}
	if !math.IsNaN(LowestLow(bars, 4)) {
		t.Errorf("LL over short window: want NaN")
	}
}
