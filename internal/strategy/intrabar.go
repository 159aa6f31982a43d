package strategy

import (
	"fmt"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/indicator"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// intraBarDetector implements the fast entry path over the forming
// LTF bar: the bar must have accumulated long enough, the forming
// delta must clear the spike and surge thresholds on several
// consecutive samples in the same direction, and a cooldown spaces
// out repeated signals. When all of
// that holds, the regular entry gates run against the forming bar.
type intraBarDetector struct {
	cfg Config

	barTS      int64 // bucket of the forming bar the counter applies to
	qualifying int
	lastDir    model.Direction
	lastSignal time.Time
}

func newIntraBarDetector(cfg Config) *intraBarDetector {
	return &intraBarDetector{cfg: cfg}
}

// check runs one intra-bar sample against the forming bar. Called
// from the calculator on each tick while flat.
func (d *intraBarDetector) check(c *Calculator, forming model.Bar, now time.Time) Signal {
	// New bar: the consecutive-sample counter starts over.
	if ts := forming.TS.UnixMilli(); ts != d.barTS {
		d.barTS = ts
		d.qualifying = 0
	}

	if !d.lastSignal.IsZero() && now.Sub(d.lastSignal) < d.cfg.IntraBarCooldown {
		return hold("intra-bar cooldown")
	}

	if elapsed := now.Sub(forming.TS); elapsed < d.cfg.IntraBarMinAccumulation {
		return hold(fmt.Sprintf("forming bar too young (%s < %s)",
			elapsed.Round(time.Millisecond), d.cfg.IntraBarMinAccumulation))
	}

	// Consecutive qualifying samples, direction-consistent. Each
	// sample must clear both the spike threshold and the surge
	// baseline over the closed bars, same as the bar-close gate.
	closed := c.bars.LTF().Last(c.bars.LTF().Len())
	deltaSMA := indicator.SMA(indicator.Deltas(closed), d.cfg.DeltaSMALength)
	if !indicator.Ready(deltaSMA) {
		d.qualifying = 0
		return hold(fmt.Sprintf("delta baseline not ready (%d bars)", len(closed)))
	}
	surge := deltaSMA * d.cfg.DeltaSurgeMultiplier
	d2 := float64(forming.Delta)
	var dir model.Direction
	switch {
	case d2 > d.cfg.DeltaSpikeThreshold && d2 > surge:
		dir = model.Long
	case d2 < -d.cfg.DeltaSpikeThreshold && d2 < surge:
		dir = model.Short
	default:
		d.qualifying = 0
		return hold(fmt.Sprintf("forming delta %+d below spike %.0f / surge %.1f",
			forming.Delta, d.cfg.DeltaSpikeThreshold, surge))
	}
	if dir != d.lastDir {
		d.qualifying = 0
		d.lastDir = dir
	}
	d.qualifying++
	if d.qualifying < d.cfg.IntraBarConfirmSamples {
		return hold(fmt.Sprintf("intra-bar confirmation %d/%d", d.qualifying, d.cfg.IntraBarConfirmSamples))
	}

	// Confirmed: run the full gates with the forming bar standing in
	// for a closed bar, included in the breakout window.
	window := c.bars.LTF().Last(c.bars.LTF().Len())
	window = append(window, forming)
	sig := c.runEntryGates(now, forming.Close, forming.Delta, window)
	if sig.Kind == SignalHold {
		return sig
	}

	d.lastSignal = now
	d.qualifying = 0
	sig.Reason = "intra-bar: " + sig.Reason
	return sig
}
