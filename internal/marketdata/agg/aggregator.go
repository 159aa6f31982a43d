// Package agg builds fixed-interval bars from a stream of ticks.
//
// One Aggregator instance serves one contract. It maintains a forming
// low-timeframe (LTF) bar accumulated tick by tick, a capped series of
// closed LTF bars, and a high-timeframe (HTF) series built by folding
// closed LTF bars into HTF buckets. Bar closure is triggered either by
// a tick whose bucket has advanced or by a periodic clock check, so
// feed silence across a boundary cannot delay closure indefinitely.
//
// Not goroutine-safe: designed to run inside the trader's single
// event-loop goroutine (ticks and clock checks share one select loop).
package agg

import (
	"log"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// Config configures the Aggregator.
type Config struct {
	ContractID  string
	LTFInterval time.Duration // e.g. 3m
	HTFInterval time.Duration // e.g. 15m
	SeriesCap   int           // max closed bars kept per series
}

// Aggregator converts ticks into two bar series plus one forming bar.
type Aggregator struct {
	cfg   Config
	ltfMs int64
	htfMs int64

	ltf *model.BarSeries
	htf *model.BarSeries

	// Forming LTF bar state. forming is nil between a clock-forced
	// close and the next tick.
	forming   *model.Bar
	ltfBucket int64

	// Forming HTF bar state, fed by closed LTF bars.
	htfForming *model.Bar
	htfBucket  int64

	// Last-tick context for volume/delta derivation.
	haveTick   bool
	lastPrice  float64
	lastCumVol int64

	// Callbacks fired on bar close (optional).
	OnLTFClose func(bar model.Bar)
	OnHTFClose func(bar model.Bar)

	// OnDroppedTick fires when a late tick is discarded (optional).
	OnDroppedTick func()
}

// New creates an Aggregator. SeriesCap defaults to 512 when zero.
func New(cfg Config) *Aggregator {
	if cfg.SeriesCap <= 0 {
		cfg.SeriesCap = 512
	}
	return &Aggregator{
		cfg:   cfg,
		ltfMs: cfg.LTFInterval.Milliseconds(),
		htfMs: cfg.HTFInterval.Milliseconds(),
		ltf:   model.NewBarSeries(cfg.SeriesCap),
		htf:   model.NewBarSeries(cfg.SeriesCap),
	}
}

// LTF returns the closed low-timeframe bar series.
func (a *Aggregator) LTF() *model.BarSeries { return a.ltf }

// HTF returns the closed high-timeframe bar series.
func (a *Aggregator) HTF() *model.BarSeries { return a.htf }

// Forming returns a copy of the forming LTF bar, or false if no bar
// is currently open.
func (a *Aggregator) Forming() (model.Bar, bool) {
	if a.forming == nil {
		return model.Bar{}, false
	}
	return *a.forming, true
}

// FormingHTF returns a copy of the forming HTF bar, or false.
func (a *Aggregator) FormingHTF() (model.Bar, bool) {
	if a.htfForming == nil {
		return model.Bar{}, false
	}
	return *a.htfForming, true
}

// OnTick folds a tick into the forming bar, sealing it first when the
// tick's wall-clock bucket has advanced. Ticks timestamped inside an
// already-closed bucket are dropped; they must never reopen it.
// Per-tick volume is the cumulative-volume difference (floored at 0
// on feed resets); signed delta follows the price direction versus
// the previous tick.
func (a *Aggregator) OnTick(price float64, cumVolume int64, ts time.Time) {
	bucket := ts.UnixMilli() / a.ltfMs

	// Late tick: its bucket already closed (an older bucket, or the
	// current one after a clock-forced close). Folding it in would
	// emit a second bar with the same timestamp, so drop it.
	if a.haveTick && (bucket < a.ltfBucket || (bucket == a.ltfBucket && a.forming == nil)) {
		if a.OnDroppedTick != nil {
			a.OnDroppedTick()
		} else {
			log.Printf("[agg] %s: dropped late tick ts=%v (bucket already closed)",
				a.cfg.ContractID, ts)
		}
		return
	}

	vol := int64(0)
	if a.haveTick {
		vol = cumVolume - a.lastCumVol
		if vol < 0 {
			vol = 0 // feed reset: treat as zero delta for this tick
		}
	}
	delta := int64(0)
	switch {
	case a.haveTick && price > a.lastPrice:
		delta = vol
	case a.haveTick && price < a.lastPrice:
		delta = -vol
	}

	if a.forming != nil && bucket > a.ltfBucket {
		// Even a multi-interval gap closes exactly one bar; empty
		// buckets are never backfilled.
		a.closeForming()
	}

	if a.forming == nil {
		a.openForming(price, vol, delta, bucket)
	} else {
		b := a.forming
		if price > b.High {
			b.High = price
		}
		if price < b.Low {
			b.Low = price
		}
		b.Close = price
		b.Volume += vol
		b.Delta += delta
	}

	a.haveTick = true
	a.lastPrice = price
	a.lastCumVol = cumVolume
}

// CheckClock force-closes the forming bar when the wall-clock bucket
// has advanced without a tick, using the last known price (the bar's
// close already holds it). No new bar opens until the next tick.
func (a *Aggregator) CheckClock(now time.Time) {
	if a.forming == nil {
		return
	}
	if now.UnixMilli()/a.ltfMs > a.ltfBucket {
		log.Printf("[agg] %s: clock closed bar ts=%v (no tick past boundary)",
			a.cfg.ContractID, a.forming.TS)
		a.closeForming()
	}
}

// SeedLTF appends a historical closed LTF bar without HTF folding or
// callbacks. Used during warm-up; bars must arrive oldest first.
func (a *Aggregator) SeedLTF(bar model.Bar) { a.ltf.Append(bar) }

// SeedHTF appends a historical closed HTF bar. Oldest first.
func (a *Aggregator) SeedHTF(bar model.Bar) { a.htf.Append(bar) }

func (a *Aggregator) openForming(price float64, vol, delta int64, bucket int64) {
	a.ltfBucket = bucket
	a.forming = &model.Bar{
		ContractID: a.cfg.ContractID,
		TS:         time.UnixMilli(bucket * a.ltfMs).UTC(),
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     vol,
		Delta:      delta,
	}
}

// closeForming seals the forming LTF bar, appends it, folds it into
// the HTF bucket, and fires callbacks.
func (a *Aggregator) closeForming() {
	bar := *a.forming
	a.forming = nil

	a.ltf.Append(bar)
	a.foldHTF(bar)
	if a.OnLTFClose != nil {
		a.OnLTFClose(bar)
	}
}

// foldHTF merges a closed LTF bar into the forming HTF bucket,
// sealing the HTF bar first when the bucket start has advanced.
func (a *Aggregator) foldHTF(bar model.Bar) {
	bucket := bar.TS.UnixMilli() / a.htfMs

	if a.htfForming != nil && bucket > a.htfBucket {
		closed := *a.htfForming
		a.htfForming = nil
		a.htf.Append(closed)
		if a.OnHTFClose != nil {
			a.OnHTFClose(closed)
		}
	}

	if a.htfForming == nil {
		a.htfBucket = bucket
		hb := bar
		hb.TS = time.UnixMilli(bucket * a.htfMs).UTC()
		a.htfForming = &hb
		return
	}

	hb := a.htfForming
	if bar.High > hb.High {
		hb.High = bar.High
	}
	if bar.Low < hb.Low {
		hb.Low = bar.Low
	}
	hb.Close = bar.Close
	hb.Volume += bar.Volume
	hb.Delta += bar.Delta
}
