// Package trader owns the execution side of the engine: it consumes
// ticks, drives the aggregator clock, turns calculator signals into
// broker orders, and enforces the safety rules around them (single
// position, single-flight exits, cooldowns, rate-limit backoff).
//
// The trading loop is the only goroutine that touches the aggregator
// and calculator bar paths; broker calls run in short-lived goroutines
// so a slow broker never stalls tick ingestion.
package trader

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/broker"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/logger"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/agg"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/bus"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/metrics"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/notification"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/risk"
	storeredis "github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/store/redis"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/strategy"
)

// Config holds the execution-side tunables.
type Config struct {
	ContractID string

	OrderTimeout   time.Duration // per broker order call
	FlattenTimeout time.Duration // flatten gets its own, shorter bound

	PostExitCooldown time.Duration // no re-entry right after an exit
	RateLimitBackoff time.Duration // entry gate after a 429
	EquityRefresh    time.Duration // equity cache TTL

	// ReconcileBeforeEntry asks the broker for its net position before
	// entering and skips the entry on mismatch.
	ReconcileBeforeEntry bool

	ClockInterval time.Duration // aggregator gap-close cadence
}

// Validate applies defaults and rejects nonsense.
func (c *Config) Validate() error {
	if c.ContractID == "" {
		return fmt.Errorf("trader: contract id required")
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 5 * time.Second
	}
	if c.FlattenTimeout <= 0 {
		c.FlattenTimeout = 3 * time.Second
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 30 * time.Second
	}
	if c.EquityRefresh <= 0 {
		c.EquityRefresh = time.Minute
	}
	if c.ClockInterval <= 0 {
		c.ClockInterval = time.Second
	}
	return nil
}

// Deps are the collaborators the trader drives. Journal, Events,
// Notifier, and Metrics may be nil; the trader degrades to logging.
type Deps struct {
	Calculator *strategy.Calculator
	Aggregator *agg.Aggregator
	Broker     broker.Client
	Sizer      *risk.Sizer
	Notifier   notification.Notifier
	Journal    *Journal
	Events     *storeredis.BufferedWriter
	Metrics    *metrics.Metrics

	// OnReady fires once when warm-up completes (health reporting).
	OnReady func()
}

// Trader coordinates signals and orders for a single contract.
type Trader struct {
	cfg  Config
	calc *strategy.Calculator
	agg  *agg.Aggregator
	brk  broker.Client
	szr  *risk.Sizer
	ntf  notification.Notifier
	jnl  *Journal
	evts *storeredis.BufferedWriter
	m    *metrics.Metrics

	barOut  chan bus.Event // closed-bar feed for the fan-out bus
	onReady func()

	mu           sync.Mutex
	entering     bool
	exiting      bool
	lastExitAt   time.Time
	backoffUntil time.Time
	equity       float64
	equityAt     time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	stopped bool
}

// New wires a trader. The aggregator's close callbacks are claimed
// here; nothing else may set them.
func New(cfg Config, deps Deps) (*Trader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Calculator == nil || deps.Aggregator == nil || deps.Broker == nil || deps.Sizer == nil {
		return nil, fmt.Errorf("trader: calculator, aggregator, broker, and sizer are required")
	}
	t := &Trader{
		cfg:     cfg,
		calc:    deps.Calculator,
		agg:     deps.Aggregator,
		brk:     deps.Broker,
		szr:     deps.Sizer,
		ntf:     deps.Notifier,
		jnl:     deps.Journal,
		evts:    deps.Events,
		m:       deps.Metrics,
		barOut:  make(chan bus.Event, 256),
		onReady: deps.OnReady,
		done:    make(chan struct{}),
	}
	deps.Aggregator.OnLTFClose = t.onLTFClose
	deps.Aggregator.OnHTFClose = t.onHTFClose
	return t, nil
}

// Bars exposes the closed-bar feed for the fan-out bus.
func (t *Trader) Bars() <-chan bus.Event { return t.barOut }

// Start launches the trading loop over the tick channel. Idempotent;
// a second call is a no-op.
func (t *Trader) Start(ctx context.Context, ticks <-chan model.Tick) {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.runCtx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	go t.run(t.runCtx, ticks)
}

// Stop cancels the loop and waits for it to drain. Idempotent.
func (t *Trader) Stop() {
	t.mu.Lock()
	if !t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	cancel := t.cancel
	t.mu.Unlock()

	cancel()
	<-t.done
}

// run is the single event loop: ticks and the clock ticker.
func (t *Trader) run(ctx context.Context, ticks <-chan model.Tick) {
	defer close(t.done)
	defer close(t.barOut)

	clock := time.NewTicker(t.cfg.ClockInterval)
	defer clock.Stop()

	log.Printf("[trader] loop started for %s", t.cfg.ContractID)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[trader] loop stopped: %v", ctx.Err())
			return
		case tick, ok := <-ticks:
			if !ok {
				log.Printf("[trader] tick channel closed")
				return
			}
			t.onTick(tick)
		case now := <-clock.C:
			t.agg.CheckClock(now)
		}
	}
}

// onTick feeds the aggregator, then runs the fast paths: protective
// stops while in a position, intra-bar detection while flat.
func (t *Trader) onTick(tick model.Tick) {
	if t.m != nil {
		t.m.TicksTotal.Inc()
	}
	t.agg.OnTick(tick.LastPrice, tick.CumVolume, tick.TS)

	if t.calc.HasPosition() {
		atr := t.calc.Market().ATR
		switch res := t.calc.OnTickForProtectiveStops(tick.LastPrice, atr); res {
		case strategy.StopHit, strategy.TrailHit:
			level := t.calc.StopLevel()
			t.countExit(res.String())
			t.flatten(fmt.Sprintf("Hit %s (%.2f) at %.2f", res, level, tick.LastPrice))
		}
		return
	}

	sig := t.calc.CheckFormingBar(tick.TS)
	t.countSignal(sig)
	if sig.Kind != strategy.SignalHold {
		t.enter(sig, "intra_bar", tick.LastPrice)
	}
}

// onLTFClose runs on the trading goroutine via the aggregator callback.
func (t *Trader) onLTFClose(bar model.Bar) {
	t.publishBar(model.LTF, bar)

	// Live warm-up: the aggregator already holds every closed bar, so
	// completion is just a matter of enough history accumulating.
	if !t.calc.WarmUpStatus().IsComplete {
		if err := t.calc.CompleteWarmUp(); err == nil {
			log.Printf("[trader] warm-up complete: %d LTF / %d HTF bars",
				t.calc.WarmUpStatus().LTFBars, t.calc.WarmUpStatus().HTFBars)
			if t.onReady != nil {
				t.onReady()
			}
		}
	}

	sig := t.calc.ProcessClosedBar(bar)
	t.countSignal(sig)
	if t.m != nil {
		t.m.CurrentATR.Set(zeroIfNaN(t.calc.Market().ATR))
	}
	if sig.Kind == strategy.SignalHold {
		return
	}

	if t.calc.HasPosition() {
		t.countExit("signal")
		t.flatten(sig.Reason)
		return
	}
	t.enter(sig, "bar_close", bar.Close)
}

func (t *Trader) onHTFClose(bar model.Bar) {
	t.publishBar(model.HTF, bar)
}

func (t *Trader) publishBar(tf model.Timeframe, bar model.Bar) {
	if t.m != nil {
		t.m.BarsTotal.WithLabelValues(string(tf)).Inc()
		if bar.Volume == 0 {
			t.m.GapBarsTotal.WithLabelValues(string(tf)).Inc()
		}
	}
	select {
	case t.barOut <- bus.Event{Timeframe: tf, Bar: bar}:
	default:
		log.Printf("[trader] bar channel full, dropping %s bar %v", tf, bar.TS)
	}
}

// enter places an entry order in the background. All guards run under
// the lock so only one entry attempt can be in flight.
func (t *Trader) enter(sig strategy.Signal, path string, refPrice float64) {
	now := time.Now()

	t.mu.Lock()
	switch {
	case t.entering || t.exiting:
		t.mu.Unlock()
		return
	case t.calc.HasPosition():
		t.mu.Unlock()
		return
	case t.cfg.PostExitCooldown > 0 && !t.lastExitAt.IsZero() && now.Sub(t.lastExitAt) < t.cfg.PostExitCooldown:
		t.mu.Unlock()
		log.Printf("[trader] entry suppressed: post-exit cooldown")
		return
	case now.Before(t.backoffUntil):
		t.mu.Unlock()
		log.Printf("[trader] entry suppressed: rate-limit backoff until %v", t.backoffUntil)
		return
	}
	t.entering = true
	t.mu.Unlock()

	dir := model.Long
	side := broker.Buy
	if sig.Kind == strategy.SignalSell {
		dir = model.Short
		side = broker.Sell
	}
	atr := t.calc.Market().ATR

	go func() {
		defer func() {
			t.mu.Lock()
			t.entering = false
			t.mu.Unlock()
		}()

		ctx := logger.WithTraceID(context.Background(),
			logger.GenerateTraceID(t.cfg.ContractID, now))
		ctx, cancelFn := context.WithTimeout(ctx, t.cfg.OrderTimeout)
		defer cancelFn()

		if t.cfg.ReconcileBeforeEntry {
			np, err := t.brk.NetPosition(ctx, t.cfg.ContractID)
			if err != nil {
				t.orderFailed(side, err, "reconcile")
				return
			}
			if np.Qty != 0 {
				log.Printf("[trader] entry skipped: broker already holds %d on %s", np.Qty, t.cfg.ContractID)
				return
			}
		}

		equity, err := t.cachedEquity(ctx)
		if err != nil {
			t.orderFailed(side, err, "equity")
			return
		}
		qty, err := t.szr.Quantity(equity, atr)
		if err != nil {
			log.Printf("[trader] entry aborted: %v", err)
			return
		}

		start := time.Now()
		ord, err := t.brk.CreateOrder(ctx, broker.OrderRequest{
			ContractID: t.cfg.ContractID,
			Side:       side,
			Qty:        qty,
		})
		if t.m != nil {
			t.m.BrokerCallDur.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			t.orderFailed(side, err, "order")
			return
		}

		t.calc.SetPosition(ord.FillPrice, dir, atr, qty)
		if t.m != nil {
			t.m.OrdersTotal.WithLabelValues(string(side), "ok").Inc()
			t.m.EntriesTotal.WithLabelValues(path).Inc()
			if dir == model.Long {
				t.m.PositionOpen.Set(1)
			} else {
				t.m.PositionOpen.Set(-1)
			}
		}
		log.Printf("[trader] entered %s %s qty=%d fill=%.2f order=%s trace=%s reason=%s",
			dir, t.cfg.ContractID, qty, ord.FillPrice, ord.OrderID, logger.TraceID(ctx), sig.Reason)

		action := model.ActionBuy
		if side == broker.Sell {
			action = model.ActionSell
		}
		t.recordEvent(model.TradeEvent{
			ContractID: t.cfg.ContractID,
			Action:     action,
			Qty:        qty,
			Price:      ord.FillPrice,
			OrderID:    ord.OrderID,
			Reason:     sig.Reason,
			Detail:     fmt.Sprintf("path=%s atr=%.4f ref=%.2f", path, atr, refPrice),
			TS:         time.Now().UTC(),
		})
	}()
}

// flatten closes the position in the background, single-flight. Local
// state clears no matter what the broker says: a stuck exit must not
// leave the engine thinking it is still positioned, and a duplicate
// flatten on an already-flat contract is harmless.
func (t *Trader) flatten(reason string) {
	t.mu.Lock()
	if t.exiting {
		t.mu.Unlock()
		return
	}
	t.exiting = true
	t.mu.Unlock()

	pos, hadPos := t.calc.Position()

	go func() {
		defer func() {
			t.mu.Lock()
			t.exiting = false
			t.lastExitAt = time.Now()
			t.mu.Unlock()
		}()

		ctx, cancelFn := context.WithTimeout(context.Background(), t.cfg.FlattenTimeout)
		defer cancelFn()

		start := time.Now()
		err := t.brk.ClosePosition(ctx, t.cfg.ContractID)
		if t.m != nil {
			t.m.BrokerCallDur.Observe(time.Since(start).Seconds())
		}

		t.calc.ClearPosition()
		if t.m != nil {
			t.m.PositionOpen.Set(0)
		}

		switch {
		case err == nil:
			log.Printf("[trader] flattened %s: %s", t.cfg.ContractID, reason)
		case broker.IsRateLimited(err):
			t.openBackoff()
			log.Printf("[trader] flatten rate-limited, local state cleared; broker may still hold %s: %v",
				t.cfg.ContractID, err)
		default:
			if t.m != nil && ctx.Err() != nil {
				t.m.FlattenTimeouts.Inc()
			}
			log.Printf("[trader] flatten failed, local state cleared; broker may still hold %s: %v",
				t.cfg.ContractID, err)
		}

		ev := model.TradeEvent{
			ContractID: t.cfg.ContractID,
			Action:     model.ActionFlat,
			Reason:     reason,
			TS:         time.Now().UTC(),
		}
		if hadPos {
			ev.Qty = pos.Qty
			ev.Price = pos.EntryPrice
			ev.Detail = fmt.Sprintf("dir=%s entry=%.2f stop=%.2f", pos.Direction, pos.EntryPrice, pos.StopLoss)
		}
		t.recordEvent(ev)
	}()
}

// cachedEquity returns the cached equity, refreshing it from the
// broker when the TTL has lapsed.
func (t *Trader) cachedEquity(ctx context.Context) (float64, error) {
	t.mu.Lock()
	if !t.equityAt.IsZero() && time.Since(t.equityAt) < t.cfg.EquityRefresh {
		eq := t.equity
		t.mu.Unlock()
		return eq, nil
	}
	t.mu.Unlock()

	eq, err := t.brk.Equity(ctx)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.equity = eq
	t.equityAt = time.Now()
	t.mu.Unlock()

	if t.m != nil {
		t.m.EquityCached.Set(eq)
	}
	return eq, nil
}

func (t *Trader) orderFailed(side broker.Side, err error, stage string) {
	if broker.IsRateLimited(err) {
		t.openBackoff()
		if t.m != nil {
			t.m.OrdersTotal.WithLabelValues(string(side), "rate_limited").Inc()
		}
		log.Printf("[trader] %s rate-limited, backing off %s: %v", stage, t.cfg.RateLimitBackoff, err)
		return
	}
	if t.m != nil {
		t.m.OrdersTotal.WithLabelValues(string(side), "error").Inc()
	}
	log.Printf("[trader] %s failed: %v", stage, err)
}

func (t *Trader) openBackoff() {
	t.mu.Lock()
	t.backoffUntil = time.Now().Add(t.cfg.RateLimitBackoff)
	t.mu.Unlock()
	if t.m != nil {
		t.m.RateLimitBackoff.Inc()
	}
}

// recordEvent journals, publishes, and notifies a trade event.
// Failures here are logged only.
func (t *Trader) recordEvent(ev model.TradeEvent) {
	if t.jnl != nil {
		if err := t.jnl.Record(ev); err != nil {
			log.Printf("[trader] journal write failed: %v", err)
		}
	}
	if t.evts != nil {
		if err := t.evts.WriteTradeEvent(ev); err != nil {
			log.Printf("[trader] event publish failed: %v", err)
		}
	}
	if t.ntf != nil {
		ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelFn()
		alert := notification.TradeAlert{
			Symbol: ev.ContractID,
			Action: string(ev.Action),
			Qty:    ev.Qty,
			Price:  ev.Price,
			Reason: ev.Reason,
		}
		if err := t.ntf.Send(ctx, alert); err != nil {
			log.Printf("[trader] notification failed: %v", err)
		}
	}
}

func (t *Trader) countSignal(sig strategy.Signal) {
	if t.m != nil {
		t.m.SignalsTotal.WithLabelValues(string(sig.Kind)).Inc()
	}
}

func (t *Trader) countExit(cause string) {
	if t.m != nil {
		t.m.ExitsTotal.WithLabelValues(cause).Inc()
	}
}

func zeroIfNaN(v float64) float64 {
	if v != v {
		return 0
	}
	return v
}
