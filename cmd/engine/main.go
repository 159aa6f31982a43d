// Command engine runs the futures signal engine: it ingests ticks,
// builds bars, evaluates the strategy, and routes orders through the
// configured broker.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/config"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/broker"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/logger"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/agg"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/bus"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/feed"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/metrics"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/notification"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/risk"
	redisstore "github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/store/redis"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/strategy"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/trader"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	configPath := flag.String("config", "", "path to engine.yaml (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[engine] config: %v", err)
	}
	logger.Init("engine", logger.ParseLevel(cfg.LogLevel))
	log.Printf("[engine] starting: mode=%s contract=%s ltf=%s htf=%s",
		cfg.Mode, cfg.ContractID, cfg.Strategy.LTFInterval, cfg.Strategy.HTFInterval)
	// Warm-up accumulates live bars; with a 15m HTF and a 21-bar EMA
	// that is hours, so say up front how long until the engine trades.
	log.Printf("[engine] warm-up from live data: no entries for ~%s",
		cfg.Strategy.WarmUpEstimate())

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Optional Redis publisher ----
	var events *redisstore.BufferedWriter
	var publisher *redisstore.Publisher
	if cfg.Redis.Enabled {
		publisher, err = redisstore.New(redisstore.PublisherConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Fatalf("[engine] redis init failed: %v", err)
		}
		defer publisher.Close()
		health.SetRedisConnected(true)

		cb := redisstore.NewBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		events = redisstore.NewBufferedWriter(ctx, publisher, cb, 10000)
		events.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
	}

	// ---- Optional trade journal ----
	var journal *trader.Journal
	if cfg.Journal.Enabled {
		journal, err = trader.NewJournal(cfg.Journal.Path)
		if err != nil {
			log.Fatalf("[engine] journal init failed: %v", err)
		}
		defer journal.Close()
		health.SetJournalOK(true)
	}

	// ---- Notifier ----
	var notifier notification.Notifier = notification.NewLogNotifier()
	if cfg.Webhook.URL != "" {
		notifier = notification.NewWebhookNotifier(cfg.Webhook.URL, cfg.Webhook.Timeout, cfg.Webhook.DedupWindow)
	}

	// ---- Broker ----
	var brk broker.Client
	var sim *broker.Sim
	switch cfg.Mode {
	case "paper":
		sim = broker.NewSim(cfg.Sim.StartEquity, cfg.Sim.SlippageBps, 0)
		brk = sim
	default:
		log.Fatalf("[engine] live mode needs a gateway broker adapter; this build ships the paper broker only")
	}

	// ---- Core pipeline ----
	aggregator := agg.New(agg.Config{
		ContractID:  cfg.ContractID,
		LTFInterval: cfg.Strategy.LTFInterval,
		HTFInterval: cfg.Strategy.HTFInterval,
		SeriesCap:   cfg.Strategy.SeriesCap,
	})
	aggregator.OnDroppedTick = func() { prom.LateTicks.Inc() }
	calc, err := strategy.NewCalculator(cfg.Strategy, aggregator)
	if err != nil {
		log.Fatalf("[engine] calculator init failed: %v", err)
	}
	sizer, err := risk.NewSizer(cfg.Strategy.RiskPerTradePct, cfg.Strategy.ATRStopLossMultiplier, cfg.Strategy.MaxContracts)
	if err != nil {
		log.Fatalf("[engine] sizer init failed: %v", err)
	}

	trd, err := trader.New(cfg.Trader, trader.Deps{
		Calculator: calc,
		Aggregator: aggregator,
		Broker:     brk,
		Sizer:      sizer,
		Notifier:   notifier,
		Journal:    journal,
		Events:     events,
		Metrics:    prom,
		OnReady:    func() { health.SetWarmUpComplete(true) },
	})
	if err != nil {
		log.Fatalf("[engine] trader init failed: %v", err)
	}

	// ---- Fan out closed bars to side consumers ----
	fanout := bus.New(1024)
	fanout.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(subscriberName(idx)).Inc()
	}
	if events != nil {
		barCh := fanout.Subscribe()
		go publisher.RunBars(ctx, events, barCh)
	}
	go fanout.Run(ctx, trd.Bars())
	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				for idx, st := range fanout.ChannelStats() {
					if st.Cap > 0 {
						prom.ChannelSaturationPct.WithLabelValues(subscriberName(idx)).
							Set(100 * float64(st.Len) / float64(st.Cap))
					}
				}
			}
		}
	}()

	// ---- Feed ----
	rawTicks := make(chan model.Tick, 10000)
	source := buildSource(cfg, prom)

	go func() {
		health.SetFeedConnected(true)
		if err := source.Run(ctx, rawTicks); err != nil && ctx.Err() == nil {
			log.Printf("[engine] feed stopped: %v", err)
		}
		health.SetFeedConnected(false)
		close(rawTicks)
	}()

	// The paper broker marks fills at the latest tick price, and the
	// health endpoint tracks feed liveness off the same pipe.
	ticks := make(chan model.Tick, 10000)
	go func() {
		defer close(ticks)
		for tick := range rawTicks {
			if sim != nil {
				sim.SetMark(tick.LastPrice)
			}
			health.SetLastTickTime(tick.TS)
			ticks <- tick
		}
	}()

	trd.Start(ctx, ticks)

	var rdb *goredis.Client
	if publisher != nil {
		rdb = publisher.Client()
	}
	var journalDB *sql.DB
	if journal != nil {
		journalDB = journal.DB()
	}
	if rdb != nil || journalDB != nil {
		health.StartLivenessChecker(ctx, rdb, journalDB, 15*time.Second)
	}

	sig := <-sigCh
	log.Printf("[engine] received %s, shutting down", sig)
	cancel()
	trd.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	log.Println("[engine] bye")
}

func buildSource(cfg *config.Config, prom *metrics.Metrics) feed.Source {
	if cfg.Feed.URL != "" {
		src, err := feed.NewWSSource(feed.WSConfig{
			URL:        cfg.Feed.URL,
			ContractID: cfg.ContractID,
			StaleAfter: cfg.Feed.StaleAfter,
		})
		if err != nil {
			log.Fatalf("[engine] feed init failed: %v", err)
		}
		src.OnReconnect = func() { prom.WSReconnects.Inc() }
		src.OnStaleTick = func() { prom.StaleTicks.Inc() }
		return src
	}
	log.Println("[engine] no feed url configured, using synthetic tick source")
	return feed.NewSimSource(feed.SimConfig{
		ContractID: cfg.ContractID,
		StartPrice: cfg.Sim.StartPrice,
		TickSize:   cfg.Sim.TickSize,
		Interval:   time.Duration(cfg.Sim.IntervalMs) * time.Millisecond,
		Drift:      cfg.Sim.Drift,
		Volatility: cfg.Sim.Volatility,
	})
}

func subscriberName(idx int) string {
	if idx == 0 {
		return "redis"
	}
	return "other"
}
