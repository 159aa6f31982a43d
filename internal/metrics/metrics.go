// Package metrics exposes Prometheus instrumentation and the
// /healthz endpoint for the signal engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	StaleTicks   prometheus.Counter
	LateTicks    prometheus.Counter
	BarsTotal    *prometheus.CounterVec // labels: tf
	GapBarsTotal *prometheus.CounterVec // labels: tf

	SignalsTotal *prometheus.CounterVec // labels: kind (buy|sell|hold)
	EntriesTotal *prometheus.CounterVec // labels: path (bar_close|intra_bar)
	ExitsTotal   *prometheus.CounterVec // labels: cause (signal|stop|trail)

	OrdersTotal      *prometheus.CounterVec // labels: side, status (ok|error|rate_limited)
	BrokerCallDur    prometheus.Histogram
	FlattenTimeouts  prometheus.Counter
	RateLimitBackoff prometheus.Counter

	PositionOpen prometheus.Gauge // 0 flat, 1 long, -1 short
	EquityCached prometheus.Gauge
	CurrentATR   prometheus.Gauge

	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	WSReconnects prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Total ticks accepted from the feed",
		}),
		StaleTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_stale_ticks_total",
			Help: "Ticks rejected for stale or malformed fields",
		}),
		LateTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_late_ticks_total",
			Help: "Ticks dropped because their bar bucket had already closed",
		}),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_bars_total",
			Help: "Closed bars emitted (by timeframe)",
		}, []string{"tf"}),
		GapBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_gap_bars_total",
			Help: "Bars closed by the clock with no tick in the bucket",
		}, []string{"tf"}),

		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals produced by the calculator (by kind)",
		}, []string{"kind"}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_entries_total",
			Help: "Entries placed (by detection path)",
		}, []string{"path"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_exits_total",
			Help: "Position exits (by cause)",
		}, []string{"cause"}),

		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Broker order calls (by side and status)",
		}, []string{"side", "status"}),
		BrokerCallDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_broker_call_duration_seconds",
			Help:    "Broker call latency",
			Buckets: prometheus.DefBuckets,
		}),
		FlattenTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_flatten_timeouts_total",
			Help: "Flatten calls that timed out and fell back to local clear",
		}),
		RateLimitBackoff: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_rate_limit_backoff_total",
			Help: "Broker rate-limit rejections that opened the backoff gate",
		}),

		PositionOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_position_open",
			Help: "Position state: 0 flat, 1 long, -1 short",
		}),
		EquityCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_equity_cached",
			Help: "Last cached account equity",
		}),
		CurrentATR: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_atr_current",
			Help: "Current LTF ATR value (0 while not ready)",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_fanout_drops_total",
			Help: "Bar events dropped for slow subscribers",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_channel_saturation_pct",
			Help: "Channel fill percentage (by channel)",
		}, []string{"channel_name"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state: 0=closed, 1=open, 2=half-open",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker opened",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_redis_buffered_writes_total",
			Help: "Writes buffered locally while the circuit was open",
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_ws_reconnects_total",
			Help: "WebSocket feed reconnection attempts",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.StaleTicks,
		m.LateTicks,
		m.BarsTotal,
		m.GapBarsTotal,
		m.SignalsTotal,
		m.EntriesTotal,
		m.ExitsTotal,
		m.OrdersTotal,
		m.BrokerCallDur,
		m.FlattenTimeouts,
		m.RateLimitBackoff,
		m.PositionOpen,
		m.EquityCached,
		m.CurrentATR,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.WSReconnects,
	)

	return m
}

// HealthStatus represents the engine health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	WarmUpComplete bool      `json:"warmup_complete"`
	RedisConnected bool      `json:"redis_connected"`
	JournalOK      bool      `json:"journal_ok"`

	// Liveness probe results
	RedisLatencyMs   float64   `json:"redis_latency_ms"`
	JournalLatencyMs float64   `json:"journal_latency_ms"`
	LastCheckAt      time.Time `json:"last_check_at"`
	StartedAt        time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetWarmUpComplete(v bool) {
	h.mu.Lock()
	h.WarmUpComplete = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetJournalOK(v bool) {
	h.mu.Lock()
	h.JournalOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckJournal pings the sqlite journal and records latency + health.
func (h *HealthStatus) CheckJournal(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.JournalOK = err == nil
	h.JournalLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, journalDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if journalDB != nil {
					h.CheckJournal(probeCtx, journalDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.FeedConnected || !h.WarmUpComplete {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status           string  `json:"status"`
		Uptime           string  `json:"uptime"`
		FeedConnected    bool    `json:"feed_connected"`
		LastTickTime     string  `json:"last_tick_time"`
		TickAge          string  `json:"tick_age"`
		WarmUpComplete   bool    `json:"warmup_complete"`
		RedisConnected   bool    `json:"redis_connected"`
		RedisLatencyMs   float64 `json:"redis_latency_ms"`
		JournalOK        bool    `json:"journal_ok"`
		JournalLatencyMs float64 `json:"journal_latency_ms"`
		LastCheckAt      string  `json:"last_check_at"`
	}{
		Status:           overallStatus,
		Uptime:           time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:    h.FeedConnected,
		LastTickTime:     h.LastTickTime.Format(time.RFC3339),
		TickAge:          tickAge,
		WarmUpComplete:   h.WarmUpComplete,
		RedisConnected:   h.RedisConnected,
		RedisLatencyMs:   h.RedisLatencyMs,
		JournalOK:        h.JournalOK,
		JournalLatencyMs: h.JournalLatencyMs,
		LastCheckAt:      h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
