// Package redis publishes closed bars and trade events to Redis for
// downstream dashboards and audit consumers. The engine trades fine
// without Redis; a circuit breaker plus local buffer keeps an outage
// from touching the hot path.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/marketdata/bus"
	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

const (
	// Stream trimming: a trading day of 3m bars is ~460; keep a few days.
	barStreamMaxLen   = 2000
	tradeStreamMaxLen = 5000
	defaultLatestTTL  = 30 * time.Minute
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes bar and trade-event payloads to Redis streams,
// latest-value keys, and pub/sub channels.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Close releases the client connection pool.
func (p *Publisher) Close() error { return p.client.Close() }

// RunBars consumes closed-bar events from the fan-out bus and writes
// each through the buffered writer. Blocks until ctx is cancelled or
// the channel is closed.
func (p *Publisher) RunBars(ctx context.Context, bw *BufferedWriter, barCh <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-barCh:
			if !ok {
				return
			}
			if err := bw.WriteBar(ev.Timeframe, ev.Bar); err != nil && err != ErrBreakerOpen {
				log.Printf("[redis] bar write error: %v", err)
			}
		}
	}
}

// writeBar does XADD + SET latest + PUBLISH in one pipeline.
func (p *Publisher) writeBar(ctx context.Context, tf model.Timeframe, bar model.Bar) error {
	payload := string(bar.JSON())
	stream := barStreamKey(tf, bar.ContractID)
	latest := "bar:" + string(tf) + ":latest:" + bar.ContractID

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Set(ctx, latest, payload, defaultLatestTTL)
	pipe.Publish(ctx, "pub:"+stream, payload)
	_, err := pipe.Exec(ctx)
	return err
}

// writeTradeEvent appends the event to the trade audit stream and
// publishes it for live subscribers.
func (p *Publisher) writeTradeEvent(ctx context.Context, ev model.TradeEvent) error {
	payload := string(ev.JSON())
	stream := "trades:" + ev.ContractID

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: tradeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	})
	pipe.Publish(ctx, "pub:"+stream, payload)
	_, err := pipe.Exec(ctx)
	return err
}

func barStreamKey(tf model.Timeframe, contractID string) string {
	return "bar:" + string(tf) + ":" + contractID
}
