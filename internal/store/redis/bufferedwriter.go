package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// pendingWrite is a write queued while the breaker is open.
type pendingWrite struct {
	Kind      string // "bar" or "trade"
	Timeframe model.Timeframe
	Data      []byte // JSON-encoded payload
}

// BufferedWriter wraps the Publisher with a circuit breaker. During
// circuit-open state, writes are buffered locally and replayed when
// the circuit closes again, so a Redis outage loses nothing and never
// slows the trading loop.
type BufferedWriter struct {
	pub *Publisher
	cb  *Breaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int // oldest writes drop beyond this

	OnBuffer func()          // called when a write is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered writes
}

// NewBufferedWriter creates a BufferedWriter wrapping the publisher.
func NewBufferedWriter(ctx context.Context, pub *Publisher, cb *Breaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bw := &BufferedWriter{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	// Replay the buffer whenever the circuit closes.
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// WriteBar writes a closed bar through the circuit breaker, buffering
// it locally if the circuit is open.
func (bw *BufferedWriter) WriteBar(tf model.Timeframe, bar model.Bar) error {
	err := bw.cb.Do(func() error {
		return bw.pub.writeBar(bw.ctx, tf, bar)
	})
	if err == ErrBreakerOpen {
		bw.bufferWrite("bar", tf, bar)
		return nil // queued for replay, not lost
	}
	return err
}

// WriteTradeEvent writes a trade event through the circuit breaker.
func (bw *BufferedWriter) WriteTradeEvent(ev model.TradeEvent) error {
	err := bw.cb.Do(func() error {
		return bw.pub.writeTradeEvent(bw.ctx, ev)
	})
	if err == ErrBreakerOpen {
		bw.bufferWrite("trade", "", ev)
		return nil
	}
	return err
}

func (bw *BufferedWriter) bufferWrite(kind string, tf model.Timeframe, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis-buffer] marshal error: %v", err)
		return
	}

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Oldest writes drop first when the buffer is full.
		bw.buffer = bw.buffer[1:]
	}
	bw.buffer = append(bw.buffer, pendingWrite{Kind: kind, Timeframe: tf, Data: data})

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays all buffered writes through the publisher.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	// Swap the buffer out so replay runs without the lock.
	toFlush := bw.buffer
	bw.buffer = make([]pendingWrite, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for _, pw := range toFlush {
		switch pw.Kind {
		case "bar":
			var bar model.Bar
			if json.Unmarshal(pw.Data, &bar) == nil {
				if err := bw.pub.writeBar(bw.ctx, pw.Timeframe, bar); err != nil {
					log.Printf("[redis-buffer] replay bar: %v", err)
				}
			}
		case "trade":
			var ev model.TradeEvent
			if json.Unmarshal(pw.Data, &ev) == nil {
				if err := bw.pub.writeTradeEvent(bw.ctx, ev); err != nil {
					log.Printf("[redis-buffer] replay trade: %v", err)
				}
			}
		}
		flushed++
	}

	log.Printf("[redis-buffer] flushed %d buffered writes", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered writes waiting to flush.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Underlying returns the wrapped publisher for direct access.
func (bw *BufferedWriter) Underlying() *Publisher {
	return bw.pub
}
