// Package bus fans closed bars out from the aggregator to independent
// consumers (trader, redis publisher, metrics) without letting a slow
// consumer stall the pipeline.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// Event is a closed bar tagged with the timeframe it closed on.
type Event struct {
	Timeframe model.Timeframe
	Bar       model.Bar
}

// FanOut broadcasts bar events from a single input channel to N output
// channels. If an output channel is full, the event is dropped for
// that consumer rather than blocking the producer.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan Event
	bufSize int

	// OnDrop is called when an event is dropped for a subscriber.
	// subscriberIdx is the 0-based index of the slow consumer.
	OnDrop func(subscriberIdx int)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new output channel. Subscribe before
// Run starts; channels added later miss earlier events.
func (f *FanOut) Subscribe() <-chan Event {
	ch := make(chan Event, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; output channels
// are closed on return.
func (f *FanOut) Run(ctx context.Context, input <-chan Event) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- ev:
				default:
					if f.OnDrop != nil {
						f.OnDrop(i)
					} else {
						log.Printf("[bus] output channel %d full, dropping %s bar %s/%v",
							i, ev.Timeframe, ev.Bar.ContractID, ev.Bar.TS)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports (length, capacity) for a subscriber channel,
// used for saturation reporting.
type ChannelStat struct {
	Len int
	Cap int
}

func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Len: len(ch), Cap: cap(ch)}
	}
	return stats
}
