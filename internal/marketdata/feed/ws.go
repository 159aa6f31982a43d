package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// WSConfig configures the websocket tick source.
type WSConfig struct {
	URL        string
	ContractID string // only ticks for this contract pass through

	// StaleAfter drops ticks whose timestamp trails the wall clock by
	// more than this. Zero disables the check.
	StaleAfter time.Duration

	ReadTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
}

// WSSource streams ticks from a websocket gateway, normalizing each
// payload at ingestion and reconnecting with exponential backoff.
type WSSource struct {
	cfg WSConfig

	// Optional hooks for metrics.
	OnReconnect func()
	OnStaleTick func()
}

// NewWSSource creates a websocket tick source.
func NewWSSource(cfg WSConfig) (*WSSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed: websocket url required")
	}
	if cfg.ContractID == "" {
		return nil, fmt.Errorf("feed: contract id required")
	}
	cfg.defaults()
	return &WSSource{cfg: cfg}, nil
}

// Run connects and streams until ctx is cancelled. Connection loss is
// not an error; the source backs off and reconnects.
func (s *WSSource) Run(ctx context.Context, out chan<- model.Tick) error {
	backoff := s.cfg.ReconnectMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.stream(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("[feed] connection lost (%v), reconnecting in %s", err, backoff)
		if s.OnReconnect != nil {
			s.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.ReconnectMax {
			backoff = s.cfg.ReconnectMax
		}
	}
}

// stream runs one connection until it fails.
func (s *WSSource) stream(ctx context.Context, out chan<- model.Tick) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Printf("[feed] connected to %s", s.cfg.URL)

	// Close the connection when ctx ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[feed] bad payload, skipping: %v", err)
			continue
		}

		now := time.Now()
		tick, err := parseTick(msg, now)
		if err != nil {
			log.Printf("[feed] %v", err)
			continue
		}
		if tick.ContractID != s.cfg.ContractID {
			continue
		}
		if s.cfg.StaleAfter > 0 && now.Sub(tick.TS) > s.cfg.StaleAfter {
			if s.OnStaleTick != nil {
				s.OnStaleTick()
			}
			continue
		}

		select {
		case out <- tick:
		default:
			log.Printf("[feed] tick channel full, dropping tick")
		}
	}
}
