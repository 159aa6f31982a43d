package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Sim is an in-process broker that fills market orders at a caller-fed
// mark price with configurable slippage. Useful for paper trading and
// tests; it satisfies Client so the trader cannot tell it apart from a
// live adapter.
type Sim struct {
	mu       sync.Mutex
	equity   float64
	mark     float64 // last known price, fed by the engine
	pos      map[string]NetPosition
	orderSeq int64

	slippageBps float64 // e.g. 5 = 0.05%
	latency     time.Duration
}

// NewSim creates a simulated broker with the given starting equity.
func NewSim(startingEquity float64, slippageBps float64, latency time.Duration) *Sim {
	return &Sim{
		equity:      startingEquity,
		pos:         make(map[string]NetPosition),
		slippageBps: slippageBps,
		latency:     latency,
	}
}

// SetMark updates the price simulated fills execute at.
func (s *Sim) SetMark(price float64) {
	s.mu.Lock()
	s.mark = price
	s.mu.Unlock()
}

func (s *Sim) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.latency):
		return nil
	}
}

// CreateOrder fills immediately at the mark price plus slippage
// against the taker.
func (s *Sim) CreateOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := s.wait(ctx); err != nil {
		return Order{}, err
	}
	if req.Qty <= 0 {
		return Order{}, fmt.Errorf("broker: order qty must be positive, got %d", req.Qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mark <= 0 {
		return Order{}, fmt.Errorf("broker: no mark price for %s", req.ContractID)
	}

	s.orderSeq++
	fill := s.mark
	slip := s.mark * s.slippageBps / 10000
	if req.Side == Buy {
		fill += slip
	} else {
		fill -= slip
	}

	signedQty := req.Qty
	if req.Side == Sell {
		signedQty = -req.Qty
	}
	cur := s.pos[req.ContractID]
	s.applyFill(&cur, signedQty, fill)
	cur.ContractID = req.ContractID
	s.pos[req.ContractID] = cur

	ord := Order{
		OrderID:    fmt.Sprintf("SIM-%d", s.orderSeq),
		ContractID: req.ContractID,
		Side:       req.Side,
		Qty:        req.Qty,
		FillPrice:  fill,
		PlacedAt:   time.Now().UTC(),
	}
	log.Printf("[sim-broker] %s %s qty=%d fill=%.2f order=%s",
		req.Side, req.ContractID, req.Qty, fill, ord.OrderID)
	return ord, nil
}

// applyFill nets the signed fill into the position, realizing P&L on
// the closed portion.
func (s *Sim) applyFill(cur *NetPosition, signedQty int64, fill float64) {
	if cur.Qty == 0 || sameSign(cur.Qty, signedQty) {
		total := cur.Qty + signedQty
		if total != 0 {
			cur.AvgPrice = (cur.AvgPrice*abs64f(cur.Qty) + fill*abs64f(signedQty)) / abs64f(total)
		}
		cur.Qty = total
		return
	}

	closed := signedQty
	if abs64(signedQty) > abs64(cur.Qty) {
		closed = -cur.Qty
	}
	pnl := (fill - cur.AvgPrice) * abs64f(closed)
	if cur.Qty < 0 {
		pnl = -pnl
	}
	s.equity += pnl

	cur.Qty += signedQty
	if cur.Qty == 0 {
		cur.AvgPrice = 0
	} else if !sameSign(cur.Qty, cur.Qty-signedQty) {
		// Flipped through flat: remainder opens at the fill price.
		cur.AvgPrice = fill
	}
}

// ClosePosition flattens the contract at the mark. Idempotent.
func (s *Sim) ClosePosition(ctx context.Context, contractID string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.pos[contractID]
	if !ok || cur.Qty == 0 {
		return nil
	}
	if s.mark <= 0 {
		return fmt.Errorf("broker: no mark price for %s", contractID)
	}
	pnl := (s.mark - cur.AvgPrice) * abs64f(cur.Qty)
	if cur.Qty < 0 {
		pnl = -pnl
	}
	s.equity += pnl
	log.Printf("[sim-broker] flatten %s qty=%d at %.2f pnl=%.2f", contractID, cur.Qty, s.mark, pnl)
	delete(s.pos, contractID)
	return nil
}

// NetPosition reports the simulated position.
func (s *Sim) NetPosition(ctx context.Context, contractID string) (NetPosition, error) {
	if err := s.wait(ctx); err != nil {
		return NetPosition{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.pos[contractID]
	if !ok {
		return NetPosition{ContractID: contractID}, nil
	}
	return cur, nil
}

// Equity reports simulated account equity (realized P&L only).
func (s *Sim) Equity(ctx context.Context) (float64, error) {
	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.equity, nil
}

func sameSign(a, b int64) bool { return (a > 0) == (b > 0) }

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func abs64f(v int64) float64 { return float64(abs64(v)) }
