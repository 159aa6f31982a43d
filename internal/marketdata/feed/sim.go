package feed

import (
	"context"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// SimConfig configures the synthetic tick source.
type SimConfig struct {
	ContractID string
	StartPrice float64
	TickSize   float64 // minimum price increment, e.g. 0.25 for ES
	Interval   time.Duration
	Drift      float64 // per-tick drift in price units
	Volatility float64 // per-tick random range in price units
	Seed       int64
}

func (c *SimConfig) defaults() {
	if c.StartPrice <= 0 {
		c.StartPrice = 5000
	}
	if c.TickSize <= 0 {
		c.TickSize = 0.25
	}
	if c.Interval <= 0 {
		c.Interval = 100 * time.Millisecond
	}
	if c.Volatility <= 0 {
		c.Volatility = 1.0
	}
}

// SimSource emits a random-walk tick stream. It exists for paper
// trading and local development, where no gateway is reachable.
type SimSource struct {
	cfg SimConfig
	rng *rand.Rand
}

// NewSimSource creates a synthetic tick source.
func NewSimSource(cfg SimConfig) *SimSource {
	cfg.defaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimSource{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Run emits ticks until ctx is cancelled.
func (s *SimSource) Run(ctx context.Context, out chan<- model.Tick) error {
	price := s.cfg.StartPrice
	var cumVol int64

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[feedsim] emitting %s ticks every %s from %.2f",
		s.cfg.ContractID, s.cfg.Interval, price)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			move := s.cfg.Drift + (s.rng.Float64()*2-1)*s.cfg.Volatility
			price = roundToTick(price+move, s.cfg.TickSize)
			if price < s.cfg.TickSize {
				price = s.cfg.TickSize
			}
			cumVol += int64(1 + s.rng.Intn(50))

			tick := model.Tick{
				ContractID: s.cfg.ContractID,
				LastPrice:  price,
				CumVolume:  cumVol,
				TS:         now.UTC(),
			}
			select {
			case out <- tick:
			default:
				log.Printf("[feedsim] tick channel full, dropping tick")
			}
		}
	}
}

func roundToTick(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}
