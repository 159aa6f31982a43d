package strategy

import (
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// StopResult is the outcome of a tick-level protective-stop check.
type StopResult int

const (
	StopNone StopResult = iota
	StopHit             // hard stop breached
	TrailHit            // trailing level breached
)

func (r StopResult) String() string {
	switch r {
	case StopHit:
		return "stop"
	case TrailHit:
		return "trail"
	default:
		return "none"
	}
}

// positionState carries the risk state for one open position: the hard
// stop set at entry and the trailing stop that arms after a favorable
// move and only ever tightens.
type positionState struct {
	pos      model.Position
	entryATR float64

	trailActive bool
	trailLevel  float64
}

// onTick runs the protective checks in priority order: hard stop
// first, then trailing activation/ratchet, then trailing breach.
// Caller holds the calculator lock.
func (p *positionState) onTick(lastPrice, atr float64, cfg Config) StopResult {
	long := p.pos.Direction == model.Long

	if long && lastPrice <= p.pos.StopLoss {
		return StopHit
	}
	if !long && lastPrice >= p.pos.StopLoss {
		return StopHit
	}

	// Grace period: no trailing action right after entry, so ordinary
	// entry noise cannot stop us out.
	if cfg.TrailGracePeriod > 0 && time.Since(p.pos.EntryTime) < cfg.TrailGracePeriod {
		return StopNone
	}

	activation := atr * cfg.TrailActivationATR
	offset := atr * cfg.TrailOffsetATR

	if !p.trailActive {
		favorable := lastPrice - p.pos.EntryPrice
		if !long {
			favorable = p.pos.EntryPrice - lastPrice
		}
		if favorable < activation {
			return StopNone
		}
		p.trailActive = true
		p.trailLevel = p.clamp(p.candidate(lastPrice, offset, long), long)
		return StopNone
	}

	// Ratchet: the level moves toward price but never loosens, and
	// never sits worse than the hard stop.
	cand := p.clamp(p.candidate(lastPrice, offset, long), long)
	if long && cand > p.trailLevel {
		p.trailLevel = cand
	}
	if !long && cand < p.trailLevel {
		p.trailLevel = cand
	}

	if long && lastPrice <= p.trailLevel {
		return TrailHit
	}
	if !long && lastPrice >= p.trailLevel {
		return TrailHit
	}
	return StopNone
}

func (p *positionState) candidate(lastPrice, offset float64, long bool) float64 {
	if long {
		return lastPrice - offset
	}
	return lastPrice + offset
}

// clamp keeps the trailing level no worse than the hard stop.
func (p *positionState) clamp(level float64, long bool) float64 {
	if long && level < p.pos.StopLoss {
		return p.pos.StopLoss
	}
	if !long && level > p.pos.StopLoss {
		return p.pos.StopLoss
	}
	return level
}
