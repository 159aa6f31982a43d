// Package feed ingests raw market data and emits normalized ticks.
// All vendor quirks (field-name variants, epoch units, string
// numbers) are resolved here so everything downstream sees one tick
// shape.
package feed

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// Source streams normalized ticks into out until ctx is cancelled or
// the source ends. Implementations own their reconnect policy.
type Source interface {
	Run(ctx context.Context, out chan<- model.Tick) error
}

// priceKeys / volumeKeys / timeKeys are the field-name variants seen
// across gateway payload versions, in preference order.
var (
	symbolKeys = []string{"contractId", "symbolId", "symbol"}
	priceKeys  = []string{"price", "lastPrice", "last"}
	volumeKeys = []string{"volume", "totalVolume", "cumVolume"}
	timeKeys   = []string{"timestamp", "ts", "time"}
)

// parseTick converts a raw payload map into a normalized tick.
// Malformed payloads (no symbol, non-positive price) are errors; a
// missing timestamp falls back to the receive time.
func parseTick(msg map[string]interface{}, now time.Time) (model.Tick, error) {
	var contractID string
	for _, k := range symbolKeys {
		if s, ok := msg[k].(string); ok && s != "" {
			contractID = s
			break
		}
	}
	if contractID == "" {
		return model.Tick{}, fmt.Errorf("feed: tick missing contract id")
	}

	price := firstFloat(msg, priceKeys)
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return model.Tick{}, fmt.Errorf("feed: tick for %s has invalid price %v", contractID, price)
	}

	cumVol := int64(firstFloat(msg, volumeKeys))
	if cumVol < 0 {
		return model.Tick{}, fmt.Errorf("feed: tick for %s has negative volume %d", contractID, cumVol)
	}

	ts := parseTime(msg, now)

	return model.Tick{
		ContractID: contractID,
		LastPrice:  price,
		CumVolume:  cumVol,
		TS:         ts,
	}, nil
}

func firstFloat(msg map[string]interface{}, keys []string) float64 {
	for _, k := range keys {
		if v, ok := msg[k]; ok {
			if f := toFloat64(v); f != 0 {
				return f
			}
		}
	}
	return 0
}

// parseTime handles RFC3339 strings and epoch numbers in seconds,
// milliseconds, or nanoseconds.
func parseTime(msg map[string]interface{}, now time.Time) time.Time {
	for _, k := range timeKeys {
		v, ok := msg[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC()
			}
		default:
			if n := int64(toFloat64(v)); n > 0 {
				return epochToTime(n)
			}
		}
	}
	return now.UTC()
}

func epochToTime(n int64) time.Time {
	switch {
	case n > 1e17: // nanoseconds
		return time.Unix(0, n).UTC()
	case n > 1e11: // milliseconds
		return time.Unix(0, n*int64(time.Millisecond)).UTC()
	default: // seconds
		return time.Unix(n, 0).UTC()
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
