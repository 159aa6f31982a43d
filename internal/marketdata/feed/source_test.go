package feed

import (
	"testing"
	"time"
)

var recv = time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)

func TestParseTick_FieldVariants(t *testing.T) {
	cases := []struct {
		name string
		msg  map[string]interface{}
	}{
		{"canonical", map[string]interface{}{
			"contractId": "ES", "price": 5001.25, "volume": float64(1200),
		}},
		{"alt symbol and price", map[string]interface{}{
			"symbolId": "ES", "lastPrice": 5001.25, "totalVolume": float64(1200),
		}},
		{"legacy names", map[string]interface{}{
			"symbol": "ES", "last": 5001.25, "cumVolume": float64(1200),
		}},
		{"string numbers", map[string]interface{}{
			"contractId": "ES", "price": "5001.25", "volume": "1200",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tick, err := parseTick(tc.msg, recv)
			if err != nil {
				t.Fatalf("parseTick: %v", err)
			}
			if tick.ContractID != "ES" {
				t.Errorf("contract = %q, want ES", tick.ContractID)
			}
			if tick.LastPrice != 5001.25 {
				t.Errorf("price = %v, want 5001.25", tick.LastPrice)
			}
			if tick.CumVolume != 1200 {
				t.Errorf("volume = %d, want 1200", tick.CumVolume)
			}
		})
	}
}

func TestParseTick_TimestampFormats(t *testing.T) {
	want := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		ts   interface{}
		want time.Time
	}{
		{"rfc3339", "2026-03-02T14:30:00Z", want},
		{"epoch seconds", float64(want.Unix()), want},
		{"epoch millis", float64(want.UnixMilli()), want},
		{"epoch nanos", float64(want.UnixNano()), want},
		{"missing falls back to receive time", nil, recv},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := map[string]interface{}{
				"contractId": "ES", "price": 100.0, "volume": float64(10),
			}
			if tc.ts != nil {
				msg["timestamp"] = tc.ts
			}
			tick, err := parseTick(msg, recv)
			if err != nil {
				t.Fatalf("parseTick: %v", err)
			}
			if !tick.TS.Equal(tc.want) {
				t.Errorf("ts = %v, want %v", tick.TS, tc.want)
			}
		})
	}
}

func TestParseTick_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		msg  map[string]interface{}
	}{
		{"no symbol", map[string]interface{}{"price": 100.0}},
		{"zero price", map[string]interface{}{"contractId": "ES", "price": 0.0}},
		{"negative price", map[string]interface{}{"contractId": "ES", "price": -5.0}},
		{"missing price", map[string]interface{}{"contractId": "ES", "volume": float64(10)}},
		{"negative volume", map[string]interface{}{"contractId": "ES", "price": 100.0, "volume": float64(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseTick(tc.msg, recv); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEpochToTime_UnitDetection(t *testing.T) {
	want := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	for _, n := range []int64{want.Unix(), want.UnixMilli(), want.UnixNano()} {
		if got := epochToTime(n); !got.Equal(want) {
			t.Errorf("epochToTime(%d) = %v, want %v", n, got, want)
		}
	}
}
