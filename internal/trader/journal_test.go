package trader

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

func TestJournal_RecordAndRecent(t *testing.T) {
	jnl, err := NewJournal(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer jnl.Close()

	ts := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	events := []model.TradeEvent{
		{ContractID: "ES", Action: model.ActionBuy, Qty: 2, Price: 5001.25,
			OrderID: "SIM-1", Reason: "breakout", Detail: "path=bar_close", TS: ts},
		{ContractID: "ES", Action: model.ActionFlat, Qty: 2, Price: 5001.25,
			OrderID: "", Reason: "Hit stop (4990.00) at 4989.75", TS: ts.Add(5 * time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, jnl.Record(ev))
	}

	got, err := jnl.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, string(model.ActionFlat), got[0].Action)
	assert.Contains(t, got[0].Reason, "Hit stop")
	assert.Equal(t, string(model.ActionBuy), got[1].Action)
	assert.Equal(t, "SIM-1", got[1].OrderID)
	assert.InDelta(t, 5001.25, got[1].Price, 1e-9)
	assert.Equal(t, ts.Format(time.RFC3339), got[1].EventAt)
}

func TestJournal_RecentHonorsLimit(t *testing.T) {
	jnl, err := NewJournal(filepath.Join(t.TempDir(), "trades.db"))
	require.NoError(t, err)
	defer jnl.Close()

	ts := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, jnl.Record(model.TradeEvent{
			ContractID: "ES", Action: model.ActionBuy, Qty: 1, Price: 100,
			TS: ts.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := jnl.Recent(3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Greater(t, got[0].ID, got[2].ID)
}
