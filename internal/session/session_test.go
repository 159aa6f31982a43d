package session

import (
	"testing"
	"time"
)

func TestWindowContains(t *testing.T) {
	w, err := NewWindow("08:30", "15:00", "America/Chicago")
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}

	// 2026-03-02 is standard time in Chicago (UTC-6).
	cases := []struct {
		name string
		utc  time.Time
		want bool
	}{
		{"before open", time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC), false},  // 08:00 CT
		{"at open", time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC), true},      // 08:30 CT
		{"mid session", time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), true},   // 12:00 CT
		{"at close", time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC), true},      // 15:00 CT inclusive
		{"after close", time.Date(2026, 3, 2, 21, 1, 0, 0, time.UTC), false},  // 15:01 CT
		{"overnight", time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), false},     // 21:00 CT prev day
	}
	for _, tc := range cases {
		if got := w.Contains(tc.utc); got != tc.want {
			t.Errorf("%s: Contains(%v) = %v, want %v", tc.name, tc.utc, got, tc.want)
		}
	}
}

func TestWindowRejectsBadBounds(t *testing.T) {
	if _, err := NewWindow("25:00", "15:00", "UTC"); err == nil {
		t.Error("expected error for hour 25")
	}
	if _, err := NewWindow("nope", "15:00", "UTC"); err == nil {
		t.Error("expected error for malformed start")
	}
	if _, err := NewWindow("15:00", "08:30", "UTC"); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestWindowUnknownZoneFallsBack(t *testing.T) {
	w, err := NewWindow("08:30", "15:00", "Not/AZone")
	if err != nil {
		t.Fatalf("unknown zone should fall back, got error: %v", err)
	}
	// Fixed UTC-6: 14:30 UTC is 08:30 window time.
	if !w.Contains(time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)) {
		t.Error("fallback zone window check failed")
	}
}
