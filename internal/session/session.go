// Package session provides the trading-session window check in the
// venue's local timezone.
package session

import (
	"fmt"
	"log"
	"time"
)

// chicago is the fallback venue zone (CME floor time, UTC-6) used when
// the IANA database is unavailable on the host.
var chicago = time.FixedZone("CT", -6*3600)

// Window is a daily trading window [Start, End] expressed as minutes
// of day in the venue timezone. End is inclusive.
type Window struct {
	startMin int
	endMin   int
	loc      *time.Location
}

// NewWindow parses "HH:MM" bounds and resolves the venue timezone.
// An unresolvable zone name falls back to fixed UTC-6.
func NewWindow(start, end, tz string) (Window, error) {
	s, err := parseHHMM(start)
	if err != nil {
		return Window{}, fmt.Errorf("session start: %w", err)
	}
	e, err := parseHHMM(end)
	if err != nil {
		return Window{}, fmt.Errorf("session end: %w", err)
	}
	if e < s {
		return Window{}, fmt.Errorf("session end %s before start %s", end, start)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("[session] timezone %q unavailable, using fixed CT: %v", tz, err)
		loc = chicago
	}
	return Window{startMin: s, endMin: e, loc: loc}, nil
}

// Contains reports whether t's venue-local time of day falls within
// the window.
func (w Window) Contains(t time.Time) bool {
	local := t.In(w.loc)
	hm := local.Hour()*60 + local.Minute()
	return hm >= w.startMin && hm <= w.endMin
}

// String renders the window for logs.
func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d %s",
		w.startMin/60, w.startMin%60, w.endMin/60, w.endMin%60, w.loc)
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
