package model

import (
	"math"
	"testing"
	"time"
)

func seriesBar(i int) Bar {
	return Bar{
		ContractID: "ES",
		TS:         time.Unix(int64(i)*60, 0).UTC(),
		Open:       float64(100 + i),
		High:       float64(101 + i),
		Low:        float64(99 + i),
		Close:      float64(100 + i),
		Volume:     int64(i),
	}
}

func TestBarSeries_AppendAndOrder(t *testing.T) {
	s := NewBarSeries(8)
	if s.Len() != 0 {
		t.Fatalf("new series len = %d, want 0", s.Len())
	}
	if _, ok := s.LastBar(); ok {
		t.Fatal("LastBar on empty series should report false")
	}

	for i := 0; i < 5; i++ {
		s.Append(seriesBar(i))
	}
	if s.Len() != 5 {
		t.Fatalf("len = %d, want 5", s.Len())
	}
	for i := 0; i < 5; i++ {
		if got := s.At(i); got.Volume != int64(i) {
			t.Errorf("At(%d).Volume = %d, want %d", i, got.Volume, i)
		}
	}
	last, ok := s.LastBar()
	if !ok || last.Volume != 4 {
		t.Errorf("LastBar = %+v, want bar 4", last)
	}
}

func TestBarSeries_EvictsOldestWhenFull(t *testing.T) {
	s := NewBarSeries(4)
	for i := 0; i < 10; i++ {
		s.Append(seriesBar(i))
	}
	if s.Len() != 4 {
		t.Fatalf("len = %d, want 4", s.Len())
	}
	// Oldest surviving bar is 6 and order is preserved.
	for i := 0; i < 4; i++ {
		if got := s.At(i); got.Volume != int64(6+i) {
			t.Errorf("At(%d).Volume = %d, want %d", i, got.Volume, 6+i)
		}
	}
}

func TestBarSeries_LastReturnsChronologicalCopy(t *testing.T) {
	s := NewBarSeries(8)
	for i := 0; i < 6; i++ {
		s.Append(seriesBar(i))
	}

	got := s.Last(3)
	if len(got) != 3 {
		t.Fatalf("Last(3) returned %d bars", len(got))
	}
	for i, b := range got {
		if b.Volume != int64(3+i) {
			t.Errorf("Last(3)[%d].Volume = %d, want %d", i, b.Volume, 3+i)
		}
	}

	// Asking for more than held returns everything; zero returns nil.
	if all := s.Last(100); len(all) != 6 {
		t.Errorf("Last(100) returned %d bars, want 6", len(all))
	}
	if none := s.Last(0); none != nil {
		t.Errorf("Last(0) = %v, want nil", none)
	}

	// Mutating the copy must not touch the series.
	got[0].Close = -1
	if s.At(3).Close == -1 {
		t.Error("Last returned a view into the internal buffer")
	}
}

func TestBarSeries_CapacityRoundsUp(t *testing.T) {
	s := NewBarSeries(5) // rounds to 8
	for i := 0; i < 8; i++ {
		s.Append(seriesBar(i))
	}
	if s.Len() != 8 {
		t.Errorf("len = %d, want 8 after pow2 rounding", s.Len())
	}
}

func TestBarValid(t *testing.T) {
	good := seriesBar(1)
	if !good.Valid() {
		t.Errorf("well-formed bar reported invalid: %+v", good)
	}

	cases := []struct {
		name   string
		mutate func(*Bar)
	}{
		{"nan close", func(b *Bar) { b.Close = math.NaN() }},
		{"inf high", func(b *Bar) { b.High = math.Inf(1) }},
		{"high below close", func(b *Bar) { b.High = b.Close - 1 }},
		{"low above open", func(b *Bar) { b.Low = b.Open + 1 }},
		{"negative volume", func(b *Bar) { b.Volume = -1 }},
	}
	for _, tc := range cases {
		b := seriesBar(1)
		tc.mutate(&b)
		if b.Valid() {
			t.Errorf("%s: bar reported valid: %+v", tc.name, b)
		}
	}
}
