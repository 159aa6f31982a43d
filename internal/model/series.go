package model

// BarSeries is a capped, insertion-ordered sequence of closed bars.
// It is backed by a circular buffer sized to the next power of two so
// the hot-path index math is a bitwise AND. When the series is full,
// appending evicts the oldest bar. Order is chronological and
// gap-tolerant: timestamps may skip, no bar is synthesized for silence.
//
// Not goroutine-safe: owned by the single bar-processing goroutine.
type BarSeries struct {
	buf   []Bar
	mask  uint64
	head  uint64 // next write position
	count int    // number of bars held (<= cap)
}

// NewBarSeries creates a series holding at most capacity bars
// (rounded up to the next power of two, minimum 2).
func NewBarSeries(capacity int) *BarSeries {
	c := nextPow2(capacity)
	if c < 2 {
		c = 2
	}
	return &BarSeries{
		buf:  make([]Bar, c),
		mask: uint64(c - 1),
	}
}

// Append adds a closed bar, evicting the oldest if the series is full.
func (s *BarSeries) Append(b Bar) {
	s.buf[s.head&s.mask] = b
	s.head++
	if s.count < len(s.buf) {
		s.count++
	}
}

// Len returns the number of bars currently held.
func (s *BarSeries) Len() int { return s.count }

// At returns the i-th bar in chronological order (0 = oldest).
// Panics if i is out of range, matching slice semantics.
func (s *BarSeries) At(i int) Bar {
	if i < 0 || i >= s.count {
		panic("model: BarSeries index out of range")
	}
	start := s.head - uint64(s.count)
	return s.buf[(start+uint64(i))&s.mask]
}

// LastBar returns the most recent bar, or false if the series is empty.
func (s *BarSeries) LastBar() (Bar, bool) {
	if s.count == 0 {
		return Bar{}, false
	}
	return s.buf[(s.head-1)&s.mask], true
}

// Last returns a copy of the most recent n bars in chronological order.
// If fewer than n bars exist, all held bars are returned.
func (s *BarSeries) Last(n int) []Bar {
	if n > s.count {
		n = s.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]Bar, n)
	start := s.head - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(start+uint64(i))&s.mask]
	}
	return out
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
