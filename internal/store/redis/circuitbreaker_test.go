package redis

import (
	"errors"
	"testing"
	"time"
)

var errWrite = errors.New("write failed")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.Do(func() error { return errWrite })
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := NewBreaker(3, 100*time.Millisecond)
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_OpensAfterTripFailures(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	failN(b, 2)
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %v, want closed", got)
	}

	failN(b, 1)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	called := false
	if err := b.Do(func() error { called = true; return nil }); err != ErrBreakerOpen {
		t.Errorf("err = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Error("open breaker must not run the write")
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Hour)

	failN(b, 2)
	b.Do(func() error { return nil })
	failN(b, 2)

	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed (counter reset by success)", got)
	}
}

func TestBreaker_ProbeClosesOnSuccess(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	failN(b, 1)
	time.Sleep(30 * time.Millisecond)

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state after good probe = %v, want closed", got)
	}
}

func TestBreaker_ProbeReopensOnFailure(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	failN(b, 1)
	time.Sleep(30 * time.Millisecond)

	if err := b.Do(func() error { return errWrite }); err != errWrite {
		t.Fatalf("probe err = %v, want errWrite", err)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("state after failed probe = %v, want open", got)
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)
	failN(b, 1)
	time.Sleep(20 * time.Millisecond)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeErr := make(chan error, 1)
	go func() {
		probeErr <- b.Do(func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted
	// A second write during the probe is rejected, not serialized.
	if err := b.Do(func() error { return nil }); err != ErrBreakerOpen {
		t.Errorf("err during probe = %v, want ErrBreakerOpen", err)
	}

	close(release)
	if err := <-probeErr; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestBreaker_OnStateChangeSequence(t *testing.T) {
	b := NewBreaker(1, 20*time.Millisecond)
	var seq []State
	b.OnStateChange = func(_, to State) { seq = append(seq, to) }

	failN(b, 1)
	time.Sleep(30 * time.Millisecond)
	b.Do(func() error { return nil })

	want := []State{StateOpen, StateHalfOpen, StateClosed}
	if len(seq) != len(want) {
		t.Fatalf("transitions = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", seq, want)
		}
	}
}
