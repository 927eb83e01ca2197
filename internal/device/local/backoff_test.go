package local

import (
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/injectctl/internal/testutil/testlog"
)

func TestNextProbeDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	b := Backoff{Multiplier: 2.0, MaxDelay: 2 * time.Second}
	base := 250 * time.Millisecond
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 250 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{6, 2 * time.Second},
	}
	for _, tc := range cases {
		if got := nextProbeDelay(base, b, tc.failures, nil); got != tc.want {
			t.Fatalf("failures=%d got=%v want=%v", tc.failures, got, tc.want)
		}
	}
}

func TestNextProbeDelayJitterNeverBelowBase(t *testing.T) {
	testlog.Start(t)
	b := Backoff{Multiplier: 2.0, MaxDelay: 5 * time.Second, Jitter: true}
	base := 100 * time.Millisecond
	rng := rand.New(rand.NewSource(7))
	for i := 1; i < 20; i++ {
		got := nextProbeDelay(base, b, i, rng)
		if got < base || got > 7500*time.Millisecond {
			t.Fatalf("failures=%d delay out of range: %v", i, got)
		}
	}
}

func TestNextProbeDelayClampsMultiplier(t *testing.T) {
	testlog.Start(t)
	if got := nextProbeDelay(time.Second, Backoff{Multiplier: 0.1}, 3, nil); got != time.Second {
		t.Fatalf("expected flat delay, got %v", got)
	}
}
