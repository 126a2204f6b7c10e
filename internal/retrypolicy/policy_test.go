package retrypolicy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifySentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"overflow", fmt.Errorf("wrapped: %w", ErrContextOverflow), ClassOverflow},
		{"rate limited", fmt.Errorf("wrapped: %w", ErrRateLimited), ClassTransient},
		{"upstream unavailable", ErrUpstreamUnavailable, ClassTransient},
		{"deadline exceeded", context.DeadlineExceeded, ClassTransient},
		{"unknown", errors.New("boom"), ClassFatal},
		{"nil", nil, ClassFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestComputeDelayMonotonicWithinCeiling(t *testing.T) {
	p := Default()
	p.randFloat = func() float64 { return 0 } // isolate the exponential term

	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.ComputeDelay(attempt)
		if d < prev {
			t.Fatalf("attempt %d delay %v is less than previous %v", attempt, d, prev)
		}
		if d > p.Ceiling+p.Jitter {
			t.Fatalf("attempt %d delay %v exceeds ceiling+jitter %v", attempt, d, p.Ceiling+p.Jitter)
		}
		prev = d
	}
}

func TestComputeDelayAppliesJitter(t *testing.T) {
	p := Default()
	p.randFloat = func() float64 { return 1 }
	d := p.ComputeDelay(1)
	if d != p.Base+p.Jitter {
		t.Fatalf("expected base+jitter = %v, got %v", p.Base+p.Jitter, d)
	}
}

func TestShouldRetry(t *testing.T) {
	p := Default()
	if p.ShouldRetry(ClassFatal, 1) {
		t.Error("fatal errors must never retry")
	}
	if !p.ShouldRetry(ClassOverflow, 1) {
		t.Error("overflow should retry once after compaction")
	}
	if p.ShouldRetry(ClassOverflow, 2) {
		t.Error("overflow should not retry a second time")
	}
	if !p.ShouldRetry(ClassTransient, p.MaxAttempts) {
		t.Error("transient should retry up to MaxAttempts")
	}
	if p.ShouldRetry(ClassTransient, p.MaxAttempts+1) {
		t.Error("transient should stop after MaxAttempts")
	}
}
