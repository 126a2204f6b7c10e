// Package retrypolicy classifies provider/tool errors and computes retry
// backoff delays for the runtime loop's error-recovery path.
package retrypolicy

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// Class discriminates how an error should be handled by the runtime loop.
type Class string

const (
	// ClassTransient errors are retried with backoff up to MaxAttempts.
	ClassTransient Class = "transient"
	// ClassOverflow means the request exceeded the provider's context
	// window; the caller should compact and retry once, not back off.
	ClassOverflow Class = "overflow"
	// ClassFatal errors are not retried; the run ends in an error state.
	ClassFatal Class = "fatal"
)

// Policy computes retry classification and backoff delay. The zero value is
// ready to use with the package defaults.
type Policy struct {
	Base        time.Duration
	Ceiling     time.Duration
	Jitter      time.Duration
	MaxAttempts int

	// randFloat is overridable in tests for deterministic jitter.
	randFloat func() float64
}

// Default returns the policy described by the runtime loop's error handling
// design: base=1s, ceiling=30s, up to 250ms of additive jitter, 5 attempts.
func Default() *Policy {
	return &Policy{
		Base:        time.Second,
		Ceiling:     30 * time.Second,
		Jitter:      250 * time.Millisecond,
		MaxAttempts: 5,
	}
}

func (p *Policy) rand() float64 {
	if p.randFloat != nil {
		return p.randFloat()
	}
	return rand.Float64()
}

// Classify maps a provider/tool error into a retry Class. Classification
// looks for sentinel errors first (errors.Is), falling back to network
// errors as transient and anything else as fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	switch {
	case errors.Is(err, ErrContextOverflow):
		return ClassOverflow
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassFatal
}

// ComputeDelay returns the backoff delay before retry attempt n (1-indexed):
// delay = min(base * 2^(attempt-1), ceiling) + uniform(0, jitter).
func (p *Policy) ComputeDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if ceiling := float64(p.Ceiling); base > ceiling {
		base = ceiling
	}
	jitter := p.rand() * float64(p.Jitter)
	return time.Duration(base + jitter)
}

// ShouldRetry reports whether attempt (1-indexed, the attempt about to be
// made) is still within budget for class.
func (p *Policy) ShouldRetry(class Class, attempt int) bool {
	if class == ClassFatal {
		return false
	}
	if class == ClassOverflow {
		return attempt <= 1
	}
	return attempt <= p.MaxAttempts
}
