package tracking

import (
	"time"

	"github.com/uttop/campusmap/internal/geo"
)

// Policy holds the retry and fallback parameters of automatic tracking.
type Policy struct {
	MaxRetries int
	MaxDelay   time.Duration
	Bases      map[ErrorKind]time.Duration

	Precise Options
	Coarse  Options
	Watch   Options

	FallbackLatitude  float64
	FallbackLongitude float64
	FallbackAccuracy  float64
	DegradeFactor     float64
}

// DefaultPolicy returns the stock retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 5,
		MaxDelay:   30 * time.Second,
		Bases: map[ErrorKind]time.Duration{
			PositionUnavailable: 1500 * time.Millisecond,
			Timeout:             1000 * time.Millisecond,
			Unknown:             1000 * time.Millisecond,
		},
		Precise: Options{HighAccuracy: true, Timeout: 10 * time.Second},
		Coarse:  Options{HighAccuracy: false, Timeout: 15 * time.Second, MaximumAge: 5 * time.Minute},
		Watch:   Options{HighAccuracy: true, Timeout: 10 * time.Second, MaximumAge: 5 * time.Second},

		FallbackLatitude:  geo.DefaultLatitude,
		FallbackLongitude: geo.DefaultLongitude,
		FallbackAccuracy:  100,
		DegradeFactor:     1.5,
	}
}

// Delay returns min(MaxDelay, base(kind) * 2^attempt).
func (p Policy) Delay(kind ErrorKind, attempt int) time.Duration {
	base, ok := p.Bases[kind]
	if !ok {
		base = p.Bases[Unknown]
	}
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

// RetryState tracks consecutive failures while automatic tracking is active.
type RetryState struct {
	AttemptCount  int
	LastErrorKind ErrorKind
	NextRetryAtMs int64
}
