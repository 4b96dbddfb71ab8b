package tracking

import (
	"fmt"
	"time"
)

// ErrorKind classifies a geolocation failure.
type ErrorKind string

const (
	PermissionDenied    ErrorKind = "PERMISSION_DENIED"
	PositionUnavailable ErrorKind = "POSITION_UNAVAILABLE"
	Timeout             ErrorKind = "TIMEOUT"
	Unknown             ErrorKind = "UNKNOWN"
)

// KindFromCode maps a W3C GeolocationPositionError code to an ErrorKind.
func KindFromCode(code int) ErrorKind {
	switch code {
	case 1:
		return PermissionDenied
	case 2:
		return PositionUnavailable
	case 3:
		return Timeout
	default:
		return Unknown
	}
}

// Retryable reports whether automatic tracking may try again after this error.
func (k ErrorKind) Retryable() bool {
	return k != PermissionDenied
}

// Error is a typed failure reported by a Provider.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Fix is one location sample.
type Fix struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Accuracy    float64  `json:"accuracy"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	TimestampMs int64    `json:"timestamp"`
}

// Options are passed through to the platform location service.
type Options struct {
	HighAccuracy bool          `json:"enableHighAccuracy"`
	Timeout      time.Duration `json:"-"`
	MaximumAge   time.Duration `json:"-"`
}

// WatchID identifies a continuous watch.
type WatchID int64

// Provider is the platform location service. Callbacks may be invoked from any
// goroutine; exactly one of onFix/onErr fires per one-shot request.
type Provider interface {
	CurrentPosition(opts Options, onFix func(Fix), onErr func(Error))
	Watch(opts Options, onFix func(Fix), onErr func(Error)) WatchID
	ClearWatch(id WatchID)
}

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules retries.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock uses the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
