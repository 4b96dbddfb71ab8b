// Package tracking drives automatic position acquisition: an initial precise fix,
// a continuous watch, bounded exponential retries and a default-position fallback.
package tracking

import (
	"errors"
	"log/slog"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/position"
)

// Status is the user-visible tracking state.
type Status string

const (
	StatusIdle     Status = ""
	StatusLoading  Status = "loading"
	StatusSuccess  Status = "success"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// Status messages shown to the user.
const (
	MsgLoading    = "Getting your location..."
	MsgSuccess    = "Location found"
	MsgDegraded   = "Weak GPS signal, retrying..."
	MsgDenied     = "Location access denied. Switch to manual mode to set your position."
	MsgFallback   = "Could not get your location. Showing the campus entrance instead."
	MsgBadFixData = "Received an invalid location from the device"
)

// Sink receives the samples produced by the tracker.
type Sink interface {
	Commit(lat, lon, accuracy float64, source geo.Source, opts position.CommitOptions) (position.Result, error)
}

// StatusFunc is called once per status transition.
type StatusFunc func(status Status, message string)

// Tracker is not safe for concurrent use. Provider and clock callbacks must be
// delivered on the goroutine that calls Start and Stop.
type Tracker struct {
	provider Provider
	clock    Clock
	sink     Sink
	policy   Policy
	logger   *slog.Logger
	onStatus StatusFunc

	// gen invalidates callbacks that belong to a cancelled request, watch or timer.
	gen uint64

	active   bool
	watching bool
	watchID  WatchID
	timer    Timer

	retry    RetryState
	status   Status
	lastGood *geo.Position
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStatus registers the status transition callback.
func WithStatus(fn StatusFunc) Option {
	return func(t *Tracker) {
		t.onStatus = fn
	}
}

// WithPolicy overrides the default retry policy.
func WithPolicy(p Policy) Option {
	return func(t *Tracker) {
		t.policy = p
	}
}

// New creates an idle tracker.
func New(provider Provider, clock Clock, sink Sink, logger *slog.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	t := &Tracker{
		provider: provider,
		clock:    clock,
		sink:     sink,
		policy:   DefaultPolicy(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start cancels any running watch or retry timer and requests a precise fix.
func (t *Tracker) Start() {
	t.cancel()
	t.gen++
	t.active = true
	t.retry = RetryState{}
	t.setStatus(StatusLoading, MsgLoading)
	t.requestFix(t.policy.Precise, false)
}

// Stop cancels the watch and any pending retry.
func (t *Tracker) Stop() {
	t.cancel()
	t.gen++
	t.active = false
	t.retry = RetryState{}
	t.status = StatusIdle
}

// Active reports whether automatic tracking is running.
func (t *Tracker) Active() bool { return t.active }

// Watching reports whether a continuous watch is outstanding.
func (t *Tracker) Watching() bool { return t.watching }

// RetryPending reports whether a retry timer is outstanding.
func (t *Tracker) RetryPending() bool { return t.timer != nil }

// RetryState returns a copy of the current retry counters.
func (t *Tracker) RetryState() RetryState { return t.retry }

// Status returns the last emitted status.
func (t *Tracker) Status() Status { return t.status }

func (t *Tracker) requestFix(opts Options, coarse bool) {
	gen := t.gen
	t.provider.CurrentPosition(opts,
		func(f Fix) {
			if gen != t.gen || !t.active {
				return
			}
			t.handleFix(f)
		},
		func(e Error) {
			if gen != t.gen || !t.active {
				return
			}
			if coarse {
				t.fallback(e)
				return
			}
			t.handleError(e)
		},
	)
}

func (t *Tracker) startWatch() {
	gen := t.gen
	t.watching = true
	t.watchID = t.provider.Watch(t.policy.Watch,
		func(f Fix) {
			if gen != t.gen || !t.watching {
				return
			}
			t.handleFix(f)
		},
		func(e Error) {
			if gen != t.gen || !t.watching {
				return
			}
			t.handleError(e)
		},
	)
	t.logger.Debug("Started position watch", "watchId", t.watchID)
}

func (t *Tracker) handleFix(f Fix) {
	res, err := t.sink.Commit(f.Latitude, f.Longitude, f.Accuracy, geo.SourceGPS, position.CommitOptions{})
	switch {
	case errors.Is(err, position.ErrManualOverride):
		t.logger.Debug("Ignoring fix in manual mode", "lat", f.Latitude, "lon", f.Longitude)
		return
	case err != nil:
		t.logger.Warn(MsgBadFixData, "error", err)
		return
	}

	p := res.Position
	t.lastGood = &p
	t.retry = RetryState{}
	t.setStatus(StatusSuccess, MsgSuccess)

	if !t.watching {
		t.startWatch()
	}
}

func (t *Tracker) handleError(e Error) {
	t.retry.LastErrorKind = e.Kind
	t.clearWatch()

	if !e.Kind.Retryable() {
		t.logger.Warn("Geolocation permission denied", "message", e.Message)
		t.cancel()
		t.active = false
		t.setStatus(StatusError, MsgDenied)
		return
	}

	if t.retry.AttemptCount >= t.policy.MaxRetries {
		t.logger.Info("Retries exhausted, requesting low accuracy fix",
			"attempts", t.retry.AttemptCount, "lastError", e.Kind)
		t.requestFix(t.policy.Coarse, true)
		return
	}

	t.retry.AttemptCount++
	delay := t.policy.Delay(e.Kind, t.retry.AttemptCount)
	t.retry.NextRetryAtMs = t.clock.Now().Add(delay).UnixMilli()

	t.logger.Info("Scheduling location retry",
		"attempt", t.retry.AttemptCount, "delay", delay, "error", e.Kind, "message", e.Message)

	t.degrade()
	t.setStatus(StatusDegraded, MsgDegraded)

	t.stopTimer()
	gen := t.gen
	t.timer = t.clock.AfterFunc(delay, func() {
		if gen != t.gen || !t.active {
			return
		}
		t.timer = nil
		t.requestFix(t.policy.Precise, false)
	})
}

// degrade re-commits the last good fix with a wider accuracy radius so the
// views keep showing a location while retries are pending.
func (t *Tracker) degrade() {
	if t.lastGood == nil {
		return
	}
	acc := min(geo.MaxAccuracy, t.lastGood.AccuracyMeters*t.policy.DegradeFactor)
	_, err := t.sink.Commit(t.lastGood.Latitude, t.lastGood.Longitude, acc, geo.SourceGPS,
		position.CommitOptions{Force: true})
	if err != nil && !errors.Is(err, position.ErrManualOverride) {
		t.logger.Warn("Failed to re-commit last known position", "error", err)
	}
}

func (t *Tracker) fallback(e Error) {
	t.logger.Warn("Low accuracy fix failed, using default position",
		"error", e.Kind, "lat", t.policy.FallbackLatitude, "lon", t.policy.FallbackLongitude)

	_, err := t.sink.Commit(t.policy.FallbackLatitude, t.policy.FallbackLongitude, t.policy.FallbackAccuracy,
		geo.SourceFallback, position.CommitOptions{Force: true})
	if err != nil && !errors.Is(err, position.ErrManualOverride) {
		t.logger.Error("Failed to commit fallback position", "error", err)
	}

	t.cancel()
	t.active = false
	t.retry = RetryState{LastErrorKind: e.Kind}
	t.setStatus(StatusError, MsgFallback)
}

func (t *Tracker) setStatus(s Status, msg string) {
	if s == t.status {
		return
	}
	t.status = s
	if t.onStatus != nil {
		t.onStatus(s, msg)
	}
}

func (t *Tracker) clearWatch() {
	if !t.watching {
		return
	}
	t.provider.ClearWatch(t.watchID)
	t.logger.Debug("Cleared position watch", "watchId", t.watchID)
	t.watching = false
	t.watchID = 0
	t.gen++
}

func (t *Tracker) stopTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Tracker) cancel() {
	t.stopTimer()
	t.clearWatch()
}
