// Package position holds the single authoritative user Position and the
// AUTOMATIC/MANUAL mode flag, and fans committed positions out to subscribers.
package position

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/uttop/campusmap/internal/geo"
)

// ErrManualOverride is returned when a GPS or fallback sample arrives while the
// user is placing the marker by hand.
var ErrManualOverride = errors.New("manual mode active")

// Mode selects who drives the Position.
type Mode string

const (
	Automatic Mode = "AUTOMATIC"
	Manual    Mode = "MANUAL"
)

// DefaultSmoothing is the EMA weight of a new GPS sample.
const DefaultSmoothing = 0.4

// CommitOptions qualifies a commit.
type CommitOptions struct {
	// FromDrag marks updates produced by a marker drag; views do not recenter on them.
	FromDrag bool
	// Force stores the sample as-is, without smoothing or the movement threshold.
	Force bool
}

// Update is delivered to subscribers after every stored commit.
type Update struct {
	Position    geo.Position
	Previous    geo.Position
	HadPrevious bool
	Mode        Mode
	FromDrag    bool
}

// Result describes the outcome of a commit that passed validation.
type Result struct {
	Position geo.Position
	Changed  bool
}

// Subscriber receives position updates synchronously, in subscription order.
type Subscriber func(Update)

type subscription struct {
	id int
	fn Subscriber
}

type ema struct {
	lat, lon float64
	primed   bool
}

// Store is the single source of truth for the current Position and Mode.
// Commits are expected to come from one goroutine; reads are safe from any.
type Store struct {
	logger *slog.Logger
	now    func() time.Time
	alpha  float64

	mu      sync.RWMutex
	mode    Mode
	current geo.Position
	has     bool

	smooth ema

	subMu  sync.Mutex
	subs   []subscription
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for position timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithSmoothing sets the EMA weight given to each new GPS sample.
func WithSmoothing(alpha float64) Option {
	return func(s *Store) {
		if alpha > 0 && alpha <= 1 {
			s.alpha = alpha
		}
	}
}

// NewStore creates an empty store in AUTOMATIC mode.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		logger: logger,
		now:    time.Now,
		alpha:  DefaultSmoothing,
		mode:   Automatic,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Commit validates, smooths and stores a new sample, then notifies subscribers
// if the stored Position actually moved.
func (s *Store) Commit(lat, lon, accuracy float64, source geo.Source, opts CommitOptions) (Result, error) {
	if err := geo.Validate(lat, lon); err != nil {
		s.logger.Warn("Rejected position update", "lat", lat, "lon", lon, "source", source, "error", err)
		return Result{}, err
	}

	s.mu.RLock()
	mode := s.mode
	prev, hadPrev := s.current, s.has
	s.mu.RUnlock()

	if mode == Manual && source != geo.SourceManual {
		return Result{}, fmt.Errorf("%w: dropping %s sample", ErrManualOverride, source)
	}

	if source == geo.SourceGPS && mode == Automatic && !opts.Force {
		lat, lon = s.applySmoothing(lat, lon)
	}

	next := geo.Position{
		Latitude:       lat,
		Longitude:      lon,
		AccuracyMeters: geo.ClampAccuracy(accuracy),
		TimestampMs:    s.now().UnixMilli(),
		Source:         source,
	}

	if hadPrev && !opts.Force && !geo.Moved(prev, next) {
		return Result{Position: prev, Changed: false}, nil
	}

	s.mu.Lock()
	s.current = next
	s.has = true
	s.mu.Unlock()

	s.publish(Update{
		Position:    next,
		Previous:    prev,
		HadPrevious: hadPrev,
		Mode:        mode,
		FromDrag:    opts.FromDrag,
	})

	return Result{Position: next, Changed: true}, nil
}

func (s *Store) applySmoothing(lat, lon float64) (float64, float64) {
	if !s.smooth.primed {
		s.smooth = ema{lat: lat, lon: lon, primed: true}
		return lat, lon
	}
	s.smooth.lat = s.smooth.lat*(1-s.alpha) + lat*s.alpha
	s.smooth.lon = s.smooth.lon*(1-s.alpha) + lon*s.alpha
	return s.smooth.lat, s.smooth.lon
}

// ResetSmoothing makes the next GPS sample bootstrap the filter again.
func (s *Store) ResetSmoothing() {
	s.smooth = ema{}
}

// Current returns a copy of the current Position.
func (s *Store) Current() (geo.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.has
}

// Mode returns the active mode.
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches mode and reports whether it changed.
func (s *Store) SetMode(m Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == m {
		return false
	}
	s.mode = m
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, fn: fn})

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) publish(u Update) {
	s.subMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(u)
	}
}
