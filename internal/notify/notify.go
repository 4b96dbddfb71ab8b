// Package notify delivers short-lived user notifications and suppresses
// repeats of the same message.
package notify

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Level is the visual severity of a notification.
type Level string

const (
	Info    Level = "info"
	Success Level = "success"
	Warning Level = "warning"
	Error   Level = "error"
)

const (
	DefaultDuration = 3 * time.Second
	DefaultInterval = 5 * time.Second
)

// Notification is a single transient message for the user.
type Notification struct {
	Level    Level         `json:"level"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"-"`
	At       time.Time     `json:"-"`
}

// DurationMs is the display duration in milliseconds, as expected by the client.
func (n Notification) DurationMs() int64 {
	return n.Duration.Milliseconds()
}

// Notifier forwards notifications to an output, allowing at most one identical
// message per interval.
type Notifier struct {
	out      func(Notification)
	now      func() time.Time
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithInterval sets the minimum spacing between identical notifications.
func WithInterval(d time.Duration) Option {
	return func(n *Notifier) {
		n.interval = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) {
		n.now = now
	}
}

// New creates a Notifier that writes to out.
func New(out func(Notification), opts ...Option) *Notifier {
	n := &Notifier{
		out:      out,
		now:      time.Now,
		interval: DefaultInterval,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify emits a notification unless the same level and message was emitted
// less than one interval ago. It reports whether the notification was sent.
func (n *Notifier) Notify(level Level, message string, d time.Duration) bool {
	if d <= 0 {
		d = DefaultDuration
	}
	now := n.now()

	allowed := true
	if n.interval > 0 {
		n.mu.Lock()
		n.prune(now)
		key := string(level) + "|" + message
		lim, ok := n.limiters[key]
		if !ok {
			lim = rate.NewLimiter(rate.Every(n.interval), 1)
			n.limiters[key] = lim
		}
		allowed = lim.AllowN(now, 1)
		n.mu.Unlock()
	}

	if !allowed {
		return false
	}
	if n.out != nil {
		n.out(Notification{Level: level, Message: message, Duration: d, At: now})
	}
	return true
}

// prune drops limiters that have refilled, since a full limiter behaves like a
// new one. Callers hold n.mu.
func (n *Notifier) prune(now time.Time) {
	for key, lim := range n.limiters {
		if lim.TokensAt(now) >= 1 {
			delete(n.limiters, key)
		}
	}
}
