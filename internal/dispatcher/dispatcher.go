package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/uttop/campusmap/internal/queue"
)

const instrumentationName = "github.com/uttop/campusmap/internal/dispatcher"

// DefaultQueueLimit bounds how many events may wait before droppable
// handlers start rejecting new ones.
const DefaultQueueLimit = 256

// ErrClosed is returned for events posted to, or awaited on, a closed dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// Event is one unit of work for the engine: a client command, a provider
// callback or a timer firing.
type Event struct {
	Command   string
	Payload   any
	Timestamp time.Time

	reply chan result
}

type result struct {
	value any
	err   error
}

// HandlerFunc processes an event and returns a result.
type HandlerFunc func(Event) (any, error)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	droppable bool
	logged    bool
}

// Droppable lets Post reject the event when the mailbox is over its limit.
// Events without it are always queued.
func Droppable() Option {
	return func(c *config) {
		c.droppable = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type handler struct {
	fn        HandlerFunc
	droppable bool
}

// Dispatcher is a serial mailbox: events from any goroutine are queued and
// handled one at a time by the goroutine running Run.
type Dispatcher struct {
	logger Logger
	limit  int

	mu       sync.RWMutex
	handlers map[string]handler

	mailbox *queue.Queue[Event]
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once

	// OTEL metrics
	observer  metric.Registration
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a new Dispatcher with the given logger. A non-positive limit
// selects DefaultQueueLimit.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger, limit int) (*Dispatcher, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	d := &Dispatcher{
		logger:   logger,
		limit:    limit,
		handlers: make(map[string]handler),
		mailbox:  queue.New[Event](),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events waiting in the mailbox"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	d.observer, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(d.queueSize, int64(d.mailbox.Len()))
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Register adds a handler for the given command with optional configuration.
func (d *Dispatcher) Register(command string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	fn := h
	if cfg.logged {
		fn = d.withLogging(command, fn)
	}

	d.mu.Lock()
	d.handlers[command] = handler{fn: fn, droppable: cfg.droppable}
	d.mu.Unlock()
}

// HasHandler returns true if a handler is registered for the command.
func (d *Dispatcher) HasHandler(command string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[command]
	return ok
}

func (d *Dispatcher) lookup(command string) (handler, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[command]
	if !ok {
		return handler{}, fmt.Errorf("unknown command: %s", command)
	}
	return h, nil
}

// Dispatch runs the handler for e on the calling goroutine. Only the goroutine
// running Run, or code that owns the engine before Run starts, may call it.
func (d *Dispatcher) Dispatch(e Event) (any, error) {
	h, err := d.lookup(e.Command)
	if err != nil {
		return nil, err
	}
	return h.fn(e)
}

// Post queues e without waiting for it to be handled.
func (d *Dispatcher) Post(e Event) error {
	_, err := d.enqueue(e)
	return err
}

// Call queues e and waits for its result. It must not be called from a handler.
func (d *Dispatcher) Call(ctx context.Context, e Event) (any, error) {
	e.reply = make(chan result, 1)
	if _, err := d.enqueue(e); err != nil {
		return nil, err
	}

	select {
	case r := <-e.reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, ErrClosed
	}
}

func (d *Dispatcher) enqueue(e Event) (handler, error) {
	select {
	case <-d.done:
		return handler{}, ErrClosed
	default:
	}

	h, err := d.lookup(e.Command)
	if err != nil {
		return handler{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if h.droppable {
		if !d.mailbox.PushLimit(e, d.limit) {
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", e.Command)))
			return handler{}, fmt.Errorf("queue full: %s", e.Command)
		}
	} else {
		d.mailbox.Push(e)
	}

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return h, nil
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.mailbox.Len()
}

// Run handles queued events until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		d.drain()

		select {
		case <-d.signal:
		case <-ctx.Done():
			return ctx.Err()
		case <-d.done:
			return nil
		}
	}
}

// RunPending handles every queued event on the calling goroutine, including
// events queued by the handlers themselves, and returns how many ran.
func (d *Dispatcher) RunPending() int {
	return d.drain()
}

func (d *Dispatcher) drain() int {
	n := 0
	for {
		select {
		case <-d.done:
			return n
		default:
		}

		e, ok := d.mailbox.Pop()
		if !ok {
			return n
		}
		d.handle(e)
		n++
	}
}

func (d *Dispatcher) handle(e Event) {
	value, err := d.Dispatch(e)
	d.processed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("command", e.Command)))

	if e.reply != nil {
		e.reply <- result{value: value, err: err}
	} else if err != nil {
		d.logger.Debug("posted event failed", "command", e.Command, "error", err)
	}
}

// Close stops Run and fails every pending and future Call with ErrClosed.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.done)
		// one registration per session; drop it with the session
		if d.observer != nil {
			_ = d.observer.Unregister()
		}
		if n := len(d.mailbox.Drain()); n > 0 {
			d.logger.Debug("discarded pending events", "count", n)
		}
	})
}

func (d *Dispatcher) withLogging(command string, h HandlerFunc) HandlerFunc {
	return func(e Event) (any, error) {
		start := time.Now()
		d.logger.Debug("handling event", "command", command, "queued", start.Sub(e.Timestamp))

		result, err := h(e)

		if err != nil {
			d.logger.Error("event failed", "command", command, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "command", command, "duration", time.Since(start))
		}

		return result, err
	}
}
