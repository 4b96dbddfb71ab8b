package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/locator"
	"github.com/uttop/campusmap/internal/notify"
	"github.com/uttop/campusmap/internal/position"
	"github.com/uttop/campusmap/internal/render"
	"github.com/uttop/campusmap/internal/routing"
	"github.com/uttop/campusmap/internal/tracking"
)

// Route notifications.
const (
	MsgRouteFailed     = "Could not calculate route. Please try again."
	MsgRouteSelections = "Error calculating route. Please check your selections."
	routeNoticeTime    = 5 * time.Second
)

const msgSession = "session"

type sessionMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// session binds one browser connection to its own Engine.
type session struct {
	id       string
	srv      *Server
	client   *client
	provider *RemoteProvider
	engine   *locator.Engine
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	routes sync.WaitGroup
}

func (s *Server) newSession(ctx context.Context, id string, c *client) (*session, error) {
	logger := s.logger.With("session", id)
	sess := &session{
		id:     id,
		srv:    s,
		client: c,
		logger: logger,
		done:   make(chan struct{}),
	}
	sess.ctx, sess.cancel = context.WithCancel(ctx)
	sess.provider = NewRemoteProvider(c.sendJSON, s.clock)

	sink := render.SinkFunc(func(cmd render.Command) error {
		if !c.sendJSON(cmd) {
			return errors.New("client not accepting messages")
		}
		return nil
	})

	policy := s.policy()
	deps := locator.Dependencies{
		Provider: sess.provider,
		Clock:    s.clock,
		Views: []render.View{
			render.NewLeafletView(sink),
			render.NewMapLibreView(sink, s.tracking.FlyZoom),
		},
		Notify: func(n notify.Notification) {
			c.sendJSON(newNotificationMessage(n))
		},
		Logger:         logger,
		Policy:         &policy,
		Smoothing:      s.tracking.Smoothing,
		NotifyInterval: s.tracking.NotifyInterval,
		QueueLimit:     s.tracking.QueueLimit,
	}
	if s.dlog != nil {
		deps.DispatcherLogger = s.dlog.ForSession(id)
	}

	engine, err := locator.New(deps)
	if err != nil {
		sess.cancel()
		return nil, err
	}
	sess.engine = engine
	engine.Subscribe(sess.onPosition)
	return sess, nil
}

// onPosition runs on the engine goroutine for every stored Position.
func (sess *session) onPosition(u position.Update) {
	sess.client.sendJSON(newPositionMessage(u))
	if sess.srv.telemetry != nil {
		if err := sess.srv.telemetry.WritePosition(sess.id, u); err != nil {
			sess.logger.Debug("Failed to record position", "error", err)
		}
	}
}

// run drives the engine and the read loop until the browser disconnects.
func (sess *session) run() {
	defer close(sess.done)

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := sess.engine.Run(sess.ctx); err != nil && !errors.Is(err, context.Canceled) {
			sess.logger.Debug("Engine stopped", "error", err)
		}
	}()

	sess.client.sendJSON(sessionMessage{Type: msgSession, ID: sess.id})
	sess.srv.sendInitialPOIs(sess.ctx, sess.client)

	for {
		data, err := sess.client.read()
		if err != nil {
			sess.logger.Debug("WebSocket read ended", "error", err)
			break
		}
		sess.handle(data)
	}

	sess.provider.Close()
	sess.engine.Close()
	sess.cancel()
	sess.routes.Wait()
	<-engineDone
}

func (sess *session) reply(kind string, err error) {
	sess.client.sendJSON(errorMessage{Type: msgError, For: kind, Message: err.Error()})
}

func (sess *session) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(sess.ctx, sess.srv.cfg.RequestTimeout)
}

func (sess *session) handle(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		sess.logger.Warn("Error processing WebSocket message", "error", err)
		return
	}

	ctx, cancel := sess.callCtx()
	defer cancel()

	switch msg.Type {
	case msgTrackingStart:
		if err := sess.engine.StartTracking(ctx); err != nil {
			sess.reply(msg.Type, err)
		}

	case msgModeToggle:
		mode, err := sess.engine.ToggleManualMode(ctx)
		if err != nil {
			sess.reply(msg.Type, err)
			return
		}
		sess.client.sendJSON(modeMessage{Type: msgMode, Mode: mode})

	case msgDragStart:
		if err := sess.engine.BeginDrag(ctx, render.Kind(msg.View)); err != nil {
			sess.reply(msg.Type, err)
		}

	case msgDragMove:
		if err := sess.engine.MoveDrag(msg.DX, msg.DY); err != nil {
			sess.logger.Debug("Drag move dropped", "error", err)
		}

	case msgDragEnd:
		if _, err := sess.engine.EndDrag(ctx); err != nil {
			sess.reply(msg.Type, err)
		}

	case msgDragCancel:
		if err := sess.engine.CancelDrag(ctx, msg.Reason); err != nil {
			sess.reply(msg.Type, err)
		}

	case msgCamera:
		cam := geo.Camera{Zoom: msg.Zoom, Bearing: msg.Bearing, Pitch: msg.Pitch}
		if err := sess.engine.UpdateCamera(render.Kind(msg.View), cam); err != nil {
			sess.logger.Debug("Camera update dropped", "error", err)
		}

	case msgGeoFix:
		if msg.Fix == nil {
			sess.reply(msg.Type, errors.New("missing fix"))
			return
		}
		if !sess.provider.Resolve(msg.RequestID, *msg.Fix) {
			sess.logger.Debug("Fix for unknown request", "requestId", msg.RequestID)
		}

	case msgGeoError:
		if !sess.provider.Reject(msg.RequestID, msg.Code, msg.Message) {
			sess.logger.Debug("Error for unknown request", "requestId", msg.RequestID)
		}

	case msgRouteRequest:
		// routing can take seconds; keep reading drag and fix messages meanwhile
		sess.routes.Add(1)
		go func() {
			defer sess.routes.Done()
			sess.route(msg.From, msg.To)
		}()

	case msgPositionUpdate:
		sess.srv.hub.Broadcast(relayMessage{Type: msgPositionUpdated, Data: msg.Data}, sess.client)

	default:
		sess.logger.Debug("Unknown message type", "type", msg.Type)
	}
}

func (sess *session) route(from, to string) {
	ctx, cancel := sess.callCtx()
	defer cancel()

	current, ok, err := sess.engine.CurrentPosition(ctx)
	if err != nil {
		sess.logger.Debug("Route request on closed session", "error", err)
		return
	}

	var cur *geo.Position
	if ok {
		cur = &current
	}
	msg, err := sess.srv.findRoute(ctx, from, to, cur)
	if err != nil {
		sess.notifyRouteError(err)
		return
	}

	if err := sess.engine.ShowRoute(ctx, msg.Route.Path); err != nil {
		sess.logger.Warn("Failed to draw route", "error", err)
	}
	sess.client.sendJSON(msg)
	sess.client.sendJSON(notificationMessage{
		Type:       msgNotification,
		Level:      notify.Success,
		Message:    msg.Summary,
		DurationMs: routeNoticeTime.Milliseconds(),
	})
}

func (sess *session) notifyRouteError(err error) {
	level, text := notify.Error, MsgRouteFailed
	switch {
	case errors.Is(err, routing.ErrNoRoute):
		level, text = notify.Warning, "No route found between the selected points"
	case errors.Is(err, routing.ErrUnknownLocation), errors.Is(err, geo.ErrInvalidCoordinate):
		text = MsgRouteSelections
	}
	sess.logger.Info("Route request failed", "error", err)
	sess.client.sendJSON(notificationMessage{
		Type:       msgNotification,
		Level:      level,
		Message:    text,
		DurationMs: notify.DefaultDuration.Milliseconds(),
	})
}

// current returns the session's Position for REST callers.
func (sess *session) current(ctx context.Context) (geo.Position, bool) {
	p, ok, err := sess.engine.CurrentPosition(ctx)
	if err != nil {
		return geo.Position{}, false
	}
	return p, ok
}

func (s *Server) policy() tracking.Policy {
	p := tracking.DefaultPolicy()
	p.MaxRetries = s.tracking.MaxRetries
	if s.tracking.MaxDelay > 0 {
		p.MaxDelay = s.tracking.MaxDelay
	}
	p.FallbackLatitude = s.tracking.FallbackLatitude
	p.FallbackLongitude = s.tracking.FallbackLongitude
	if s.tracking.FallbackAccuracy > 0 {
		p.FallbackAccuracy = s.tracking.FallbackAccuracy
	}
	for kind, base := range map[tracking.ErrorKind]time.Duration{
		tracking.PositionUnavailable: s.tracking.RetryBase.Unavailable,
		tracking.Timeout:             s.tracking.RetryBase.Timeout,
		tracking.Unknown:             s.tracking.RetryBase.Unknown,
	} {
		if base > 0 {
			p.Bases[kind] = base
		}
	}
	return p
}
