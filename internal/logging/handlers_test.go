package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textHandler(buf *bytes.Buffer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("closed") }

func TestFanout(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(Fanout(textHandler(&a, slog.LevelInfo), nil, textHandler(&b, slog.LevelInfo)))

	logger.Info("route drawn", "view", "2d")

	assert.Contains(t, a.String(), "view=2d")
	assert.Contains(t, b.String(), "view=2d")
}

func TestFanout_SingleHandlerUnwrapped(t *testing.T) {
	h := textHandler(&bytes.Buffer{}, slog.LevelInfo)
	assert.Equal(t, h, Fanout(nil, h))
}

func TestFanout_Enabled(t *testing.T) {
	ctx := context.Background()
	info := textHandler(&bytes.Buffer{}, slog.LevelInfo)
	debug := textHandler(&bytes.Buffer{}, slog.LevelDebug)

	assert.False(t, Fanout().Enabled(ctx, slog.LevelError))
	assert.False(t, Fanout(info, info).Enabled(ctx, slog.LevelDebug))
	assert.True(t, Fanout(info, debug).Enabled(ctx, slog.LevelDebug))
}

func TestFanout_LevelPerHandler(t *testing.T) {
	var info, debug bytes.Buffer
	logger := slog.New(Fanout(textHandler(&info, slog.LevelInfo), textHandler(&debug, slog.LevelDebug)))

	logger.Debug("camera moved")

	assert.Empty(t, info.String())
	assert.Contains(t, debug.String(), "camera moved")
}

func TestFanout_AttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	h := Fanout(textHandler(&a, slog.LevelInfo), textHandler(&b, slog.LevelInfo))

	assert.Equal(t, h, h.WithGroup(""))

	slog.New(h.WithAttrs([]slog.Attr{slog.String("session", "s1")}).WithGroup("fix")).
		Info("accepted", "accuracy", 8)

	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "session=s1")
		assert.Contains(t, out, "fix.accuracy=8")
	}
}

func TestFanout_HandleErrors(t *testing.T) {
	var buf bytes.Buffer
	h := Fanout(failingHandler{}, textHandler(&buf, slog.LevelInfo), failingHandler{})

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "still delivered", 0)
	err := h.Handle(context.Background(), r)

	require.Error(t, err)
	assert.Equal(t, "closed\nclosed", err.Error())
	assert.Contains(t, buf.String(), "still delivered")
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	base := textHandler(&buf, slog.LevelInfo)
	assert.Equal(t, base, WithContext(base, nil))

	calls := 0
	h := WithContext(base, func() []slog.Attr {
		calls++
		return []slog.Attr{slog.Int("sessions", calls)}
	})
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "server")}))

	logger.Info("first")
	logger.Info("second")

	assert.Contains(t, buf.String(), "component=server")
	assert.Contains(t, buf.String(), "sessions=1")
	assert.Contains(t, buf.String(), "sessions=2")
}
