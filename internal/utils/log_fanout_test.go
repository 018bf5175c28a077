package utils

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFanoutHandler_PerHandlerLevels(t *testing.T) {
	var terse, full bytes.Buffer
	logger := slog.New(FanoutHandler{
		slog.NewTextHandler(&terse, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&full, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})

	logger.Debug("scanning", "dir", "/data")
	logger.Warn("cache does not match remote", "key", "data/a.txt")

	assert.NotContains(t, terse.String(), "scanning")
	assert.Contains(t, terse.String(), "cache does not match remote")
	assert.Contains(t, full.String(), "scanning")
	assert.Contains(t, full.String(), "cache does not match remote")
}

func TestFanoutHandler_AttrsAndGroups(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(FanoutHandler{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	}).With("run", 1).WithGroup("stats")

	logger.Info("summary", "uploaded", 2)

	for _, out := range []string{a.String(), b.String()} {
		assert.Contains(t, out, "run=1")
		assert.Contains(t, out, "stats.uploaded=2")
	}
}

func TestFanoutHandler_Disabled(t *testing.T) {
	h := FanoutHandler{slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError})}
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}
