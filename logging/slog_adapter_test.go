package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlog(level zerolog.Level) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf).Level(level)
	return slog.New(NewSlogHandlerWithLogger(zl)), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestSlogHandlerLevels(t *testing.T) {
	logger, buf := newTestSlog(zerolog.WarnLevel)
	ctx := context.Background()

	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
	assert.True(t, logger.Enabled(ctx, slog.LevelError))

	logger.Info("dropped")
	assert.Zero(t, buf.Len())

	logger.Error("Unexpected failure storing instance")
	entry := decodeLine(t, buf)
	assert.Equal(t, "error", entry["level"])
}

func TestSlogHandlerCriticalLevel(t *testing.T) {
	logger, buf := newTestSlog(zerolog.ErrorLevel)
	ctx := context.Background()

	assert.True(t, logger.Enabled(ctx, LevelCritical))
	logger.Log(ctx, LevelCritical, "DICOM receptor terminated unexpectedly", "error", errors.New("listen failed"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "critical", entry["level"])
	assert.Equal(t, "listen failed", entry["error"])

	quiet, quietBuf := newTestSlog(zerolog.Disabled)
	assert.False(t, quiet.Enabled(ctx, LevelCritical))
	quiet.Log(ctx, LevelCritical, "dropped")
	assert.Zero(t, quietBuf.Len())
}

func TestSlogHandlerAttributeKinds(t *testing.T) {
	logger, buf := newTestSlog(zerolog.DebugLevel)

	logger.Info("kinds",
		"str", "v",
		"int", 7,
		"uint", uint64(9),
		"float", 1.5,
		"bool", true,
		"dur", 2*time.Second,
		"err", errors.New("boom"),
	)

	entry := decodeLine(t, buf)
	assert.Equal(t, "v", entry["str"])
	assert.EqualValues(t, 7, entry["int"])
	assert.EqualValues(t, 9, entry["uint"])
	assert.EqualValues(t, 1.5, entry["float"])
	assert.Equal(t, true, entry["bool"])
	assert.Contains(t, entry, "dur")
	assert.Equal(t, "boom", entry["err"])
}

func TestSlogHandlerWithAttrsAndGroups(t *testing.T) {
	logger, buf := newTestSlog(zerolog.DebugLevel)

	logger.With("association_id", "abc").
		WithGroup("assoc").
		WithGroup("peer").
		Info("grouped", "ae", "MODALITY", slog.Group("ctx", "id", 1))

	entry := decodeLine(t, buf)
	assert.Equal(t, "abc", entry["association_id"])
	assert.Equal(t, "MODALITY", entry["assoc.peer.ae"])
	assert.EqualValues(t, 1, entry["assoc.peer.ctx.id"])
}

func TestSlogHandlerAttrsKeepTheirGroup(t *testing.T) {
	logger, buf := newTestSlog(zerolog.DebugLevel)

	logger.WithGroup("assoc").With("id", "a1").WithGroup("peer").With("ae", "SCU").
		Info("nested", "ctx", 3)

	entry := decodeLine(t, buf)
	assert.Equal(t, "a1", entry["assoc.id"])
	assert.Equal(t, "SCU", entry["assoc.peer.ae"])
	assert.EqualValues(t, 3, entry["assoc.peer.ctx"])
}

func TestSlogHandlerEmptyGroupIsNoop(t *testing.T) {
	h := NewSlogHandlerWithLogger(zerolog.Nop())
	assert.Same(t, h, h.WithGroup(""))
}

func discardSlog() *slog.Logger {
	return slog.New(NewSlogHandlerWithLogger(zerolog.Nop()))
}
