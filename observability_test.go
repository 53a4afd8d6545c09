package structstore_test

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/structstore"
	"github.com/hupe1980/structstore/testutil"
)

func TestBasicMetricsCollector(t *testing.T) {
	mc := &structstore.BasicMetricsCollector{}
	s := newStore(t, structstore.WithMetricsCollector(mc), structstore.WithLockTimeout(10*time.Millisecond))

	require.NoError(t, s.Set("a", "text"))
	g, err := s.ReadLock()
	require.NoError(t, err)
	assert.Error(t, s.Set("b", 1))
	g.Release()

	frame, err := s.ToBytes()
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Positive(t, stats.WriteLocks)
	assert.Positive(t, stats.ReadLocks)
	assert.Equal(t, int64(1), stats.LockErrors)
	assert.Positive(t, stats.AllocCount)
	assert.Positive(t, stats.AllocBytes)
	assert.Equal(t, int64(1), stats.EncodeCount)
	assert.Equal(t, int64(len(frame)), stats.EncodeBytes)
}

func TestLogger_SegmentLifecycle(t *testing.T) {
	var buf bytes.Buffer
	logger := structstore.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	name, dir := testutil.Segment(t)
	sh, err := structstore.OpenShared(name, 16384, structstore.WithFileBacking(dir), structstore.WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, sh.Close())

	out := buf.String()
	assert.Contains(t, out, `"msg":"segment created"`)
	assert.Contains(t, out, `"msg":"segment closed"`)
	assert.Contains(t, out, `"segment":"`+name+`"`)
	assert.Contains(t, out, `"cleanup":"if-last"`)
}

func TestLogger_LockViolation(t *testing.T) {
	var buf bytes.Buffer
	logger := structstore.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := newStore(t, structstore.WithLogger(logger))

	g, err := s.WriteLock()
	require.NoError(t, err)
	_, err = s.ReadLock()
	require.Error(t, err)
	g.Release()

	assert.Contains(t, buf.String(), "lock protocol violation")
	assert.Contains(t, buf.String(), "op=Store.ReadLock")
}
