package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileSink(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "audit")
		sink, err := NewFileSink(FileSinkConfig{BasePath: dir})
		require.NoError(t, err)
		defer sink.Close()

		_, err = os.Stat(filepath.Join(dir, "audit.log"))
		assert.NoError(t, err)
	})

	t.Run("requires a directory", func(t *testing.T) {
		_, err := NewFileSink(FileSinkConfig{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "directory is required")
	})
}

func TestFileSink_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(FileSinkConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(ctx, Event{Kind: EventLoginSuccess, IP: "1.1.1.1", Timestamp: 1, SessionID: "s1"}))
	require.NoError(t, sink.Write(ctx, Event{Kind: EventLogout, IP: "1.1.1.1", Timestamp: 2, SessionID: "s1"}))
	require.NoError(t, sink.Flush(ctx))

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventLoginSuccess, events[0].Kind)
	assert.Equal(t, EventLogout, events[1].Kind)

	events, err = sink.ReadEvents(1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventLogout, events[0].Kind, "the newest events are kept")
}

func TestFileSink_AppendsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := NewFileSink(FileSinkConfig{BasePath: dir})
	require.NoError(t, err)
	require.NoError(t, sink.Write(ctx, Event{Kind: EventLoginFailure, IP: "a"}))
	require.NoError(t, sink.Close())

	sink, err = NewFileSink(FileSinkConfig{BasePath: dir})
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.Write(ctx, Event{Kind: EventLoginFailure, IP: "b"}))
	require.NoError(t, sink.Flush(ctx))

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].IP)
	assert.Equal(t, "b", events[1].IP)
}

func TestFileSink_Rotation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	sink, err := NewFileSink(FileSinkConfig{BasePath: dir, MaxSize: 100, MaxFiles: 2})
	require.NoError(t, err)
	defer sink.Close()

	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sink.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, sink.Write(ctx, Event{Kind: EventLoginFailure, IP: "203.0.113.10", Timestamp: int64(i)}))
	}
	require.NoError(t, sink.Flush(ctx))

	rotated, err := sink.rotatedFiles()
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	info, err := os.Stat(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(100))
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	sink, err := NewFileSink(FileSinkConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	err = sink.Write(context.Background(), Event{Kind: EventLogout})
	assert.Error(t, err)
	assert.NoError(t, sink.Flush(context.Background()))
	assert.NoError(t, sink.Close())
}

func TestFileSink_WithLog(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(FileSinkConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	l := NewLog(WithSink(sink))
	l.Record(ctx, EventLoginFailure, "9.9.9.9", Detail{})
	l.Record(ctx, EventLoginSuccess, "9.9.9.9", Detail{SessionID: "s1", DeviceID: "unknown"})
	require.NoError(t, l.Flush(ctx))

	events, err := sink.ReadEvents(0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[1].SessionID)
	require.NoError(t, l.Close(ctx))
}
