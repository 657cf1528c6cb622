package recorder

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360/labrecorder/source/synthetic"
	"github.com/stretchr/testify/require"
)

func testController(t *testing.T) (*Controller, string) {
	t.Helper()
	src := synthetic.New(nil)
	cfg := DefaultConfig()
	cfg.StopTimeout = 2 * time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(src, cfg, logger, nil)

	dir := t.TempDir()
	path := filepath.Join(dir, "session.xdf")
	return c, path
}

func TestControllerFullSessionLifecycle(t *testing.T) {
	c, path := testController(t)
	ctx := context.Background()

	streams, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, streams)
	require.Equal(t, StateReady, c.State())

	selected, err := c.Select([]string{"all"})
	require.NoError(t, err)
	require.Len(t, selected, len(streams))

	resolved, err := c.SetFilename(path)
	require.NoError(t, err)
	require.Equal(t, path, resolved)

	require.NoError(t, c.Start())
	require.Equal(t, StateRecording, c.State())

	time.Sleep(150 * time.Millisecond)

	status := c.StatusReport()
	require.Equal(t, "Recording", status.State)
	require.Equal(t, len(streams), status.SelectedCount)

	require.NoError(t, c.Stop())
	require.Equal(t, StateIdle, c.State())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(len(xdfMagic)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, xdfMagic, string(data[:len(xdfMagic)]))
}

const xdfMagic = "XDF:"

func TestControllerStartRejectsEmptySelection(t *testing.T) {
	c, path := testController(t)
	ctx := context.Background()

	_, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	_, err = c.SetFilename(path)
	require.NoError(t, err)

	err = c.Start()
	require.Error(t, err)
}

func TestControllerStartRejectsMissingFilename(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()

	_, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	_, err = c.Select([]string{"all"})
	require.NoError(t, err)

	err = c.Start()
	require.Error(t, err)
}

func TestControllerStopWhileIdleIsInvalidState(t *testing.T) {
	c, _ := testController(t)
	err := c.Stop()
	require.Error(t, err)
}

func TestControllerStartTwiceIsInvalidState(t *testing.T) {
	c, path := testController(t)
	ctx := context.Background()

	_, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	_, err = c.Select([]string{"all"})
	require.NoError(t, err)
	_, err = c.SetFilename(path)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	err = c.Start()
	require.Error(t, err)

	require.NoError(t, c.Stop())
}

func TestAvailableStreamsAnnotatesSelection(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()

	streams, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, streams)

	_, err = c.Select([]string{streams[0].UID})
	require.NoError(t, err)

	available := c.AvailableStreams()
	require.Len(t, available, len(streams))
	for _, s := range available {
		require.Equal(t, s.UID == streams[0].UID, s.Selected)
	}
}

func TestStatusReportIncludesHealth(t *testing.T) {
	c, path := testController(t)
	ctx := context.Background()

	_, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	_, err = c.Select([]string{"all"})
	require.NoError(t, err)
	_, err = c.SetFilename(path)
	require.NoError(t, err)
	require.NoError(t, c.Start())

	time.Sleep(50 * time.Millisecond)

	status := c.StatusReport()
	require.True(t, status.Health.Healthy)
	require.NotEmpty(t, status.Health.SubStatuses)

	require.NoError(t, c.Stop())
}

func TestControllerSelectDeduplicatesAndRejectsUnknownUID(t *testing.T) {
	c, _ := testController(t)
	ctx := context.Background()
	streams, err := c.UpdateStreams(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, streams)

	uid := streams[0].UID
	selected, err := c.Select([]string{uid, uid})
	require.NoError(t, err)
	require.Equal(t, []string{uid}, selected)

	_, err = c.Select([]string{"does-not-exist"})
	require.Error(t, err)
}
