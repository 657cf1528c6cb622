package control

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/labrecorder/recorder"
	"github.com/c360/labrecorder/source/synthetic"
)

func newTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := recorder.New(synthetic.New(nil), recorder.DefaultConfig(), logger, nil)

	srv, err := New("127.0.0.1:0", ctrl, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()

	return srv, cancel
}

func sendLine(t *testing.T, conn net.Conn, line string) Response {
	t.Helper()
	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	raw, err := r.ReadString('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	return resp
}

func TestServerStatusCommand(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := sendLine(t, conn, "status")
	require.True(t, resp.OK)
}

func TestServerUnknownCommandIsBadRequest(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := sendLine(t, conn, "not-a-real-command")
	require.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	require.Equal(t, "BadRequest", resp.Error.Kind)
}

func TestServerStopWhileIdleIsInvalidState(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	resp := sendLine(t, conn, "stop")
	require.False(t, resp.OK)
	require.Equal(t, "InvalidState", resp.Error.Kind)
}

func TestServerFullControlScript(t *testing.T) {
	srv, cancel := newTestServer(t)
	defer cancel()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.True(t, sendLine(t, conn, "update").OK)
	require.True(t, sendLine(t, conn, "select all").OK)

	tmp := t.TempDir() + "/out.xdf"
	filenameResp := sendLine(t, conn, "filename "+tmp)
	require.True(t, filenameResp.OK)

	require.True(t, sendLine(t, conn, "start").OK)
	require.False(t, sendLine(t, conn, "start").OK)

	time.Sleep(50 * time.Millisecond)
	require.True(t, sendLine(t, conn, "stop").OK)
}

func TestParseRequestJSONForm(t *testing.T) {
	req, err := ParseRequest(`{"command":"select","args":["all"]}`)
	require.NoError(t, err)
	require.Equal(t, "select", req.Command)
	require.Equal(t, []string{"all"}, req.Args)
}

func TestParseRequestBareWordForm(t *testing.T) {
	req, err := ParseRequest("select all none")
	require.NoError(t, err)
	require.Equal(t, "select", req.Command)
	require.Equal(t, []string{"all", "none"}, req.Args)
}
