package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/labrecorder/recorder"
)

// Server is the control-channel TCP listener: one goroutine accepting
// connections, one goroutine per accepted connection reading
// newline-delimited requests and writing one JSON response per request.
// A connection closing never affects session state.
type Server struct {
	ctrl     *recorder.Controller
	logger   *slog.Logger
	listener net.Listener

	wg sync.WaitGroup
}

// New creates a Server bound to addr ("host:port"), ready for Serve.
func New(addr string, ctrl *recorder.Controller, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{ctrl: ctrl, logger: logger, listener: ln}, nil
}

// Addr returns the bound listener's address, useful when the configured
// port was 0.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve runs the accept loop until ctx is cancelled or the listener is
// closed. It returns nil on either clean shutdown path.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close closes the listener, causing Serve to return once in-flight
// connections drain.
func (s *Server) Close() error { return s.listener.Close() }

// perConnectionRate caps a single client at 50 requests/second with a
// burst of 10, enough headroom for scripted control sequences while still
// guarding against a runaway or malicious client flooding the line
// parser.
const perConnectionRate = 50
const perConnectionBurst = 10

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	limiter := rate.NewLimiter(rate.Limit(perConnectionRate), perConnectionBurst)
	reader := bufio.NewReader(conn)
	enc := json.NewEncoder(conn)

	for {
		line, err := reader.ReadString('\n')
		if line == "" && err != nil {
			return // EOF or read error: connection close never affects session state
		}

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		req, perr := ParseRequest(line)
		var resp Response
		if perr != nil {
			resp = fail("BadRequest", perr.Error())
		} else {
			cmdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			resp = dispatch(cmdCtx, s.ctrl, req)
			cancel()
		}

		if encErr := enc.Encode(resp); encErr != nil {
			return
		}

		if err != nil {
			return // trailing partial line consumed, now at EOF
		}
	}
}
