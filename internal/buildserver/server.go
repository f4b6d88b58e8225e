package buildserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/logging"
	"github.com/Norgate-AV/csx/internal/utils"
)

const (
	// DefaultSweepInterval is how often stale registry records are removed
	DefaultSweepInterval = time.Minute

	// DefaultRequestTimeout bounds one compile on the server side
	DefaultRequestTimeout = 5 * time.Minute

	// readTimeout bounds how long a client may take to send its request
	readTimeout = 10 * time.Second
)

// Server owns the warm compiler and answers requests one connection at a time
type Server struct {
	port           int
	backends       map[string]compiler.Backend
	exec           compiler.Executor
	registry       *Registry
	sweepInterval  time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger

	pid int
	exe string
	ln  net.Listener
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithExecutor replaces the command runner used for compile requests
func WithExecutor(e compiler.Executor) ServerOption {
	return func(s *Server) {
		s.exec = e
	}
}

// WithRegistry records the server in r while it runs
func WithRegistry(r *Registry) ServerOption {
	return func(s *Server) {
		s.registry = r
	}
}

// WithSweepInterval changes how often stale registry records are removed
func WithSweepInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.sweepInterval = d
	}
}

// WithRequestTimeout bounds a single compile
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithServerLogger sets the server logger
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a server for the given backends. Port 0 picks a free port.
func NewServer(port int, backends []compiler.Backend, opts ...ServerOption) *Server {
	s := &Server{
		port:           port,
		backends:       make(map[string]compiler.Backend, len(backends)),
		exec:           compiler.NewCommandBuilder(),
		sweepInterval:  DefaultSweepInterval,
		requestTimeout: DefaultRequestTimeout,
		pid:            os.Getpid(),
	}

	for _, b := range backends {
		s.backends[b.ID] = b
	}

	if exe, err := os.Executable(); err == nil {
		s.exe = exe
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = logging.OrDiscard(s.logger).With("component", "buildserver")

	return s
}

// Listen binds the loopback port
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.ln = ln
	s.port = ln.Addr().(*net.TCPAddr).Port

	return nil
}

// Port returns the bound port, valid after Listen
func (s *Server) Port() int {
	return s.port
}

// ListenAndServe binds the port and serves until stopped
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	return s.Serve(ctx)
}

// Serve answers requests until a stop request arrives or ctx is cancelled.
// The instance record exists for exactly as long as Serve runs.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server is not listening")
	}

	if s.registry != nil {
		if err := s.registry.Write(Record{PID: s.pid, Port: s.port}); err != nil {
			s.ln.Close()
			return err
		}

		defer func() {
			if err := s.registry.Remove(s.pid); err != nil {
				s.logger.Warn("failed to remove instance record", "error", err)
			}
		}()
	}

	s.logger.Info("build server listening", "pid", s.pid, "port", s.port)

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoop := context.WithCancel(gctx)
	defer stopLoop()

	g.Go(func() error {
		<-loopCtx.Done()
		return ignoreClosed(s.ln.Close())
	})

	g.Go(func() error {
		defer stopLoop()
		return s.acceptLoop(loopCtx)
	})

	if s.registry != nil && s.sweepInterval > 0 {
		g.Go(func() error {
			s.sweepLoop(loopCtx)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("build server stopped", "pid", s.pid)

	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("accept failed: %w", err)
		}

		if stop := s.handle(ctx, conn); stop {
			return nil
		}
	}
}

func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.registry.Sweep(); err != nil {
				s.logger.Warn("registry sweep incomplete", "error", err)
			}
		}
	}
}

// handle serves one connection and reports whether the server should stop
func (s *Server) handle(ctx context.Context, conn net.Conn) bool {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	data, err := io.ReadAll(conn)
	if err != nil {
		s.logger.Warn("failed to read request", "error", err)
		return false
	}

	response, stop, err := s.dispatch(ctx, string(data))
	if err != nil {
		// hanging up makes the client report the server unavailable
		s.logger.Warn("request abandoned", "error", err)
		return false
	}

	_ = conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if _, err := io.WriteString(conn, response); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}

	return stop
}

func (s *Server) dispatch(ctx context.Context, request string) (string, bool, error) {
	trimmed := strings.TrimSpace(request)

	switch {
	case trimmed == CmdStop:
		return fmt.Sprintf("Terminating pid:%d", s.pid), true, nil
	case trimmed == CmdPing:
		return s.pingResponse(), false, nil
	case strings.HasPrefix(trimmed, CmdIsWritableDir):
		dir := strings.TrimPrefix(trimmed, CmdIsWritableDir)
		return strconv.FormatBool(utils.IsWritableDir(dir)), false, nil
	}

	resp, err := s.compile(ctx, request)

	return resp, false, err
}

func (s *Server) pingResponse() string {
	lines := []string{
		fmt.Sprintf("pid:%d", s.pid),
		"file: " + s.exe,
	}

	ids := make([]string, 0, len(s.backends))
	for id := range s.backends {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("%s: %s", id, s.backends[id].Path))
	}

	return strings.Join(lines, "\n")
}

// compile runs one compile request. A request cut short by the server's
// shutdown or its request timeout yields an error instead of a response.
func (s *Server) compile(ctx context.Context, request string) (string, error) {
	id, args := DecodeCompileRequest(request, func(line string) bool {
		_, ok := s.backends[line]
		return ok
	})

	if id == "" {
		id = compiler.DefaultBackend
	}

	backend, ok := s.backends[id]
	if !ok {
		return EncodeResult(-1, "no compiler backend configured: "+id), nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	start := time.Now()
	code, out, err := s.exec.ExecuteCommand(reqCtx, backend.Path, args)
	if reqCtx.Err() != nil {
		return "", fmt.Errorf("compile interrupted after %s: %w", time.Since(start).Round(time.Millisecond), reqCtx.Err())
	}

	if err != nil {
		s.logger.Error("compile request failed", "backend", id, "error", err)
		return EncodeResult(-1, err.Error()), nil
	}

	s.logger.Debug("compiled", "backend", id, "exit_code", code, "elapsed", time.Since(start))

	return EncodeResult(code, out), nil
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
