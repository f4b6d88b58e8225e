package buildserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/Norgate-AV/csx/internal/logging"
)

// ErrUnavailable means the daemon could not be reached or did not answer in
// time. Callers fall back to compiling locally.
var ErrUnavailable = errors.New("build server unavailable")

const (
	DefaultAttempts    = 5
	DefaultBackoff     = 30 * time.Millisecond
	DefaultDialTimeout = time.Second
	DefaultTimeout     = time.Minute
)

// Client talks to a daemon on the loopback interface
type Client struct {
	addr        string
	attempts    int
	backoff     time.Duration
	dialTimeout time.Duration
	timeout     time.Duration
	logger      *slog.Logger

	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout bounds a whole request, including the remote compile
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry changes how often and how quickly connecting is retried
func WithRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// WithClientLogger sets the client logger
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a client for the daemon on port
func NewClient(port int, opts ...ClientOption) *Client {
	d := &net.Dialer{}

	c := &Client{
		addr:        net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		attempts:    DefaultAttempts,
		backoff:     DefaultBackoff,
		dialTimeout: DefaultDialTimeout,
		timeout:     DefaultTimeout,
		dial:        d.DialContext,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.attempts < 1 {
		c.attempts = 1
	}

	c.logger = logging.OrDiscard(c.logger).With("component", "buildserver-client")

	return c
}

// Addr returns the daemon address
func (c *Client) Addr() string {
	return c.addr
}

// Ping returns the daemon's self description
func (c *Client) Ping(ctx context.Context) (string, error) {
	return c.Send(ctx, CmdPing)
}

// Stop asks the daemon to exit
func (c *Client) Stop(ctx context.Context) (string, error) {
	return c.Send(ctx, CmdStop)
}

// IsWritableDir asks the daemon whether it can create files in dir
func (c *Client) IsWritableDir(ctx context.Context, dir string) (bool, error) {
	resp, err := c.Send(ctx, CmdIsWritableDir+dir)
	if err != nil {
		return false, err
	}

	ok, err := strconv.ParseBool(resp)
	if err != nil {
		return false, fmt.Errorf("%w: %s: unexpected response %q", ErrUnavailable, c.addr, truncate(resp, 64))
	}

	return ok, nil
}

// SendBuildRequest runs a compiler command line on the daemon and returns
// the compiler output and exit code
func (c *Client) SendBuildRequest(ctx context.Context, backend string, args []string) (string, int, error) {
	resp, err := c.Send(ctx, EncodeCompileRequest(backend, args))
	if err != nil {
		return "", -1, err
	}

	// a daemon that drops the connection, or something else on the port,
	// answers with nothing usable
	code, out, err := ParseResult(resp)
	if err != nil {
		return "", -1, fmt.Errorf("%w: %s: %v", ErrUnavailable, c.addr, err)
	}

	return out, code, nil
}

// Send performs one request/response exchange. Connection failures are
// retried with a fixed backoff; every transport failure is reported as
// ErrUnavailable.
func (c *Client) Send(ctx context.Context, request string) (string, error) {
	conn, err := retry.DoWithData(
		func() (net.Conn, error) {
			conn, err := c.connect(ctx)
			if err != nil && ctx.Err() != nil {
				return nil, retry.Unrecoverable(ctx.Err())
			}

			return conn, err
		},
		retry.Attempts(uint(c.attempts)),
		retry.Delay(c.backoff),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("connect failed", "addr", c.addr, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", fmt.Errorf("%w: %s after %d attempts: %v", ErrUnavailable, c.addr, c.attempts, err)
	}

	resp, err := c.exchange(ctx, conn, request)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnavailable, c.addr, err)
	}

	return resp, nil
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	return c.dial(dctx, "tcp", c.addr)
}

func (c *Client) exchange(ctx context.Context, conn net.Conn, request string) (string, error) {
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetDeadline(deadline); err != nil {
		return "", err
	}

	if _, err := io.WriteString(conn, request); err != nil {
		return "", err
	}

	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return "", err
		}
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}

	return string(data), nil
}
