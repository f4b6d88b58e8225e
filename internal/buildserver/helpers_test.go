package buildserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/csx/internal/compiler"
)

// fakeExecutor answers every command with a fixed exit code and output
type fakeExecutor struct {
	mu       sync.Mutex
	code     int
	output   string
	err      error
	block    bool
	calls    int
	lastPath string
	lastArgs []string
}

func (f *fakeExecutor) ExecuteCommand(ctx context.Context, path string, args []string) (int, string, error) {
	f.mu.Lock()
	f.calls++
	f.lastPath = path
	f.lastArgs = append([]string(nil), args...)
	block := f.block
	f.mu.Unlock()

	// a blocking compile runs until the request is cancelled, like a killed compiler
	if block {
		<-ctx.Done()
		return -1, "", ctx.Err()
	}

	return f.code, f.output, f.err
}

func (f *fakeExecutor) last() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastPath, f.lastArgs
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

var testBackends = []compiler.Backend{
	{ID: compiler.DefaultBackend, Path: "/usr/local/go/bin/go"},
	{ID: compiler.BackendGccgo, Path: "/usr/bin/go-gccgo"},
}

// startServer runs a server on a free loopback port until the test ends
func startServer(t *testing.T, opts ...ServerOption) (*Server, *Client, <-chan error) {
	t.Helper()

	s := NewServer(0, testBackends, opts...)
	require.NoError(t, s.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})

	return s, NewClient(s.Port(), WithTimeout(5*time.Second)), done
}
