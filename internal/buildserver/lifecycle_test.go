package buildserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachableClient() *Client {
	c := NewClient(DefaultPort, WithRetry(1, 0))
	c.dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	return c
}

func TestManager_EnsureRunningSpawnsWhenDown(t *testing.T) {
	t.Parallel()

	var gotExe string
	var gotArgs []string

	m := NewManager(17100, nil, WithExecutable("/opt/csx"), WithClient(unreachableClient()))
	m.spawn = func(exe string, args []string) (int, error) {
		gotExe, gotArgs = exe, args
		return 4242, nil
	}

	spawned, err := m.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, spawned)
	assert.Equal(t, "/opt/csx", gotExe)
	assert.Equal(t, []string{"server", "run", "--port", "17100"}, gotArgs)
}

func TestManager_EnsureRunningKeepsLiveServer(t *testing.T) {
	t.Parallel()

	_, client, _ := startServer(t, WithExecutor(&fakeExecutor{}))

	m := NewManager(0, nil, WithClient(client))
	m.spawn = func(string, []string) (int, error) {
		t.Fatal("spawn must not be called while a server answers")
		return 0, nil
	}

	spawned, err := m.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, spawned)

	require.NoError(t, m.WaitReady(context.Background(), time.Second))
}

func TestManager_StartFails(t *testing.T) {
	t.Parallel()

	m := NewManager(17101, nil, WithExecutable("/opt/csx"), WithClient(unreachableClient()))
	m.spawn = func(string, []string) (int, error) {
		return 0, errors.New("permission denied")
	}

	_, err := m.Start()
	assert.ErrorContains(t, err, "permission denied")
}

func TestManager_StopWhenDownSucceeds(t *testing.T) {
	t.Parallel()

	m := NewManager(17102, nil, WithClient(unreachableClient()))

	resp, err := m.Stop(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestManager_StatusAndStop(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(t.TempDir(), nil)
	s, client, done := startServer(t, WithExecutor(&fakeExecutor{}), WithRegistry(registry))

	m := NewManager(s.Port(), registry, WithClient(client))

	require.NoError(t, m.WaitReady(context.Background(), 2*time.Second))

	ping, records, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ping, "pid:")
	require.Len(t, records, 1)
	assert.Equal(t, s.Port(), records[0].Port)

	resp, err := m.Stop(context.Background())
	require.NoError(t, err)
	assert.Contains(t, resp, "Terminating pid:")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	ping, _, err = m.Status(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ping)
}
