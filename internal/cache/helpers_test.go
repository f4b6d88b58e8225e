package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// baseTime is a fixed instant used to give test files deterministic timestamps
var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path, content string, mtime time.Time) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	touch(t, path, mtime)

	return path
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// publish simulates a successful compile of u
func publish(t *testing.T, u *Unit) {
	t.Helper()

	tmp, err := u.NewTempOutput()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tmp, []byte("binary"), 0o755))
	require.NoError(t, u.Finalize(tmp))
}
