package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, filepath.Join(dir, "main.go"), "package main", baseTime)

	id, err := NewIdentity(script)
	require.NoError(t, err)
	assert.Equal(t, script, id.Script)
	assert.Len(t, id.Hash, hashLength)

	again, err := NewIdentity(filepath.Join(dir, ".", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, id, again, "identity should be stable across spellings of the same path")

	other := writeFile(t, filepath.Join(dir, "other.go"), "package main", baseTime)
	otherID, err := NewIdentity(other)
	require.NoError(t, err)
	assert.NotEqual(t, id.Hash, otherID.Hash)
}

func TestNewIdentity_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewIdentity(filepath.Join(dir, "missing.go"))
	assert.Error(t, err)

	_, err = NewIdentity(dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "directory")
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "unit")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	h1, err := HashFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("two"), 0o644))
	h2, err := HashFile(path)
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)

	_, err = HashFile(filepath.Join(dir, "absent"))
	assert.Error(t, err)
}
