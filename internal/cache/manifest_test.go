package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManifest(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.go"), "package main", baseTime)
	b := writeFile(t, filepath.Join(dir, "b.go"), "package main", baseTime.Add(time.Minute))

	m, err := NewManifest([]Source{
		{Path: a, Kind: KindScript},
		{Path: b, Kind: KindScript},
		{Path: a, Kind: KindScript},
	})
	require.NoError(t, err)

	require.Len(t, m.Dependencies, 2, "duplicates are dropped")
	assert.Equal(t, a, m.Dependencies[0].Path)
	assert.True(t, m.Dependencies[1].ModTime.Equal(baseTime.Add(time.Minute)))

	dep, ok := m.Lookup(b)
	assert.True(t, ok)
	assert.Equal(t, KindScript, dep.Kind)

	_, ok = m.Lookup(filepath.Join(dir, "c.go"))
	assert.False(t, ok)
}

func TestNewManifest_MissingSource(t *testing.T) {
	_, err := NewManifest([]Source{{Path: filepath.Join(t.TempDir(), "gone.go"), Kind: KindScript}})
	assert.Error(t, err)
}

func TestManifest_WriteRead(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.go"), "package main", baseTime.Add(123456789*time.Nanosecond))
	lib := writeFile(t, filepath.Join(dir, "libs", "libz.so"), "elf", baseTime)

	m, err := NewManifest([]Source{
		{Path: a, Kind: KindScript},
		{Path: lib, Kind: KindAssembly},
	})
	require.NoError(t, err)
	m.Compiler = "go"

	path := filepath.Join(dir, "unit.manifest.json")
	require.NoError(t, WriteManifest(path, m))

	loaded, err := ReadManifest(path)
	require.NoError(t, err)
	assert.True(t, m.Equal(loaded), "round trip must keep the set and nanosecond timestamps")
	assert.Equal(t, "go", loaded.Compiler)
	assert.Equal(t, manifestVersion, loaded.Version)
}

func TestManifest_PropertyEqualIgnoresOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1234)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	build := func(names []string, offsets []int64) *Manifest {
		m := &Manifest{Version: manifestVersion}
		seen := map[string]bool{}
		for i, name := range names {
			p := filepath.Join("/deps", name)
			if seen[p] {
				continue
			}
			seen[p] = true

			var off int64
			if i < len(offsets) {
				off = offsets[i]
			}

			m.Dependencies = append(m.Dependencies, Dependency{
				Path:    p,
				ModTime: baseTime.Add(time.Duration(off)),
				Kind:    KindScript,
			})
		}

		return m
	}

	properties.Property("reversed manifest is equal", prop.ForAll(
		func(names []string, offsets []int64) bool {
			m := build(names, offsets)
			reversed := &Manifest{Version: m.Version}
			for i := len(m.Dependencies) - 1; i >= 0; i-- {
				reversed.Dependencies = append(reversed.Dependencies, m.Dependencies[i])
			}

			return m.Equal(reversed) && reversed.Equal(m)
		},
		gen.SliceOf(gen.Identifier()),
		gen.SliceOf(gen.Int64Range(0, int64(time.Hour))),
	))

	properties.Property("advancing any timestamp breaks equality", prop.ForAll(
		func(names []string, pick int) bool {
			m := build(names, nil)
			if len(m.Dependencies) == 0 {
				return true
			}

			changed := &Manifest{Version: m.Version}
			changed.Dependencies = append(changed.Dependencies, m.Dependencies...)
			i := pick % len(changed.Dependencies)
			changed.Dependencies[i].ModTime = changed.Dependencies[i].ModTime.Add(time.Second)

			return !m.Equal(changed)
		},
		gen.SliceOf(gen.Identifier()),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
