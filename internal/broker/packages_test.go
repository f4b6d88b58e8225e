package broker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirPackageResolver(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tools"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme"), []byte("x"), 0o644))

	tests := []struct {
		name    string
		root    string
		names   []string
		want    []string
		wantErr string
	}{
		{
			name:  "nothing requested",
			root:  "",
			names: nil,
			want:  nil,
		},
		{
			name:  "resolves in order",
			root:  root,
			names: []string{"tools", "acme"},
			want:  []string{filepath.Join(root, "tools"), filepath.Join(root, "acme")},
		},
		{
			name:    "missing package",
			root:    root,
			names:   []string{"acme", "nope"},
			wantErr: "package not found: nope",
		},
		{
			name:    "file is not a package",
			root:    root,
			names:   []string{"readme"},
			wantErr: "package not found: readme",
		},
		{
			name:    "no root configured",
			root:    "",
			names:   []string{"acme"},
			wantErr: "no package root configured",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := DirPackageResolver{Root: tt.root}.ResolvePackages(tt.names)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
