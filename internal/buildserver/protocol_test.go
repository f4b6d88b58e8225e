package buildserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isKnown(id string) bool {
	return id == "go" || id == "gccgo"
}

func TestDecodeCompileRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		wantBackend string
		wantArgs    []string
	}{
		{
			name:        "backend prefixed",
			body:        "gccgo\nbuild\n-o\nout",
			wantBackend: "gccgo",
			wantArgs:    []string{"build", "-o", "out"},
		},
		{
			name:        "legacy request",
			body:        "build\n-o\nout",
			wantBackend: "",
			wantArgs:    []string{"build", "-o", "out"},
		},
		{
			name:        "crlf and trailing newline",
			body:        "go\r\nbuild\r\nmain.go\r\n",
			wantBackend: "go",
			wantArgs:    []string{"build", "main.go"},
		},
		{
			name:        "backend only",
			body:        "go",
			wantBackend: "go",
			wantArgs:    []string{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			backend, args := DecodeCompileRequest(tt.body, isKnown)
			assert.Equal(t, tt.wantBackend, backend)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestEncodeCompileRequest(t *testing.T) {
	t.Parallel()

	body := EncodeCompileRequest("go", []string{"build", "-o", "out", "main.go"})
	assert.Equal(t, "go\nbuild\n-o\nout\nmain.go", body)

	backend, args := DecodeCompileRequest(body, isKnown)
	assert.Equal(t, "go", backend)
	assert.Equal(t, []string{"build", "-o", "out", "main.go"}, args)
}

func TestParseResult(t *testing.T) {
	t.Parallel()

	t.Run("output containing separators", func(t *testing.T) {
		t.Parallel()

		code, out, err := ParseResult(EncodeResult(2, "a.go:1:1: x | y"))
		require.NoError(t, err)
		assert.Equal(t, 2, code)
		assert.Equal(t, "a.go:1:1: x | y", out)
	})

	t.Run("empty output", func(t *testing.T) {
		t.Parallel()

		code, out, err := ParseResult("0|")
		require.NoError(t, err)
		assert.Equal(t, 0, code)
		assert.Empty(t, out)
	})

	t.Run("missing separator", func(t *testing.T) {
		t.Parallel()

		_, _, err := ParseResult("pid:42")
		assert.Error(t, err)
	})

	t.Run("non numeric code", func(t *testing.T) {
		t.Parallel()

		_, _, err := ParseResult("abc|output")
		assert.Error(t, err)
	})
}
