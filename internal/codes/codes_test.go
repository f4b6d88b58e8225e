package codes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuccess(t *testing.T) {
	assert.True(t, IsSuccess(Success))
	assert.False(t, IsSuccess(CompileErrors))
	assert.False(t, IsSuccess(-1))
}

func TestGetErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"success", Success, "Success"},
		{"compile errors", CompileErrors, "Compile errors"},
		{"server unavailable", ServerUnavailable, "Build server is not running"},
		{"unknown", 999, "Unknown error"},
		{"negative", -1, "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetErrorMessage(tt.code))
		})
	}
}

func TestErrorCodes_Coverage(t *testing.T) {
	for code := Success; code <= CacheFailure; code++ {
		msg := GetErrorMessage(code)
		assert.NotEqual(t, "Unknown error", msg, "Code %d should have a message", code)
	}
}
