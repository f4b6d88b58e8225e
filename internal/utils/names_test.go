package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSimpleName(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"mathlib", true},
		{"Company.Utils", true},
		{"lib-v2", true},
		{"", false},
		{".", false},
		{"..", false},
		{"dir/lib", false},
		{`dir\lib`, false},
		{"/abs/lib.so", false},
		{"C:lib", false},
		{"lib*", false},
		{" padded", false},
	}

	for _, test := range tests {
		result := IsSimpleName(test.input)
		assert.Equal(t, test.expected, result, "IsSimpleName(%q)", test.input)
	}
}

func TestSamePath(t *testing.T) {
	assert.True(t, SamePath("/tmp/a/../b/script.go", "/tmp/b/script.go"))
	assert.False(t, SamePath("/tmp/b/one.go", "/tmp/b/two.go"))

	if CaseInsensitiveFS() {
		assert.True(t, SamePath("/tmp/B/Script.go", "/tmp/b/script.go"))
	} else {
		assert.False(t, SamePath("/tmp/B/Script.go", "/tmp/b/script.go"))
	}
}

func TestNormalizePath(t *testing.T) {
	got := NormalizePath("/tmp/x/./y/../Main.go")
	if CaseInsensitiveFS() {
		assert.Equal(t, "/tmp/x/main.go", got)
	} else {
		assert.Equal(t, "/tmp/x/Main.go", got)
	}
}

func TestIsWritableDir(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, IsWritableDir(dir))
	assert.False(t, IsWritableDir(dir+"/missing"))
}
