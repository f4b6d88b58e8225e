package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindLocalConfig(t *testing.T) {
	// Create a temporary directory structure
	tempDir := t.TempDir()
	subDir := filepath.Join(tempDir, "subdir")
	err := os.Mkdir(subDir, 0o755)
	assert.NoError(t, err)

	// Create config files
	configYML := filepath.Join(subDir, ".csx.yml")
	err = os.WriteFile(configYML, []byte("concurrency: none"), 0o644)
	assert.NoError(t, err)

	// Test finding in subdir
	result := FindLocalConfig(subDir)
	assert.Equal(t, configYML, result)

	// Test finding in parent
	result = FindLocalConfig(filepath.Join(subDir, "deep"))
	assert.Equal(t, configYML, result)

	// Test not found
	result = FindLocalConfig(tempDir)
	assert.Equal(t, "", result)
}

func TestFindLocalConfig_ExtensionOrder(t *testing.T) {
	tempDir := t.TempDir()

	for _, name := range []string{".csx.json", ".csx.toml", ".csx.yaml"} {
		err := os.WriteFile(filepath.Join(tempDir, name), []byte(""), 0o644)
		assert.NoError(t, err)
	}

	assert.Equal(t, filepath.Join(tempDir, ".csx.yaml"), FindLocalConfig(tempDir))
}

func TestFindGlobalConfig(t *testing.T) {
	tempDir := t.TempDir()

	assert.Equal(t, "", FindGlobalConfig(""))
	assert.Equal(t, "", FindGlobalConfig(tempDir))

	configTOML := filepath.Join(tempDir, "config.toml")
	err := os.WriteFile(configTOML, []byte("server_port = 18000"), 0o644)
	assert.NoError(t, err)

	assert.Equal(t, configTOML, FindGlobalConfig(tempDir))
}
