package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Norgate-AV/csx/internal/utils"
)

// hashLength is the number of hex characters kept from a path digest
const hashLength = 16

// Identity is the canonical identity of a top-level script. It is computed
// once per invocation and never changes.
type Identity struct {
	// Script is the absolute, cleaned path of the script file
	Script string

	// Hash names the identity's lock files and index entry
	Hash string
}

// NewIdentity resolves script to its canonical identity. The script must exist.
func NewIdentity(script string) (Identity, error) {
	abs, err := filepath.Abs(script)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to stat script: %w", err)
	}

	if info.IsDir() {
		return Identity{}, fmt.Errorf("script is a directory: %s", abs)
	}

	return Identity{
		Script: abs,
		Hash:   HashPath(abs),
	}, nil
}

// HashPath digests a path after normalizing it for the host filesystem
func HashPath(p string) string {
	sum := sha256.Sum256([]byte(utils.NormalizePath(p)))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// HashFile creates a hash of a file's content
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
