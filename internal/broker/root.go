package broker

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Norgate-AV/csx/internal/logging"
	"github.com/Norgate-AV/csx/internal/utils"
)

// WritableChecker asks a third party, usually the build server, whether a
// directory accepts new files
type WritableChecker interface {
	IsWritableDir(ctx context.Context, dir string) (bool, error)
}

// ResolveRoot returns the first candidate cache root that exists or can be
// created and is writable. When checker is set it is consulted first, since
// the build server writes units into the same root; if it cannot answer the
// directory is probed locally.
func ResolveRoot(ctx context.Context, candidates []string, checker WritableChecker, logger *slog.Logger) (string, error) {
	logger = logging.OrDiscard(logger)

	for _, dir := range candidates {
		if dir == "" {
			continue
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Debug("cache root unusable", "dir", dir, "error", err)
			continue
		}

		if writable(ctx, dir, checker, logger) {
			return dir, nil
		}

		logger.Warn("cache root not writable, trying next", "dir", dir)
	}

	return "", fmt.Errorf("no writable cache directory among %v", candidates)
}

func writable(ctx context.Context, dir string, checker WritableChecker, logger *slog.Logger) bool {
	if checker != nil {
		ok, err := checker.IsWritableDir(ctx, dir)
		if err == nil {
			return ok
		}

		logger.Debug("remote writability check failed", "dir", dir, "error", err)
	}

	return utils.IsWritableDir(dir)
}
