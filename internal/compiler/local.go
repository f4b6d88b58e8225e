package compiler

import (
	"context"
	"log/slog"

	"github.com/Norgate-AV/csx/internal/logging"
)

// Executor runs a compiler command line. *CommandBuilder is the production implementation.
type Executor interface {
	ExecuteCommand(ctx context.Context, compilerPath string, args []string) (int, string, error)
}

// Local compiles in the calling process
type Local struct {
	backend Backend
	exec    Executor
	logger  *slog.Logger
}

// LocalOption configures a Local compiler
type LocalOption func(*Local)

// WithExecutor replaces the command runner
func WithExecutor(e Executor) LocalOption {
	return func(l *Local) {
		l.exec = e
	}
}

// NewLocal creates a compiler that runs backend directly
func NewLocal(backend Backend, logger *slog.Logger, opts ...LocalOption) *Local {
	l := &Local{
		backend: backend,
		exec:    NewCommandBuilder(),
		logger:  logging.OrDiscard(logger).With("component", "compiler"),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Compile runs the backend for req
func (l *Local) Compile(ctx context.Context, req *Request) (*Result, error) {
	args := l.backend.Args(req)
	l.logger.Debug("compiling", "backend", l.backend.ID, "compiler", l.backend.Path, "args", args)

	code, out, err := l.exec.ExecuteCommand(ctx, l.backend.Path, args)
	if err != nil {
		return nil, err
	}

	return NewResult(code, out, req), nil
}
