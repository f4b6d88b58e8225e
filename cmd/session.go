package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/csx/internal/broker"
	"github.com/Norgate-AV/csx/internal/buildserver"
	"github.com/Norgate-AV/csx/internal/cache"
	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/config"
	"github.com/Norgate-AV/csx/internal/lock"
	"github.com/Norgate-AV/csx/internal/logging"
	"github.com/Norgate-AV/csx/internal/probe"
)

// serverStartWait bounds how long an invocation waits for a freshly spawned build server
const serverStartWait = 2 * time.Second

// newLocalCompiler creates the in-process compiler. Tests replace it.
var newLocalCompiler = func(backend compiler.Backend, logger *slog.Logger) compiler.Compiler {
	return compiler.NewLocal(backend, logger)
}

// newLoader creates the unit loader. Tests replace it.
var newLoader = func() broker.Loader {
	return broker.NewProcessLoader()
}

// commandContext returns the command's context, or a background context when run outside Execute
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}

func newLogger(cfg *config.Config, level string) (*slog.Logger, error) {
	if cfg.Verbose {
		level = "debug"
	}

	opts := logging.DefaultOptions()
	opts.Level = level
	if cfg.LogFormat != "" {
		opts.Format = cfg.LogFormat
	}

	return logging.New(opts)
}

func newRegistry(cfg *config.Config, logger *slog.Logger) *buildserver.Registry {
	return buildserver.NewRegistry(cfg.RegistryDir, logger)
}

func newManager(cfg *config.Config, logger *slog.Logger) *buildserver.Manager {
	client := buildserver.NewClient(cfg.ServerPort,
		buildserver.WithTimeout(cfg.ServerTimeout),
		buildserver.WithClientLogger(logger),
	)

	return buildserver.NewManager(cfg.ServerPort, newRegistry(cfg, logger),
		buildserver.WithClient(client),
		buildserver.WithManagerLogger(logger),
	)
}

// newBroker wires the invocation pipeline from the configuration. The logger
// is taken from ctx.
func newBroker(ctx context.Context, cfg *config.Config) (*broker.Broker, error) {
	logger := logging.FromContext(ctx)

	backend, err := compiler.LookupBackend(cfg.Compiler, cfg.CompilerPath)
	if err != nil {
		return nil, err
	}

	opts := []broker.Option{
		broker.WithBackendID(backend.ID),
		broker.WithPackages(broker.DirPackageResolver{Root: cfg.PackageRoot}),
		broker.WithSearchDirs(cfg.SearchDirs),
		broker.WithExecuteWait(cfg.ExecuteWait),
		broker.WithLoader(newLoader()),
		broker.WithLogger(logger),
	}

	var checker broker.WritableChecker
	if cfg.BuildServer {
		mgr := newManager(cfg, logger)

		spawned, err := mgr.EnsureRunning(ctx)
		if err != nil {
			logger.Warn("could not start build server", "error", err)
		} else if spawned {
			if err := mgr.WaitReady(ctx, serverStartWait); err != nil {
				logger.Warn("build server not ready", "error", err)
			}
		}

		checker = mgr.Client()
		opts = append(opts, broker.WithRemote(buildserver.NewRemote(mgr.Client(), backend)))
	}

	root, err := broker.ResolveRoot(ctx, cfg.CacheRoots(), checker, logger)
	if err != nil {
		return nil, err
	}

	coord, err := lock.NewCoordinator(filepath.Join(root, "locks"), cfg.Concurrency,
		lock.WithCompileTimeout(cfg.CompileLockTimeout),
		lock.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	probeOpts := []probe.Option{probe.WithLogger(logger)}
	if cfg.ProbeCache {
		probeOpts = append(probeOpts, probe.WithNegativeCache(probe.DefaultMemoSize))
	}

	opts = append(opts, broker.WithProbe(probe.New(probeOpts...)))

	if cfg.Verbose {
		opts = append(opts, broker.WithTransitionHook(func(script string, from, to broker.State) {
			logger.Debug("state", "script", script, "from", from, "to", to)
		}))
	}

	validator := cache.NewValidator(cfg.Validation, logger)

	return broker.New(root, coord, validator, newLocalCompiler(backend, logger), opts...), nil
}
