package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/csx/internal/buildserver"
	"github.com/Norgate-AV/csx/internal/codes"
	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/config"
)

// serverReadyWait bounds how long start and restart wait for the new server
const serverReadyWait = 5 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the build server",
	Long: `The build server keeps a compiler warm and compiles scripts on behalf of
csx invocations that run with --build-server.`,
	SilenceUsage: true,
}

var serverRunCmd = &cobra.Command{
	Use:          "run",
	Short:        "Run the build server in the foreground",
	Args:         cobra.NoArgs,
	RunE:         runServer,
	SilenceUsage: true,
}

var serverStartCmd = &cobra.Command{
	Use:          "start",
	Short:        "Start the build server in the background",
	Args:         cobra.NoArgs,
	RunE:         startServer,
	SilenceUsage: true,
}

var serverStopCmd = &cobra.Command{
	Use:          "stop",
	Short:        "Stop the build server",
	Args:         cobra.NoArgs,
	RunE:         stopServer,
	SilenceUsage: true,
}

var serverRestartCmd = &cobra.Command{
	Use:          "restart",
	Short:        "Restart the build server",
	Args:         cobra.NoArgs,
	RunE:         restartServer,
	SilenceUsage: true,
}

var serverPingCmd = &cobra.Command{
	Use:          "ping",
	Short:        "Check that the build server answers",
	Args:         cobra.NoArgs,
	RunE:         pingServer,
	SilenceUsage: true,
}

var serverStatusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Show running build servers",
	Args:         cobra.NoArgs,
	RunE:         serverStatus,
	SilenceUsage: true,
}

func init() {
	serverCmd.AddCommand(serverRunCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	serverCmd.AddCommand(serverRestartCmd)
	serverCmd.AddCommand(serverPingCmd)
	serverCmd.AddCommand(serverStatusCmd)
}

func loadServerConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadForServer(cmd)
	if err != nil {
		return nil, withCode(codes.InvalidArguments, err)
	}

	return cfg.ForServer(), nil
}

// serverBackends resolves every known backend. The configured backend
// uses the configured executable.
func serverBackends(cfg *config.Config) ([]compiler.Backend, error) {
	var backends []compiler.Backend

	for _, id := range compiler.KnownBackends() {
		path := ""
		if id == cfg.Compiler {
			path = cfg.CompilerPath
		}

		b, err := compiler.LookupBackend(id, path)
		if err != nil {
			return nil, err
		}

		backends = append(backends, b)
	}

	return backends, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "info")
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	backends, err := serverBackends(cfg)
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := buildserver.NewServer(cfg.ServerPort, backends,
		buildserver.WithRegistry(newRegistry(cfg, logger)),
		buildserver.WithRequestTimeout(cfg.ServerTimeout),
		buildserver.WithServerLogger(logger),
	)

	return srv.ListenAndServe(ctx)
}

func startServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "warn")
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	mgr := newManager(cfg, logger)
	ctx := commandContext(cmd)

	if resp, err := mgr.Client().Ping(ctx); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Build server already running on port %d\n%s\n", cfg.ServerPort, resp)
		return nil
	}

	pid, err := mgr.Start()
	if err != nil {
		return err
	}

	if err := mgr.WaitReady(ctx, serverReadyWait); err != nil {
		return withCode(codes.ServerUnavailable, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Build server started (pid %d) on port %d\n", pid, cfg.ServerPort)

	return nil
}

func stopServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "warn")
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	resp, err := newManager(cfg, logger).Stop(commandContext(cmd))
	if err != nil {
		return err
	}

	if resp == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "Build server is not running")
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp)

	return nil
}

func restartServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "warn")
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	mgr := newManager(cfg, logger)
	ctx := commandContext(cmd)

	pid, err := mgr.Restart(ctx)
	if err != nil {
		return err
	}

	if err := mgr.WaitReady(ctx, serverReadyWait); err != nil {
		return withCode(codes.ServerUnavailable, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Build server restarted (pid %d) on port %d\n", pid, cfg.ServerPort)

	return nil
}

func pingServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	client := buildserver.NewClient(cfg.ServerPort, buildserver.WithTimeout(5*time.Second))

	resp, err := client.Ping(commandContext(cmd))
	if err != nil {
		if errors.Is(err, buildserver.ErrUnavailable) {
			return withCode(codes.ServerUnavailable, err)
		}

		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp)

	return nil
}

func serverStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadServerConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, "warn")
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 5*time.Second)
	defer cancel()

	ping, records, err := newManager(cfg, logger).Status(ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if ping == "" {
		fmt.Fprintf(w, "No build server answering on port %d\n", cfg.ServerPort)
	} else {
		fmt.Fprintf(w, "Build server on port %d:\n%s\n", cfg.ServerPort, ping)
	}

	if len(records) == 0 {
		fmt.Fprintln(w, "No registered instances")
		return nil
	}

	fmt.Fprintln(w, "Registered instances:")
	for _, rec := range records {
		fmt.Fprintf(w, "  pid %d  port %d\n", rec.PID, rec.Port)
	}

	return nil
}
