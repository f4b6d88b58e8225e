package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/csx/internal/broker"
	"github.com/Norgate-AV/csx/internal/buildserver"
	"github.com/Norgate-AV/csx/internal/codes"
	"github.com/Norgate-AV/csx/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "csx <script> [args...]",
	Short: "Run Go source files as scripts",
	Long: `Compile a Go script, cache the compiled unit and run it.

Units are recompiled only when the script, an imported file or a referenced
library changed. Concurrent invocations of the same script share one compile.`,
	RunE:          runScript,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
}

// exitError carries a process exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return codes.GetErrorMessage(e.code)
	}

	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &exitError{code: code, err: err}
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}

	os.Exit(exitCode(err))
}

// exitCode maps an invocation outcome to the process exit code
func exitCode(err error) int {
	if err == nil {
		return codes.Success
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	var compileErr *broker.CompileError
	if errors.As(err, &compileErr) {
		return codes.CompileErrors
	}

	var execErr *broker.ExecuteError
	if errors.As(err, &execErr) {
		return codes.ExecutionFailed
	}

	if errors.Is(err, buildserver.ErrUnavailable) {
		return codes.ServerUnavailable
	}

	return codes.GeneralFailure
}

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s) %s", version.Version, version.Commit, version.BuildTime)

	addGlobalFlags(rootCmd)
	addRunFlags(rootCmd)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(cacheCmd)
}

// addGlobalFlags registers the flags shared by every command
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().String("log-format", "", "Log format (text or json)")
	cmd.PersistentFlags().String("cache-dir", "", "Directory for compiled units")
	cmd.PersistentFlags().Int("port", 0, "Build server port")
	cmd.PersistentFlags().String("compiler", "", "Compiler backend (go or gccgo)")
}

// addRunFlags registers the flags of a script invocation
func addRunFlags(cmd *cobra.Command) {
	// everything after the script path belongs to the script
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringArrayP("import", "i", []string{}, "Additional script file compiled with the script")
	cmd.Flags().StringArrayP("ref", "r", []string{}, "Library the script links against")
	cmd.Flags().StringArray("pkg", []string{}, "Package resolved under the package root")
	cmd.Flags().StringArray("flag", []string{}, "Extra compiler flag")
	cmd.Flags().StringSlice("search-dir", []string{}, "Library search directory")
	cmd.Flags().String("package-root", "", "Directory packages are resolved in")
	cmd.Flags().BoolP("force", "f", false, "Recompile even if the cached unit is valid")
	cmd.Flags().BoolP("compile-only", "c", false, "Compile without running and print the unit path")
	cmd.Flags().StringP("out", "o", "", "Copy the compiled unit to this path")
	cmd.Flags().Bool("debug", false, "Build with debugging support")
	cmd.Flags().String("concurrency", "", "Locking policy (standard, high-resolution, none)")
	cmd.Flags().String("validation", "", "Cache validation (manifest or timestamp)")
	cmd.Flags().Bool("build-server", false, "Compile through the build server")
}
