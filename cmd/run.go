package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/csx/internal/broker"
	"github.com/Norgate-AV/csx/internal/codes"
	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/config"
	"github.com/Norgate-AV/csx/internal/logging"
)

func runScript(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return withCode(codes.InvalidArguments, errors.New("requires a script file argument"))
	}

	cfg, err := config.NewLoader().LoadForRun(cmd, args)
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	logger, err := newLogger(cfg, "warn")
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	ctx := logging.WithLogger(commandContext(cmd), logger)

	inv, err := invocationFromFlags(cmd, args[0], cfg)
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	compileOnly, _ := cmd.Flags().GetBool("compile-only")
	out, _ := cmd.Flags().GetString("out")

	b, err := newBroker(ctx, cfg)
	if err != nil {
		return withCode(codes.CacheFailure, err)
	}

	if compileOnly || out != "" {
		p, err := b.Prepare(ctx, inv)
		if err != nil {
			return scriptFailure(cmd.ErrOrStderr(), err)
		}

		printDiagnostics(cmd.ErrOrStderr(), p.Diagnostics, cfg.Verbose)

		if out != "" {
			if err := p.Unit.Export(out); err != nil {
				return withCode(codes.CacheFailure, err)
			}
		}

		if compileOnly {
			fmt.Fprintln(cmd.OutOrStdout(), p.Unit.Path)
			return nil
		}

		code, err := b.Execute(ctx, p, args[1:])
		return scriptResult(cmd, code, err)
	}

	code, err := b.Run(ctx, inv, args[1:])
	return scriptResult(cmd, code, err)
}

// scriptResult turns the outcome of running a script into the command's error
func scriptResult(cmd *cobra.Command, code int, err error) error {
	if err != nil {
		return scriptFailure(cmd.ErrOrStderr(), err)
	}

	if !codes.IsSuccess(code) {
		return &exitError{code: code}
	}

	return nil
}

func invocationFromFlags(cmd *cobra.Command, script string, cfg *config.Config) (broker.Invocation, error) {
	flags := cmd.Flags()

	imports, err := flags.GetStringArray("import")
	if err != nil {
		return broker.Invocation{}, err
	}

	refs, err := flags.GetStringArray("ref")
	if err != nil {
		return broker.Invocation{}, err
	}

	pkgs, err := flags.GetStringArray("pkg")
	if err != nil {
		return broker.Invocation{}, err
	}

	compilerFlags, err := flags.GetStringArray("flag")
	if err != nil {
		return broker.Invocation{}, err
	}

	force, _ := flags.GetBool("force")

	return broker.Invocation{
		Script:     script,
		Imports:    imports,
		References: refs,
		Packages:   pkgs,
		Flags:      compilerFlags,
		Force:      force,
		Debug:      cfg.Debug,
	}, nil
}

// scriptFailure reports compile diagnostics before handing the error back
func scriptFailure(w io.Writer, err error) error {
	var compileErr *broker.CompileError
	if errors.As(err, &compileErr) {
		fmt.Fprintln(w, compileErr.Report())
		return withCode(codes.CompileErrors, compileErr)
	}

	var execErr *broker.ExecuteError
	if errors.As(err, &execErr) {
		return withCode(codes.ExecutionFailed, execErr)
	}

	return withCode(codes.GeneralFailure, err)
}

// printDiagnostics prints non-fatal compiler messages. Warnings are only
// shown in verbose mode.
func printDiagnostics(w io.Writer, diags []compiler.Diagnostic, verbose bool) {
	for _, d := range diags {
		if d.Severity == compiler.SeverityError || verbose {
			fmt.Fprintln(w, d.String())
		}
	}
}
