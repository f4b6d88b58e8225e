package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/csx/internal/cache"
	"github.com/Norgate-AV/csx/internal/codes"
	"github.com/Norgate-AV/csx/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:          "cache",
	Short:        "Inspect and manage compiled units",
	SilenceUsage: true,
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show cache size and entry count",
	Args:         cobra.NoArgs,
	RunE:         cacheStats,
	SilenceUsage: true,
}

var cacheListCmd = &cobra.Command{
	Use:          "list",
	Short:        "List cached scripts",
	Args:         cobra.NoArgs,
	RunE:         cacheList,
	SilenceUsage: true,
}

var cacheClearCmd = &cobra.Command{
	Use:          "clear [script]",
	Short:        "Remove compiled units",
	Long:         `Remove the compiled unit of one script, or every unit when no script is given.`,
	Args:         cobra.MaximumNArgs(1),
	RunE:         cacheClear,
	SilenceUsage: true,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func openIndex(cmd *cobra.Command) (*cache.Index, *config.Config, error) {
	cfg, err := config.NewLoader().LoadForServer(cmd)
	if err != nil {
		return nil, nil, withCode(codes.InvalidArguments, err)
	}

	ix, err := cache.OpenIndex(cfg.CacheDir, cache.DefaultOpenTimeout)
	if err != nil {
		return nil, nil, withCode(codes.CacheFailure, err)
	}

	return ix, cfg, nil
}

func cacheStats(cmd *cobra.Command, args []string) error {
	ix, cfg, err := openIndex(cmd)
	if err != nil {
		return err
	}
	defer ix.Close()

	count, size, err := ix.Stats()
	if err != nil {
		return withCode(codes.CacheFailure, err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Cache directory: %s\n", cfg.CacheDir)
	fmt.Fprintf(w, "Cached scripts:  %d\n", count)
	fmt.Fprintf(w, "Total size:      %s\n", formatBytes(size))

	return nil
}

func cacheList(cmd *cobra.Command, args []string) error {
	ix, _, err := openIndex(cmd)
	if err != nil {
		return err
	}
	defer ix.Close()

	entries, err := ix.List()
	if err != nil {
		return withCode(codes.CacheFailure, err)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCRIPT\tCOMPILER\tCHECKSUM\tBUILDS\tHITS\tLAST BUILD")

	for _, e := range entries {
		sum := e.Checksum
		if len(sum) > 12 {
			sum = sum[:12]
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", e.Script, e.Compiler, sum, e.Builds, e.Hits, e.LastBuild.Local().Format(time.DateTime))
	}

	return tw.Flush()
}

func cacheClear(cmd *cobra.Command, args []string) error {
	ix, cfg, err := openIndex(cmd)
	if err != nil {
		return err
	}
	defer ix.Close()

	if len(args) == 1 {
		return clearScript(cmd, ix, cfg, args[0])
	}

	if err := ix.Clear(); err != nil {
		return withCode(codes.CacheFailure, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Cleared cache in %s\n", cfg.CacheDir)

	return nil
}

func clearScript(cmd *cobra.Command, ix *cache.Index, cfg *config.Config, script string) error {
	id, err := cache.NewIdentity(script)
	if err != nil {
		return withCode(codes.InvalidArguments, err)
	}

	u := cache.UnitFor(cfg.CacheDir, id)
	if !u.Exists() {
		fmt.Fprintf(cmd.OutOrStdout(), "No cached unit for %s\n", id.Script)
		return ix.Remove(id.Hash)
	}

	if err := u.Remove(); err != nil {
		return withCode(codes.CacheFailure, err)
	}

	if err := ix.Remove(id.Hash); err != nil {
		return withCode(codes.CacheFailure, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed cached unit for %s\n", id.Script)

	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
