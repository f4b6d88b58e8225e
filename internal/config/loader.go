package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagKeys maps config keys to the command-line flags that override them
var flagKeys = map[string]string{
	"cache_dir":    "cache-dir",
	"concurrency":  "concurrency",
	"validation":   "validation",
	"compiler":     "compiler",
	"build_server": "build-server",
	"server_port":  "port",
	"search_dirs":  "search-dir",
	"package_root": "package-root",
	"debug":        "debug",
	"verbose":      "verbose",
	"log_format":   "log-format",
}

// Loader handles configuration loading from various sources
type Loader struct {
	v         *viper.Viper
	globalDir string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		globalDir: GlobalConfigDir(),
	}
}

// Viper exposes the underlying settings
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// LoadForRun loads configuration for running a script. The local config is
// searched for from the script's directory upwards.
func (l *Loader) LoadForRun(cmd *cobra.Command, args []string) (*Config, error) {
	dir := ""
	if len(args) > 0 {
		if abs, err := filepath.Abs(args[0]); err == nil {
			dir = filepath.Dir(abs)
		}
	}

	return l.load(cmd, dir)
}

// LoadForServer loads configuration for server and cache commands, starting
// the local config search in the working directory
func (l *Loader) LoadForServer(cmd *cobra.Command) (*Config, error) {
	dir, _ := os.Getwd()
	return l.load(cmd, dir)
}

func (l *Loader) load(cmd *cobra.Command, dir string) (*Config, error) {
	l.setupViperDefaults()
	l.setupEnv()
	l.loadGlobalConfig()
	l.loadLocalConfig(dir)
	l.bindCommandFlags(cmd)

	return Load(l.v)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.v.SetDefault("cache_dir", DefaultCacheDir())
	l.v.SetDefault("concurrency", DefaultConcurrency)
	l.v.SetDefault("compile_lock_timeout", DefaultCompileLockTimeout)
	l.v.SetDefault("execute_wait", DefaultExecuteWait)
	l.v.SetDefault("validation", DefaultValidation)
	l.v.SetDefault("compiler", DefaultCompiler)
	l.v.SetDefault("compiler_path", "")
	l.v.SetDefault("build_server", DefaultBuildServer)
	l.v.SetDefault("server_port", DefaultServerPort)
	l.v.SetDefault("server_timeout", DefaultServerTimeout)
	l.v.SetDefault("registry_dir", DefaultRegistryDir())
	l.v.SetDefault("search_dirs", []string{})
	l.v.SetDefault("package_root", "")
	l.v.SetDefault("probe_cache", DefaultProbeCache)
	l.v.SetDefault("debug", DefaultDebug)
	l.v.SetDefault("verbose", DefaultVerbose)
	l.v.SetDefault("log_format", DefaultLogFormat)
}

// setupEnv lets CSX_<KEY> environment variables override file settings
func (l *Loader) setupEnv() {
	l.v.SetEnvPrefix("CSX")
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	l.v.AutomaticEnv()
}

// loadGlobalConfig loads the per-user configuration file
func (l *Loader) loadGlobalConfig() {
	if path := FindGlobalConfig(l.globalDir); path != "" {
		l.v.SetConfigFile(path)
		_ = l.v.ReadInConfig()
	}
}

// loadLocalConfig merges the nearest .csx.* file above dir over the global settings
func (l *Loader) loadLocalConfig(dir string) {
	if dir == "" {
		return
	}

	if localPath := FindLocalConfig(dir); localPath != "" {
		l.v.SetConfigFile(localPath)
		_ = l.v.MergeInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	if cmd == nil {
		return
	}

	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = l.v.BindPFlag(key, f)
		}
	}
}
