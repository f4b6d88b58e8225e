package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Norgate-AV/csx/internal/buildserver"
	"github.com/Norgate-AV/csx/internal/cache"
	"github.com/Norgate-AV/csx/internal/compiler"
	"github.com/Norgate-AV/csx/internal/lock"
)

// Default configuration values
const (
	DefaultConcurrency        = "standard"
	DefaultCompileLockTimeout = lock.DefaultCompileTimeout
	DefaultExecuteWait        = time.Second
	DefaultValidation         = "manifest"
	DefaultCompiler           = compiler.DefaultBackend
	DefaultBuildServer        = false
	DefaultServerPort         = buildserver.DefaultPort
	DefaultServerTimeout      = time.Minute
	DefaultProbeCache         = true
	DefaultDebug              = false
	DefaultVerbose            = false
	DefaultLogFormat          = "text"
)

// Holds the configuration options for csx
type Config struct {
	// Directory holding compiled units, their manifests and lock files
	CacheDir string

	// Cross-process locking policy
	Concurrency lock.Policy

	// Bounded wait on the compile lock
	CompileLockTimeout time.Duration

	// Bounded wait on the execute lock
	ExecuteWait time.Duration

	// How cached units are validated
	Validation cache.Mode

	// Compiler backend id and optional executable override
	Compiler     string
	CompilerPath string

	// Compile through the build server
	BuildServer bool

	// Loopback port of the build server
	ServerPort int

	// Bound on a whole build server request
	ServerTimeout time.Duration

	// Directory of build server instance records
	RegistryDir string

	// Extra library search roots
	SearchDirs []string

	// Directory packages are resolved in
	PackageRoot string

	// Remember failed library probes
	ProbeCache bool

	// Build units with debugging support
	Debug bool

	// Enable verbose output
	Verbose bool

	// Log output format, text or json
	LogFormat string
}

// DefaultCacheDir is the per-user cache location
func DefaultCacheDir() string {
	return filepath.Join(userCacheDir(), "csx")
}

// DefaultRegistryDir is the per-user build server registry location
func DefaultRegistryDir() string {
	return filepath.Join(userCacheDir(), "csx", "servers")
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}

	return os.TempDir()
}

// Load builds a Config from the settings held by v
func Load(v *viper.Viper) (*Config, error) {
	policy, err := lock.ParsePolicy(v.GetString("concurrency"))
	if err != nil {
		return nil, err
	}

	mode, err := cache.ParseMode(v.GetString("validation"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		CacheDir:           v.GetString("cache_dir"),
		Concurrency:        policy,
		CompileLockTimeout: v.GetDuration("compile_lock_timeout"),
		ExecuteWait:        v.GetDuration("execute_wait"),
		Validation:         mode,
		Compiler:           v.GetString("compiler"),
		CompilerPath:       v.GetString("compiler_path"),
		BuildServer:        v.GetBool("build_server"),
		ServerPort:         v.GetInt("server_port"),
		ServerTimeout:      v.GetDuration("server_timeout"),
		RegistryDir:        v.GetString("registry_dir"),
		SearchDirs:         v.GetStringSlice("search_dirs"),
		PackageRoot:        v.GetString("package_root"),
		ProbeCache:         v.GetBool("probe_cache"),
		Debug:              v.GetBool("debug"),
		Verbose:            v.GetBool("verbose"),
		LogFormat:          v.GetString("log_format"),
	}

	// Apply defaults if not set
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir()
	}

	if cfg.RegistryDir == "" {
		cfg.RegistryDir = DefaultRegistryDir()
	}

	if cfg.Compiler == "" {
		cfg.Compiler = DefaultCompiler
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := compiler.LookupBackend(c.Compiler, c.CompilerPath); err != nil {
		return err
	}

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}

	if c.CompileLockTimeout < 0 || c.ExecuteWait < 0 || c.ServerTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.LogFormat)
	}

	// Resolve directories
	for _, p := range []*string{&c.CacheDir, &c.RegistryDir, &c.PackageRoot} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("invalid directory path: %v", err)
		}

		*p = abs
	}

	for i, dir := range c.SearchDirs {
		if dir != "" {
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("invalid search directory: %v", err)
			}

			c.SearchDirs[i] = abs
		}
	}

	return nil
}

// CacheRoots lists the cache directories to try, preferred first
func (c *Config) CacheRoots() []string {
	return []string{c.CacheDir, filepath.Join(os.TempDir(), "csx-cache")}
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	out := *c
	out.SearchDirs = append([]string(nil), c.SearchDirs...)

	return &out
}

// ForServer derives the settings the build server daemon needs. Everything
// that only matters to script invocations is left at its zero value.
func (c *Config) ForServer() *Config {
	return &Config{
		Compiler:      c.Compiler,
		CompilerPath:  c.CompilerPath,
		ServerPort:    c.ServerPort,
		ServerTimeout: c.ServerTimeout,
		RegistryDir:   c.RegistryDir,
		Verbose:       c.Verbose,
		LogFormat:     c.LogFormat,
	}
}
