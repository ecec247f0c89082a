package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	sharedcfg "github.com/leapstack-labs/provcat/internal/config"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store config in context.
type configKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps flag names whose config key is not the snake_case flag name.
var flagKeys = map[string]string{
	"env":        "environment",
	"backend":    "index.backend",
	"database":   "index.database",
	"batch-size": "index.batch_size",
	"log-level":  "log.level",
	"log-format": "log.format",
	"addr":       "server.addr",
	"watch":      "server.watch",
}

// findConfigFile finds the config file to use.
// Priority: explicit path > provcat.yaml/.yml in the working directory or above.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return sharedcfg.FindConfigUpward(cwd, maxUpwardSearchLevels)
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults.
// envOverride, when set, selects the environment instead of the loaded one.
func LoadConfig(cfgFile, envOverride string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"environment":   DefaultEnv,
		"verbose":       false,
		"output":        DefaultOutput,
		"log.level":     DefaultLogLevel,
		"log.format":    DefaultLogFormat,
		"server.addr":   DefaultAddr,
		"index.backend": sharedcfg.DefaultBackend,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	configFile := findConfigFile(cfgFile)
	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	// 3. Load environment variables (PROVCAT_ prefix)
	// Transform: PROVCAT_INDEX__BATCH_SIZE -> index.batch_size
	if err := k.Load(env.Provider("PROVCAT_", ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, "PROVCAT_"))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			if f.Name == "config" {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ConfigFile = configFile
	if envOverride != "" {
		cfg.Environment = envOverride
	}

	// 6. Resolve the selected environment's index
	cfg.base = cfg.Index
	resolved, err := cfg.IndexFor(cfg.Environment)
	if err != nil {
		return nil, err
	}
	cfg.Index = resolved

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IndexFor returns the index settings of environment name: the base index
// with the environment's overrides merged on top, defaults applied and
// ${VAR} references expanded. The default environment needs no entry under
// environments.
func (c *Config) IndexFor(name string) (*IndexConfig, error) {
	base := c.base
	if base == nil {
		base = c.Index
	}
	if base == nil {
		base = &IndexConfig{}
	}
	merged := sharedcfg.Merge(base, &IndexConfig{})

	envCfg, ok := c.Environments[name]
	switch {
	case ok && envCfg.Index != nil:
		merged = sharedcfg.Merge(merged, envCfg.Index)
	case !ok && name != DefaultEnv:
		return nil, fmt.Errorf("unknown environment %q\nHint: define it under environments in provcat.yaml", name)
	}

	sharedcfg.ApplyIndexDefaults(merged)
	sharedcfg.ExpandIndexEnvVars(merged)
	return merged, nil
}

// LoggerKey returns the context key used for storing the logger.
// This allows the commands package to retrieve the logger from context
// without creating an import cycle with the cli package.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns a copy of ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// GetConfig retrieves the config from the command context, falling back to
// the defaults when none was loaded.
func GetConfig(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	index := &IndexConfig{}
	sharedcfg.ApplyIndexDefaults(index)
	return &Config{
		Environment:  DefaultEnv,
		OutputFormat: DefaultOutput,
		Index:        index,
		Log:          LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Server:       ServerConfig{Addr: DefaultAddr},
	}
}
