// Package config loads the ambient tunables both executables accept
// beyond their required positional arguments: listen/dial addressing is
// always positional, but log level and the default matrix size can be
// overridden from an optional YAML file, with a pflag overlay so a CLI
// flag always wins over the file.
package config

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/saifaleee/distmatmul/shared"
)

// Config holds every overridable tunable. The zero value is not the
// engine's defaults; use Default (or Load) to obtain them.
type Config struct {
	LogLevel   string `mapstructure:"log_level"`
	MatrixSize int    `mapstructure:"matrix_size"`
}

// Default returns the engine's hardcoded defaults: no file or environment
// access happens unless Load is explicitly given a path.
func Default() Config {
	return Config{
		LogLevel:   shared.DefaultLogLevel,
		MatrixSize: shared.DefaultMatrixSize,
	}
}

// Load starts from Default(), overlays path (a YAML file) if path is
// non-empty, then overlays any flags in fs that were explicitly set.
// A missing or malformed file is returned as an error; an empty path is
// not an error and simply skips the file overlay.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, err
		}
	}

	if fs == nil {
		return cfg, nil
	}
	if fs.Changed("log-level") {
		cfg.LogLevel, _ = fs.GetString("log-level")
	}
	return cfg, nil
}
