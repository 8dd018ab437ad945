package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/efebarandurmaz/refscan/internal/enumerate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Scan    ScanConfig    `mapstructure:"scan"`
	Query   QueryConfig   `mapstructure:"query"`
	Log     LogConfig     `mapstructure:"log"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

type ScanConfig struct {
	// Include and Exclude are doublestar globs matched against root-relative
	// paths; a glob without '/' matches the file name.
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
	// Workers is the worker pool size; 0 means one per CPU.
	Workers int `mapstructure:"workers"`
	// SkipGoBuildInfo stops Go module dependencies from being reported.
	SkipGoBuildInfo bool `mapstructure:"skip_go_buildinfo"`
}

type QueryConfig struct {
	Syntax       string        `mapstructure:"syntax"` // re2 or dotnet
	CacheSize    int           `mapstructure:"cache_size"`
	MatchTimeout time.Duration `mapstructure:"match_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			Include: slices.Clone(enumerate.DefaultInclude),
		},
		Query: QueryConfig{
			Syntax:       "re2",
			CacheSize:    64,
			MatchTimeout: time.Second,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Tracing: TracingConfig{
			ServiceName: "refscan",
			SampleRate:  1.0,
		},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Scan.Workers < 0 {
		warnings = append(warnings, fmt.Sprintf("scan workers %d is negative, using one per CPU", c.Scan.Workers))
	}

	if len(c.Scan.Include) == 0 {
		warnings = append(warnings, "scan include list is empty, using the default module globs")
	}

	switch strings.ToLower(c.Query.Syntax) {
	case "", "re2", "dotnet":
	default:
		warnings = append(warnings, fmt.Sprintf("query syntax '%s' is unknown (want re2 or dotnet)", c.Query.Syntax))
	}

	if c.Query.MatchTimeout < 0 {
		warnings = append(warnings, fmt.Sprintf("query match_timeout %s is negative", c.Query.MatchTimeout))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1.0 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside range [0.0, 1.0]", c.Tracing.SampleRate))
	}

	return warnings
}

// Load reads configuration from an optional file, a .env file in the working
// directory and REFSCAN_* environment variables, on top of Default(). A
// missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("REFSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("scan.include", d.Scan.Include)
	v.SetDefault("scan.exclude", d.Scan.Exclude)
	v.SetDefault("scan.workers", d.Scan.Workers)
	v.SetDefault("scan.skip_go_buildinfo", d.Scan.SkipGoBuildInfo)
	v.SetDefault("query.syntax", d.Query.Syntax)
	v.SetDefault("query.cache_size", d.Query.CacheSize)
	v.SetDefault("query.match_timeout", d.Query.MatchTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}
