// Package config assembles listener settings from flags, environment,
// an optional config file and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/svchecks/internal/checks"
	"github.com/loykin/svchecks/internal/logger"
	"github.com/loykin/svchecks/internal/supervisor"
	itls "github.com/loykin/svchecks/internal/tls"
)

// EnvPrefix prefixes every environment override (SVCHECKS_TICK_TIMEOUT, ...).
const EnvPrefix = "SVCHECKS"

// Defaults.
const (
	DefaultRPCTimeout     = 30 * time.Second
	DefaultTickTimeout    = 50 * time.Second
	DefaultRestartTimeout = 60 * time.Second
)

// SupervisorConfig locates supervisord's XML-RPC interface.
type SupervisorConfig struct {
	URL      string        `mapstructure:"url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Config is the resolved listener configuration.
type Config struct {
	Name           string                   `mapstructure:"name"`
	Group          string                   `mapstructure:"group"`
	ProcessName    string                   `mapstructure:"process_name"`
	Checks         map[string]checks.Params `mapstructure:"checks"`
	Supervisor     SupervisorConfig         `mapstructure:"supervisor"`
	TickTimeout    time.Duration            `mapstructure:"tick_timeout"`
	RestartTimeout time.Duration            `mapstructure:"restart_timeout"`
	MetricsListen  string                   `mapstructure:"metrics_listen"`
	MetricsTLS     itls.Config              `mapstructure:"metrics_tls"`
	HistoryDSN     string                   `mapstructure:"history_dsn"`
	Log            logger.Config            `mapstructure:"log"`
}

// FlagKeys maps configuration keys to the command line flags that override them.
var FlagKeys = map[string]string{
	"name":                "name",
	"group":               "group",
	"process_name":        "process-name",
	"supervisor.url":      "server-url",
	"supervisor.username": "username",
	"supervisor.password": "password",
	"supervisor.timeout":  "rpc-timeout",
	"tick_timeout":        "tick-timeout",
	"restart_timeout":     "restart-timeout",
	"metrics_listen":      "metrics-listen",
	"history_dsn":         "history-dsn",
	"log.level":           "log-level",
	"log.format":          "log-format",
	"log.file.path":       "log-file",
}

// supervisord exports these to every child it spawns; the listener honours them.
var supervisorEnv = map[string]string{
	"supervisor.url":      "SUPERVISOR_SERVER_URL",
	"supervisor.username": "SUPERVISOR_USERNAME",
	"supervisor.password": "SUPERVISOR_PASSWORD",
}

var defaults = map[string]any{
	"name":                      "",
	"group":                     "",
	"process_name":              "",
	"supervisor.url":            supervisor.DefaultURL,
	"supervisor.username":       "",
	"supervisor.password":       "",
	"supervisor.timeout":        DefaultRPCTimeout,
	"tick_timeout":              DefaultTickTimeout,
	"restart_timeout":           DefaultRestartTimeout,
	"metrics_listen":            "",
	"metrics_tls.enabled":       false,
	"metrics_tls.cert_file":     "",
	"metrics_tls.key_file":      "",
	"metrics_tls.dir":           "",
	"metrics_tls.auto_generate": false,
	"metrics_tls.min_version":   "",
	"history_dsn":               "",
	"log.level":                 logger.LevelInfo,
	"log.format":                logger.FormatText,
	"log.color":                 false,
	"log.add_source":            false,
	"log.file.path":             "",
	"log.file.max_size_mb":      logger.DefaultMaxSizeMB,
	"log.file.max_backups":      logger.DefaultMaxBackups,
	"log.file.max_age_days":     logger.DefaultMaxAgeDays,
	"log.file.compress":         false,
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// File is an optional TOML, YAML or JSON file; the type follows the extension.
	File string
	// Flags are bound through FlagKeys; only flags the user set take effect.
	Flags *pflag.FlagSet
}

// Load resolves the configuration without validating it, so callers can
// fill in checks from the command line first.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range supervisorEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, name); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	if opts.File != "" {
		v.SetConfigFile(filepath.Clean(opts.File))
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		for key, name := range FlagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// ParseChecksJSON decodes a {"kind": {params...}, ...} document such as the
// one passed to the complex command.
func ParseChecksJSON(doc string) (map[string]checks.Params, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("parse checks: %w", err)
	}
	all := v.AllSettings()
	if len(all) == 0 {
		return nil, errors.New("parse checks: no checks configured")
	}
	out := make(map[string]checks.Params, len(all))
	for kind, raw := range all {
		params, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse checks: parameters of %q must be an object", kind)
		}
		out[kind] = checks.Params(params)
	}
	return out, nil
}

// Validate reports the first problem that would keep the listener from starting.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("config: name is required")
	}
	if (c.Group == "") == (c.ProcessName == "") {
		return errors.New("config: exactly one of group or process name is required")
	}
	if len(c.Checks) == 0 {
		return errors.New("config: at least one check is required")
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"supervisor.timeout", c.Supervisor.Timeout},
		{"tick_timeout", c.TickTimeout},
		{"restart_timeout", c.RestartTimeout},
	} {
		if d.val <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", d.key, d.val)
		}
	}
	return nil
}

// CheckKinds lists the configured check kinds in sorted order.
func (c Config) CheckKinds() []string {
	out := make([]string, 0, len(c.Checks))
	for k := range c.Checks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
