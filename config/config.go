// Package config provides configuration management for the IKE session
// daemon. Settings load from a YAML file, then IKESD_* environment
// variables override individual fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/ikesession/ikesessiond/common"
	"github.com/ikesession/ikesessiond/session"
)

// Engine types selectable in the engine section.
const (
	EngineSwanctl = "swanctl"
	EngineDev     = "dev"
)

// Permission gates selectable in the permission section.
const (
	GatePolkit = "polkit"
	GateAllow  = "allow"
	GateDeny   = "deny"
)

// Config represents the daemon configuration.
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon"`
	Session    SessionConfig    `yaml:"session"`
	Engine     EngineConfig     `yaml:"engine"`
	Permission PermissionConfig `yaml:"permission"`
	Health     HealthConfig     `yaml:"health"`
	History    HistoryConfig    `yaml:"history"`
	Control    ControlConfig    `yaml:"control"`
}

// DaemonConfig covers logging and process-level settings.
type DaemonConfig struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" env:"IKESD_LOG_LEVEL"`
	// LogFile adds a rotating file sink; empty logs to stdout only.
	LogFile string `yaml:"log_file" env:"IKESD_LOG_FILE"`
}

// SessionConfig bounds the session state machine's waits.
type SessionConfig struct {
	ConnectTimeoutSeconds  int `yaml:"connect_timeout_seconds" env:"IKESD_CONNECT_TIMEOUT_SECONDS"`
	TeardownTimeoutSeconds int `yaml:"teardown_timeout_seconds" env:"IKESD_TEARDOWN_TIMEOUT_SECONDS"`
	AbortTimeoutSeconds    int `yaml:"abort_timeout_seconds" env:"IKESD_ABORT_TIMEOUT_SECONDS"`
}

// EngineConfig selects and tunes the tunnel engine.
type EngineConfig struct {
	// Type is "swanctl" for strongSwan or "dev" for the simulated engine.
	Type string `yaml:"type" env:"IKESD_ENGINE"`
	// Binary overrides the swanctl executable path.
	Binary string `yaml:"binary" env:"IKESD_ENGINE_BINARY"`
	// ConnName is the connection name used in generated configs.
	ConnName string `yaml:"conn_name" env:"IKESD_ENGINE_CONN_NAME"`
	// Device is the tunnel interface name reported in status output.
	Device string `yaml:"device" env:"IKESD_ENGINE_DEVICE"`
}

// PermissionConfig selects the authorization gate.
type PermissionConfig struct {
	// Gate is "polkit", "allow", or "deny".
	Gate     string `yaml:"gate" env:"IKESD_PERMISSION_GATE"`
	ActionID string `yaml:"action_id" env:"IKESD_PERMISSION_ACTION_ID"`
}

// HealthConfig tunes the connectivity monitor.
type HealthConfig struct {
	Enabled              bool     `yaml:"enabled" env:"IKESD_HEALTH_ENABLED"`
	CheckIntervalSeconds int      `yaml:"check_interval_seconds" env:"IKESD_HEALTH_INTERVAL_SECONDS"`
	ProbeTimeoutSeconds  int      `yaml:"probe_timeout_seconds" env:"IKESD_HEALTH_PROBE_TIMEOUT_SECONDS"`
	FailureThreshold     int      `yaml:"failure_threshold" env:"IKESD_HEALTH_FAILURE_THRESHOLD"`
	TestHosts            []string `yaml:"test_hosts" env:"IKESD_HEALTH_TEST_HOSTS" envSeparator:","`
}

// HistoryConfig tunes the attempt journal.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" env:"IKESD_HISTORY_ENABLED"`
	// Path is the SQLite file; empty uses the default state directory.
	Path string `yaml:"path" env:"IKESD_HISTORY_PATH"`
	// Retention caps journal rows; zero or less keeps everything.
	Retention int `yaml:"retention" env:"IKESD_HISTORY_RETENTION"`
}

// ControlConfig tunes the local API.
type ControlConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"IKESD_LISTEN_ADDR"`
	// Token guards the API when set; empty disables authentication,
	// which is acceptable only on a single-user machine.
	Token string `yaml:"token" env:"IKESD_CONTROL_TOKEN"`
}

// DefaultConfig returns the default configuration. These are sensible
// defaults for a single-user workstation.
func DefaultConfig() *Config {
	return &Config{
		Daemon: DaemonConfig{
			LogLevel: "info",
		},
		Session: SessionConfig{
			ConnectTimeoutSeconds:  int(common.ConnectTimeout / time.Second),
			TeardownTimeoutSeconds: int(common.TeardownTimeout / time.Second),
			AbortTimeoutSeconds:    int(common.AbortTimeout / time.Second),
		},
		Engine: EngineConfig{
			Type: EngineSwanctl,
		},
		Permission: PermissionConfig{
			Gate:     GatePolkit,
			ActionID: common.PolkitActionID,
		},
		Health: HealthConfig{
			Enabled:              true,
			CheckIntervalSeconds: int(common.HealthInterval / time.Second),
		},
		History: HistoryConfig{
			Enabled:   true,
			Retention: common.MaxHistoryLimit,
		},
		Control: ControlConfig{
			ListenAddr: common.DefaultListenAddr,
		},
	}
}

// Load reads the configuration. With an empty path the default
// location is used and, when no file exists there yet, one is written
// with the defaults. An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		defaultPath, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("%w: %s does not exist", common.ErrConfigLoad, path)
		}
		if err := cfg.Save(path); err != nil {
			common.LogWarn("config: could not write default config: %v", err)
		}
		return cfg.finish()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true) // Strict validation: reject unknown fields

	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", common.ErrConfigLoad, path, err)
	}
	return cfg.finish()
}

// finish applies environment overrides and validates the result.
func (c *Config) finish() (*Config, error) {
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("%w: parse environment: %v", common.ErrConfigLoad, err)
	}
	c.validate()
	return c, nil
}

// validate repairs out-of-range values by falling back to defaults.
func (c *Config) validate() {
	defs := DefaultConfig()

	switch c.Daemon.LogLevel {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		common.LogWarn("config: unknown log level %q, using %q", c.Daemon.LogLevel, defs.Daemon.LogLevel)
		c.Daemon.LogLevel = defs.Daemon.LogLevel
	}

	switch c.Engine.Type {
	case EngineSwanctl, EngineDev:
	default:
		common.LogWarn("config: unknown engine %q, using %q", c.Engine.Type, defs.Engine.Type)
		c.Engine.Type = defs.Engine.Type
	}

	switch c.Permission.Gate {
	case GatePolkit, GateAllow, GateDeny:
	default:
		common.LogWarn("config: unknown permission gate %q, using %q", c.Permission.Gate, defs.Permission.Gate)
		c.Permission.Gate = defs.Permission.Gate
	}
	if c.Permission.ActionID == "" {
		c.Permission.ActionID = defs.Permission.ActionID
	}

	if c.Control.ListenAddr == "" {
		c.Control.ListenAddr = defs.Control.ListenAddr
	}
	if c.History.Retention < 0 {
		c.History.Retention = 0
	}
}

// Save writes the configuration to path, creating the directory if
// needed. The file is private: the control token lives in it.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return common.WrapError(err, "create config directory")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return common.WrapError(err, "serialize configuration")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return common.WrapError(err, "write configuration")
	}
	return nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", common.WrapError(err, "locate home directory")
	}
	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}

// DefaultHistoryPath returns the per-user journal location, creating
// the data directory if needed. SQLite does not create parent
// directories itself.
func DefaultHistoryPath() (string, error) {
	dataDir, err := common.GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, common.HistoryFileName), nil
}

// ConnectTimeout converts the configured bound, falling back to the
// built-in default when unset.
func (c SessionConfig) ConnectTimeout() time.Duration {
	return secondsOr(c.ConnectTimeoutSeconds, common.ConnectTimeout)
}

// TeardownTimeout converts the configured bound.
func (c SessionConfig) TeardownTimeout() time.Duration {
	return secondsOr(c.TeardownTimeoutSeconds, common.TeardownTimeout)
}

// AbortTimeout converts the configured bound.
func (c SessionConfig) AbortTimeout() time.Duration {
	return secondsOr(c.AbortTimeoutSeconds, common.AbortTimeout)
}

// Options maps the section onto session manager options.
func (c SessionConfig) Options() session.Options {
	return session.Options{
		ConnectTimeout:  c.ConnectTimeout(),
		TeardownTimeout: c.TeardownTimeout(),
		AbortTimeout:    c.AbortTimeout(),
	}
}

// MonitorConfig maps the section onto the connectivity monitor's
// configuration. Zero fields fall back inside the monitor.
func (c HealthConfig) MonitorConfig() session.HealthConfig {
	return session.HealthConfig{
		CheckInterval:    secondsOr(c.CheckIntervalSeconds, 0),
		ProbeTimeout:     secondsOr(c.ProbeTimeoutSeconds, 0),
		FailureThreshold: c.FailureThreshold,
		TestHosts:        c.TestHosts,
	}
}

func secondsOr(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
