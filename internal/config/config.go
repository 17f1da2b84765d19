// Package config handles configuration for the flowrunner CLI and engine.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete flowrunner configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Engine  EngineConfig  `yaml:"engine"`
	Paths   PathsConfig   `yaml:"paths"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig holds connection settings for the gateway client.
type GatewayConfig struct {
	URL              string        `yaml:"url" env:"FR_GATEWAY_URL"`
	Token            string        `yaml:"token" env:"FR_GATEWAY_TOKEN"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env:"FR_GATEWAY_HANDSHAKE_TIMEOUT"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"FR_GATEWAY_CALL_TIMEOUT"`
	ChatTimeout      time.Duration `yaml:"chat_timeout" env:"FR_GATEWAY_CHAT_TIMEOUT"`
}

// EngineConfig holds workflow execution settings.
type EngineConfig struct {
	WorkerAgentID     string        `yaml:"worker_agent_id" env:"FR_ENGINE_WORKER_AGENT_ID"`
	DefaultAgentID    string        `yaml:"default_agent_id" env:"FR_ENGINE_DEFAULT_AGENT_ID"`
	NotifySessionKey  string        `yaml:"notify_session_key" env:"FR_ENGINE_NOTIFY_SESSION_KEY"`
	SettleDelay       time.Duration `yaml:"settle_delay" env:"FR_ENGINE_SETTLE_DELAY"`
	ReconnectAttempts int           `yaml:"reconnect_attempts" env:"FR_ENGINE_RECONNECT_ATTEMPTS"`
	ReconnectBackoff  time.Duration `yaml:"reconnect_backoff" env:"FR_ENGINE_RECONNECT_BACKOFF"`
}

// PathsConfig holds filesystem locations for runs and workflow definitions.
type PathsConfig struct {
	RunsDir      string `yaml:"runs_dir" env:"FR_RUNS_DIR"`
	WorkflowsDir string `yaml:"workflows_dir" env:"FR_WORKFLOWS_DIR"`
}

// ServerConfig holds settings for the read-only status server.
type ServerConfig struct {
	Address      string        `yaml:"address" env:"FR_SERVER_ADDRESS"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"FR_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"FR_SERVER_WRITE_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"FR_LOG_LEVEL"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:              "ws://127.0.0.1:18789",
			HandshakeTimeout: 10 * time.Second,
			CallTimeout:      30 * time.Second,
			ChatTimeout:      10 * time.Minute,
		},
		Engine: EngineConfig{
			WorkerAgentID:     "flow-worker",
			DefaultAgentID:    "main",
			NotifySessionKey:  "agent:main",
			SettleDelay:       5 * time.Second,
			ReconnectAttempts: 3,
			ReconnectBackoff:  2 * time.Second,
		},
		Paths: PathsConfig{
			RunsDir:      defaultStateDir("runs"),
			WorkflowsDir: defaultStateDir("workflows"),
		},
		Server: ServerConfig{
			Address:      ":8780",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultStateDir(sub string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowrunner/" + sub
	}
	return home + "/.flowrunner/" + sub
}

// Load loads configuration with precedence defaults < YAML file < environment.
// A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	u := c.Gateway.URL
	if u == "" {
		return fmt.Errorf("gateway.url must not be empty")
	}
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") &&
		!strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		return fmt.Errorf("gateway.url must be a ws, wss, http or https URL: %s", u)
	}
	if c.Gateway.CallTimeout <= 0 {
		return fmt.Errorf("gateway.call_timeout must be positive")
	}
	if c.Gateway.ChatTimeout <= 0 {
		return fmt.Errorf("gateway.chat_timeout must be positive")
	}
	if c.Paths.RunsDir == "" {
		return fmt.Errorf("paths.runs_dir must not be empty")
	}
	if c.Paths.WorkflowsDir == "" {
		return fmt.Errorf("paths.workflows_dir must not be empty")
	}
	if c.Engine.ReconnectAttempts < 1 {
		return fmt.Errorf("engine.reconnect_attempts must be at least 1")
	}
	return nil
}

// Serialize renders the configuration back to YAML.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// applyEnvOverrides recursively applies `env`-tagged environment variables to
// struct fields.
func applyEnvOverrides(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyEnvOverrides(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s from %s: %w", fieldType.Name, envTag, err)
		}
	}
	return nil
}

// setFieldValue sets a reflected field from its string representation.
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
