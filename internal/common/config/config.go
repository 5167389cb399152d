// Package config provides configuration management for Ankaios.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Ankaios.
type Config struct {
	Server           ServerConfig           `mapstructure:"server"`
	TLS              TLSConfig              `mapstructure:"tls"`
	Agent            AgentConfig            `mapstructure:"agent"`
	Docker           DockerConfig           `mapstructure:"docker"`
	ControlInterface ControlInterfaceConfig `mapstructure:"controlInterface"`
	RetryPolicy      RetryPolicyConfig      `mapstructure:"retryPolicy"`
	Logging          LoggingConfig          `mapstructure:"logging"`
}

// ServerConfig holds the server's messaging listener configuration.
type ServerConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	HTTPPort          int    `mapstructure:"httpPort"` // read-only CompleteState/health surface
	ReconnectBackoffMS int   `mapstructure:"reconnectBackoffMs"`
}

// TLSConfig controls the transport's TLS mode. Exactly one of Insecure or the
// CA/Cert/Key triple must be set; Load fails startup otherwise.
type TLSConfig struct {
	Insecure bool   `mapstructure:"insecure"`
	CAFile   string `mapstructure:"caFile"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// AgentConfig holds agent-side connection configuration.
type AgentConfig struct {
	Name            string `mapstructure:"name"`
	ServerHost      string `mapstructure:"serverHost"`
	ServerPort      int    `mapstructure:"serverPort"`
	ReconnectBackoffMS int `mapstructure:"reconnectBackoffMs"` // 1s default; agentnode.Connection uses its fixed ReconnectBackoff and does not read this
}

// DockerConfig holds the Docker runtime-adapter configuration.
type DockerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"apiVersion"`
}

// ControlInterfaceConfig holds per-workload control interface socket settings.
type ControlInterfaceConfig struct {
	SocketDir string `mapstructure:"socketDir"`
}

// RetryPolicyConfig holds the agent's restart/retry constants.
type RetryPolicyConfig struct {
	MaxRestartRetries int `mapstructure:"maxRestartRetries"`
	RetryBackoffMS    int `mapstructure:"retryBackoffMs"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReconnectBackoff returns the server's fan-out reconnect backoff as a Duration.
func (s *ServerConfig) ReconnectBackoff() time.Duration {
	return time.Duration(s.ReconnectBackoffMS) * time.Millisecond
}

// ReconnectBackoff returns the agent's reconnect backoff as a Duration.
func (a *AgentConfig) ReconnectBackoff() time.Duration {
	return time.Duration(a.ReconnectBackoffMS) * time.Millisecond
}

// RetryBackoff returns the restart retry backoff as a Duration.
func (r *RetryPolicyConfig) RetryBackoff() time.Duration {
	return time.Duration(r.RetryBackoffMS) * time.Millisecond
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ANKAIOS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 25551)
	v.SetDefault("server.httpPort", 25552)
	v.SetDefault("server.reconnectBackoffMs", 1000)

	// TLS defaults - insecure opt-in must be explicit, so default both off
	v.SetDefault("tls.insecure", false)
	v.SetDefault("tls.caFile", "")
	v.SetDefault("tls.certFile", "")
	v.SetDefault("tls.keyFile", "")

	// Agent defaults
	v.SetDefault("agent.name", "")
	v.SetDefault("agent.serverHost", "127.0.0.1")
	v.SetDefault("agent.serverPort", 25551)
	v.SetDefault("agent.reconnectBackoffMs", 1000)

	// Docker runtime-adapter defaults - platform-aware host
	v.SetDefault("docker.enabled", true)
	v.SetDefault("docker.host", DefaultDockerHost())
	v.SetDefault("docker.apiVersion", "1.41")

	// Control Interface defaults
	v.SetDefault("controlInterface.socketDir", defaultControlSocketDir())

	// Restart retry policy defaults
	v.SetDefault("retryPolicy.maxRestartRetries", 3)
	v.SetDefault("retryPolicy.retryBackoffMs", 2000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// DefaultDockerHost returns the platform-appropriate Docker socket path.
// Respects DOCKER_HOST env var as override (standard Docker convention).
func DefaultDockerHost() string {
	if host := os.Getenv("DOCKER_HOST"); host != "" {
		return host
	}
	if runtime.GOOS == "windows" {
		return "npipe:////./pipe/docker_engine"
	}
	return "unix:///var/run/docker.sock"
}

// defaultControlSocketDir returns the platform-appropriate control-interface socket directory.
func defaultControlSocketDir() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\ankaios-control`
	}
	return "/run/ankaios/control"
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ANKAIOS_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/ankaios/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ANKAIOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ankaios/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that the configuration is internally consistent. In
// particular it enforces the transport rule that startup must fail unless
// exactly one of explicit-insecure or a complete mTLS (CA, cert, key) triple
// is configured.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if err := validateTLS(&cfg.TLS); err != nil {
		errs = append(errs, err.Error())
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.RetryPolicy.MaxRestartRetries < 0 {
		errs = append(errs, "retryPolicy.maxRestartRetries must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// validateTLS enforces that either Insecure is explicitly set, or all three
// of CAFile/CertFile/KeyFile are present for mutual TLS. Mixed or empty
// configuration is rejected so the process never silently starts half-open.
func validateTLS(t *TLSConfig) error {
	mtlsFieldsSet := t.CAFile != "" || t.CertFile != "" || t.KeyFile != ""
	if t.Insecure && mtlsFieldsSet {
		return fmt.Errorf("tls: insecure and mTLS fields (caFile/certFile/keyFile) are mutually exclusive")
	}
	if t.Insecure {
		return nil
	}
	if t.CAFile == "" || t.CertFile == "" || t.KeyFile == "" {
		return fmt.Errorf("tls: either insecure must be set, or caFile, certFile, and keyFile must all be provided")
	}
	return nil
}
