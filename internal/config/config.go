// Package config handles loading and validating proxy configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the geminigate proxy.
type Config struct {
	Server     ServerConfig    `koanf:"server"`
	Upstream   UpstreamConfig  `koanf:"upstream"`
	Auth       AuthConfig      `koanf:"auth"`
	Signatures SignatureConfig `koanf:"signatures"`
	Models     ModelsConfig    `koanf:"models"`
	Log        LogConfig       `koanf:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// UpstreamConfig points at the Gemini-shape endpoint requests are
// proxied to.
type UpstreamConfig struct {
	BaseURL string `koanf:"base_url"`
}

// AuthConfig holds the account store location and OAuth settings.
type AuthConfig struct {
	AccountsDir     string        `koanf:"accounts_dir"`
	ClientID        string        `koanf:"client_id"`
	ClientSecret    string        `koanf:"client_secret"`
	TokenURL        string        `koanf:"token_url"`
	ProjectEndpoint string        `koanf:"project_endpoint"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	RefreshAhead    time.Duration `koanf:"refresh_ahead"`
}

// SignatureConfig controls the thought-signature cache.
type SignatureConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// ModelsConfig carries operator-defined model overrides, checked before
// the built-in mapping rules.
type ModelsConfig struct {
	Map map[string]string `koanf:"map"`
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a validated Config.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Any env var starting with GEMINIGATE_ overrides a config value:
	//   GEMINIGATE_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("GEMINIGATE_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "GEMINIGATE_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in secrets, so the YAML file can
	// stay free of credentials.
	cfg.Auth.ClientID = expandEnv(cfg.Auth.ClientID)
	cfg.Auth.ClientSecret = expandEnv(cfg.Auth.ClientSecret)

	applyDefaults(&cfg)

	if cfg.Auth.AccountsDir == "" {
		return nil, fmt.Errorf("auth.accounts_dir is required")
	}

	return &cfg, nil
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Streaming responses can stay open for minutes.
		cfg.Server.WriteTimeout = 10 * time.Minute
	}
	if cfg.Signatures.TTL == 0 {
		cfg.Signatures.TTL = time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
