package approverd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"evlvault/config"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for approverd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	Signer        SignerConfig    `yaml:"signer"`
	Auth          AuthConfig      `yaml:"auth"`
	Policy        PolicyConfig    `yaml:"policy"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Audit         AuditConfig     `yaml:"audit"`
	OTLPEndpoint  string          `yaml:"otlp_endpoint"`
}

// SignerConfig locates the approver key. A keystore takes precedence over
// raw hex key material.
type SignerConfig struct {
	Keystore      string `yaml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env"`
	Key           string `yaml:"key"`
	KeyEnv        string `yaml:"key_env"`
	KeyFile       string `yaml:"key_file"`
}

// AuthConfig configures bearer token validation for signing clients.
type AuthConfig struct {
	JWTSecret    string   `yaml:"jwt_secret"`
	JWTSecretEnv string   `yaml:"jwt_secret_env"`
	Issuer       string   `yaml:"issuer"`
	Audience     string   `yaml:"audience"`
	ClockSkew    Duration `yaml:"clock_skew"`
}

// PolicyConfig bounds what the approver is willing to sign.
type PolicyConfig struct {
	MaxTimestampSkew         Duration `yaml:"max_timestamp_skew"`
	AllowedVerificationTypes []uint8  `yaml:"allowed_verification_types"`

	// SingleUse refuses to sign a commitment twice. Enable it only when the
	// engine runs with SingleUseApprovals.
	SingleUse bool `yaml:"single_use"`
}

// RateLimitConfig throttles signing per authenticated client.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// AuditConfig selects the issuance log backend: "sqlite" or "postgres".
type AuditConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// envOverrides mirrors the variables the registration tooling has always
// exported.
type envOverrides struct {
	ListenAddress string `env:"EVL_APPROVERD_LISTEN"`
	Environment   string `env:"EVL_ENV"`
	Key           string `env:"EVL_APPROVER_KEY"`
	JWTSecret     string `env:"EVL_APPROVERD_JWT_SECRET"`
	AuditDSN      string `env:"EVL_APPROVERD_AUDIT_DSN"`
	OTLPEndpoint  string `env:"EVL_OTLP_ENDPOINT"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	cfg.Auth.normalise()
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := config.ParseEnv(&o); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ListenAddress, o.ListenAddress)
	set(&cfg.Environment, o.Environment)
	set(&cfg.Signer.Key, o.Key)
	set(&cfg.Auth.JWTSecret, o.JWTSecret)
	set(&cfg.Audit.DSN, o.AuditDSN)
	set(&cfg.OTLPEndpoint, o.OTLPEndpoint)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Policy.MaxTimestampSkew.Duration == 0 {
		cfg.Policy.MaxTimestampSkew.Duration = 5 * time.Minute
	}
	if len(cfg.Policy.AllowedVerificationTypes) == 0 {
		cfg.Policy.AllowedVerificationTypes = []uint8{0, 1}
	}
	if cfg.RateLimit.PerSecond <= 0 {
		cfg.RateLimit.PerSecond = 2
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.DSN == "" && cfg.Audit.Driver == "sqlite" {
		cfg.Audit.DSN = "approverd-audit.db"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = time.Minute
	}
}

func validateConfig(cfg Config) error {
	if cfg.Signer.Keystore == "" && cfg.Signer.Key == "" {
		return fmt.Errorf("signer key or keystore must be configured")
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret must be configured")
	}
	switch cfg.Audit.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported audit driver %q", cfg.Audit.Driver)
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit dsn must be configured")
	}
	if _, err := NewPolicy(cfg.Policy); err != nil {
		return err
	}
	return nil
}

func (s *SignerConfig) normalise() error {
	s.Keystore = strings.TrimSpace(s.Keystore)
	s.PassphraseEnv = strings.TrimSpace(s.PassphraseEnv)
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.KeyFile = strings.TrimSpace(s.KeyFile)
	if s.Keystore != "" || s.Key != "" {
		return nil
	}
	switch {
	case s.KeyEnv != "":
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	case s.KeyFile != "":
		contents, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return fmt.Errorf("read key_file: %w", err)
		}
		s.Key = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *AuthConfig) normalise() {
	a.JWTSecret = strings.TrimSpace(a.JWTSecret)
	if name := strings.TrimSpace(a.JWTSecretEnv); name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			a.JWTSecret = v
		}
	}
	a.Issuer = strings.TrimSpace(a.Issuer)
	a.Audience = strings.TrimSpace(a.Audience)
}
