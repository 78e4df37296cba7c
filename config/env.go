package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Overrides lists the environment variables that take precedence over the
// configuration file.
type Overrides struct {
	ListenAddress string `env:"EVL_LISTEN_ADDRESS"`
	DataDir       string `env:"EVL_DATA_DIR"`
	Environment   string `env:"EVL_ENV"`
	LogFile       string `env:"EVL_LOG_FILE"`
	Owner         string `env:"EVL_OWNER_ADDR"`
	Approver      string `env:"EVL_REGISTRATION_APPROVER_ADDR"`
	RewardPool    string `env:"EVL_TOTAL_SUPPLY"`
	JWTSecret     string `env:"EVL_RPC_JWT_SECRET"`
	OTLPEndpoint  string `env:"EVL_OTLP_ENDPOINT"`
}

// ApplyEnv overlays non-empty EVL_* variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var o Overrides
	if err := ParseEnv(&o); err != nil {
		return err
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.ListenAddress, o.ListenAddress)
	set(&cfg.DataDir, o.DataDir)
	set(&cfg.Environment, o.Environment)
	set(&cfg.LogFile, o.LogFile)
	set(&cfg.Evolution.Owner, o.Owner)
	set(&cfg.Evolution.Approver, o.Approver)
	set(&cfg.Evolution.RewardPool, o.RewardPool)
	set(&cfg.RPC.JWTSecret, o.JWTSecret)
	set(&cfg.Telemetry.OTLPEndpoint, o.OTLPEndpoint)
	return nil
}

// JWTSecretValue resolves the admin token secret, preferring JWTSecretEnv.
func (r RPC) JWTSecretValue() string {
	if name := strings.TrimSpace(r.JWTSecretEnv); name != "" {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.JWTSecret)
}
