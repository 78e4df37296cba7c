package config

import (
	"math/big"
	"time"

	"evlvault/native/evolution"
)

// Evolution seeds the genesis parameters of the evolution engine. Addresses
// accept 0x-hex or evl1 bech32 form; amounts are decimal strings.
type Evolution struct {
	TotalLevels             uint8             `toml:"TotalLevels"`
	Owner                   string            `toml:"Owner,omitempty"`
	Approver                string            `toml:"Approver"`
	RewardPercentages       []uint64          `toml:"RewardPercentages"`
	Criteria                []CriterionConfig `toml:"Criteria"`
	RewardPool              string            `toml:"RewardPool"`
	CommitmentMaxAgeSeconds uint64            `toml:"CommitmentMaxAgeSeconds"`
	SingleUseApprovals      bool              `toml:"SingleUseApprovals"`
	FeeWhitelist            []string          `toml:"FeeWhitelist"`
}

// CriterionConfig is one row of the criteria table.
type CriterionConfig struct {
	Level                uint8  `toml:"Level"`
	MinReferrals         uint64 `toml:"MinReferrals"`
	MinVerifiedReferrals uint64 `toml:"MinVerifiedReferrals"`
	MinAmount            string `toml:"MinAmount"`
}

// RPC controls the JSON-RPC listener.
type RPC struct {
	// JWTSecret signs admin bearer tokens. JWTSecretEnv names an environment
	// variable to read it from instead.
	JWTSecret             string  `toml:"JWTSecret,omitempty"`
	JWTSecretEnv          string  `toml:"JWTSecretEnv,omitempty"`
	JWTIssuer             string  `toml:"JWTIssuer"`
	RegisterRatePerSecond float64 `toml:"RegisterRatePerSecond"`
	RegisterBurst         int     `toml:"RegisterBurst"`
	ReadHeaderTimeout     int     `toml:"ReadHeaderTimeout"`
	WriteTimeout          int     `toml:"WriteTimeout"`
	EventHistory          int     `toml:"EventHistory"`
}

// Telemetry configures metrics and OTLP export.
type Telemetry struct {
	MetricsEnabled bool   `toml:"MetricsEnabled"`
	OTLPEndpoint   string `toml:"OTLPEndpoint,omitempty"`
	OTLPInsecure   bool   `toml:"OTLPInsecure"`
}

// DefaultEvolution returns the reference deployment tables.
func DefaultEvolution() Evolution {
	levels, criteria := evolution.DefaultCriteria()
	rows := make([]CriterionConfig, len(levels))
	for i, level := range levels {
		rows[i] = CriterionConfig{
			Level:                level,
			MinReferrals:         criteria[i].MinReferrals,
			MinVerifiedReferrals: criteria[i].MinVerifiedReferrals,
			MinAmount:            criteria[i].MinAmount.String(),
		}
	}
	pool := new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	return Evolution{
		TotalLevels:       evolution.DefaultTotalLevels,
		RewardPercentages: evolution.DefaultRewardPercentages(),
		Criteria:          rows,
		RewardPool:        pool.String(),
		FeeWhitelist:      []string{},
	}
}

// DefaultRPC returns the listener defaults.
func DefaultRPC() RPC {
	return RPC{
		JWTIssuer:             "evlvault",
		RegisterRatePerSecond: 5,
		RegisterBurst:         10,
		ReadHeaderTimeout:     5,
		WriteTimeout:          15,
		EventHistory:          256,
	}
}

func (r *RPC) applyDefaults() {
	def := DefaultRPC()
	if r.JWTIssuer == "" {
		r.JWTIssuer = def.JWTIssuer
	}
	if r.RegisterRatePerSecond <= 0 {
		r.RegisterRatePerSecond = def.RegisterRatePerSecond
	}
	if r.RegisterBurst <= 0 {
		r.RegisterBurst = def.RegisterBurst
	}
	if r.ReadHeaderTimeout <= 0 {
		r.ReadHeaderTimeout = def.ReadHeaderTimeout
	}
	if r.WriteTimeout <= 0 {
		r.WriteTimeout = def.WriteTimeout
	}
	if r.EventHistory <= 0 {
		r.EventHistory = def.EventHistory
	}
}

// ReadHeaderTimeoutDuration converts the configured seconds to a duration.
func (r RPC) ReadHeaderTimeoutDuration() time.Duration {
	return time.Duration(r.ReadHeaderTimeout) * time.Second
}

// WriteTimeoutDuration converts the configured seconds to a duration.
func (r RPC) WriteTimeoutDuration() time.Duration {
	return time.Duration(r.WriteTimeout) * time.Second
}
