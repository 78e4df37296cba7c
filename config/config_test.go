package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/crypto"
	"evlvault/native/evolution"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.OwnerKeystorePath != filepath.Join(dir, "owner.keystore") {
		t.Fatalf("unexpected keystore path %q", cfg.OwnerKeystorePath)
	}
	if _, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, ""); err != nil {
		t.Fatalf("owner keystore unreadable: %v", err)
	}
	if cfg.Evolution.TotalLevels != evolution.DefaultTotalLevels {
		t.Fatalf("unexpected total levels %d", cfg.Evolution.TotalLevels)
	}
	if len(cfg.Evolution.Criteria) != 4 || cfg.Evolution.Criteria[3].MinAmount != "10000000" {
		t.Fatalf("unexpected default criteria %+v", cfg.Evolution.Criteria)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Evolution.RewardPool != cfg.Evolution.RewardPool {
		t.Fatalf("reward pool changed across reload: %s vs %s", reloaded.Evolution.RewardPool, cfg.Evolution.RewardPool)
	}
}

func TestLoadParsesEvolutionSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	keystorePath := filepath.Join(dir, "owner.keystore")
	contents := `ListenAddress = "127.0.0.1:9545"
DataDir = "./data"
Environment = "staging"
OwnerKeystorePath = "` + filepath.ToSlash(keystorePath) + `"

[evolution]
TotalLevels = 3
Approver = "0x00000000000000000000000000000000000000bb"
RewardPercentages = [10, 20, 30]
RewardPool = "5000"
CommitmentMaxAgeSeconds = 900
FeeWhitelist = ["0x00000000000000000000000000000000000000cc"]

[[evolution.Criteria]]
Level = 1
MinReferrals = 4
MinVerifiedReferrals = 2
MinAmount = "300"

[rpc]
JWTSecret = "file-secret"
RegisterRatePerSecond = 2.5
RegisterBurst = 3
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9545" || cfg.Environment != "staging" {
		t.Fatalf("unexpected top-level values %+v", cfg)
	}
	if cfg.RPC.RegisterRatePerSecond != 2.5 || cfg.RPC.RegisterBurst != 3 || cfg.RPC.EventHistory != 256 {
		t.Fatalf("unexpected rpc section %+v", cfg.RPC)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	g, err := cfg.Evolution.Genesis(owner)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if g.Owner != owner {
		t.Fatalf("expected default owner, got %s", g.Owner.Hex())
	}
	if g.Approver != common.HexToAddress("0x00000000000000000000000000000000000000bb") {
		t.Fatalf("unexpected approver %s", g.Approver.Hex())
	}
	if g.TotalLevels != 3 || g.CommitmentMaxAge != 900 || g.RewardPool.Int64() != 5000 {
		t.Fatalf("unexpected genesis %+v", g)
	}
	if len(g.CriteriaLevels) != 1 || g.CriteriaLevels[0] != 1 || g.Criteria[0].MinAmount.Int64() != 300 {
		t.Fatalf("unexpected criteria %+v %+v", g.CriteriaLevels, g.Criteria)
	}
	if len(g.FeeWhitelist) != 1 {
		t.Fatalf("unexpected whitelist %v", g.FeeWhitelist)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("ListenAddress = \":1\"\nValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	approver := common.HexToAddress("0x00000000000000000000000000000000000000dd")
	t.Setenv("EVL_LISTEN_ADDRESS", "0.0.0.0:7000")
	t.Setenv("EVL_REGISTRATION_APPROVER_ADDR", crypto.FromCommon(approver).String())
	t.Setenv("EVL_TOTAL_SUPPLY", "42")
	t.Setenv("EVL_RPC_JWT_SECRET", "env-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:7000" {
		t.Fatalf("listen address not overridden: %s", cfg.ListenAddress)
	}
	if cfg.RPC.JWTSecretValue() != "env-secret" {
		t.Fatalf("jwt secret not overridden")
	}
	g, err := cfg.Evolution.Genesis(common.HexToAddress("0x01"))
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if g.Approver != approver {
		t.Fatalf("bech32 approver not applied: %s", g.Approver.Hex())
	}
	if g.RewardPool.Int64() != 42 {
		t.Fatalf("reward pool not overridden: %s", g.RewardPool)
	}
}

func TestJWTSecretEnvIndirection(t *testing.T) {
	t.Setenv("EVL_TEST_ADMIN_SECRET", "indirect")
	rpc := RPC{JWTSecret: "inline", JWTSecretEnv: "EVL_TEST_ADMIN_SECRET"}
	if got := rpc.JWTSecretValue(); got != "indirect" {
		t.Fatalf("expected env secret, got %q", got)
	}
	rpc.JWTSecretEnv = "EVL_TEST_UNSET_SECRET"
	if got := rpc.JWTSecretValue(); got != "inline" {
		t.Fatalf("expected inline fallback, got %q", got)
	}
}

func TestValidateRejectsBadTables(t *testing.T) {
	base := func() *Config {
		cfg := &Config{ListenAddress: ":1", DataDir: "./d", Evolution: DefaultEvolution(), RPC: DefaultRPC()}
		return cfg
	}

	cfg := base()
	cfg.Evolution.RewardPercentages = []uint64{1, 2}
	if err := cfg.Validate(); !errors.Is(err, evolution.ErrLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}

	cfg = base()
	cfg.Evolution.Criteria = append(cfg.Evolution.Criteria, CriterionConfig{Level: 4})
	if err := cfg.Validate(); !errors.Is(err, evolution.ErrLevelOutOfRange) {
		t.Fatalf("expected level out of range, got %v", err)
	}

	cfg = base()
	cfg.Evolution.RewardPool = "-5"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative pool rejection")
	}

	cfg = base()
	cfg.Evolution.Approver = "not-an-address"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected approver parse failure")
	}
}
