package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/cmd/internal/passphrase"
	"evlvault/config"
	"evlvault/core"
	"evlvault/crypto"
	"evlvault/observability/logging"
	telemetry "evlvault/observability/otel"
	"evlvault/rpc"
	"evlvault/storage"
)

const ownerPassEnv = "EVL_OWNER_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "evolutiond: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer := logging.SetupWithFile("evolutiond", cfg.Environment, logging.FileOptions{Path: cfg.LogFile})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "evolutiond",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		Metrics:     cfg.Telemetry.MetricsEnabled,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	node, err := core.NewNode(db, core.WithLogger(logger), core.WithEventHistory(cfg.RPC.EventHistory))
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	owner, err := resolveOwner(cfg)
	if err != nil {
		return err
	}
	genesis, err := cfg.Evolution.Genesis(owner)
	if err != nil {
		return fmt.Errorf("build genesis: %w", err)
	}
	initialised, err := node.InitGenesis(genesis)
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	if initialised {
		logger.Info("evolution genesis applied", slog.String("owner", genesis.Owner.Hex()))
	}

	server, err := rpc.NewServer(node, rpc.ServerConfig{
		JWTSecret:         cfg.RPC.JWTSecretValue(),
		JWTIssuer:         cfg.RPC.JWTIssuer,
		RegisterRate:      cfg.RPC.RegisterRatePerSecond,
		RegisterBurst:     cfg.RPC.RegisterBurst,
		ReadHeaderTimeout: cfg.RPC.ReadHeaderTimeoutDuration(),
		WriteTimeout:      cfg.RPC.WriteTimeoutDuration(),
		MetricsEnabled:    cfg.Telemetry.MetricsEnabled,
	}, logger)
	if err != nil {
		return fmt.Errorf("create rpc server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := server.Start(ctx, cfg.ListenAddress); err != nil {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("evolutiond stopped")
	return nil
}

// resolveOwner returns the genesis owner. An explicit evolution.Owner wins;
// otherwise the owner keystore is decrypted. Keystores generated by
// config.Load carry an empty passphrase.
func resolveOwner(cfg *config.Config) (common.Address, error) {
	if strings.TrimSpace(cfg.Evolution.Owner) != "" {
		return common.Address{}, nil
	}
	if cfg.OwnerKeystorePath == "" {
		return common.Address{}, errors.New("owner keystore path not configured")
	}
	if _, ok := os.LookupEnv(ownerPassEnv); !ok {
		if key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, ""); err == nil {
			return key.PubKey().Address(), nil
		}
	}
	key, err := crypto.KeySource{KeystorePath: cfg.OwnerKeystorePath}.Load(passphrase.NewSource(ownerPassEnv).Get)
	if err != nil {
		return common.Address{}, fmt.Errorf("unable to decrypt owner keystore %s: %w", cfg.OwnerKeystorePath, err)
	}
	return key.PubKey().Address(), nil
}
