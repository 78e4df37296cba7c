package approverd

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"evlvault/approver"
	"evlvault/crypto"
	"evlvault/observability/logging"
	telemetry "evlvault/observability/otel"
)

// PassphraseFunc resolves a keystore passphrase for the given environment
// variable, prompting when the binary is interactive.
type PassphraseFunc func(envVar string) func() (string, error)

// Main initialises and runs the approver daemon.
func Main(passphrase PassphraseFunc) error {
	var cfgPath, exportPath string
	var exportWindow time.Duration
	flag.StringVar(&cfgPath, "config", "services/approverd/config.yaml", "path to approverd configuration")
	flag.StringVar(&exportPath, "export-audit", "", "write the audit log to a parquet file and exit")
	flag.DurationVar(&exportWindow, "export-window", 0, "only export issuances newer than this (0 exports everything)")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup("approverd", cfg.Environment)

	if exportPath != "" {
		return exportAudit(cfg.Audit, exportPath, exportWindow, logger)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "approverd",
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	var resolve func() (string, error)
	if passphrase != nil {
		resolve = passphrase(cfg.Signer.PassphraseEnv)
	}
	signer, err := approver.LoadSigner(crypto.KeySource{KeystorePath: cfg.Signer.Keystore, HexKey: cfg.Signer.Key}, resolve)
	if err != nil {
		return fmt.Errorf("load approver key: %w", err)
	}
	policy, err := NewPolicy(cfg.Policy)
	if err != nil {
		return fmt.Errorf("init policy: %w", err)
	}
	store, err := OpenStore(cfg.Audit)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	server, err := NewServer(signer, policy, store, auth, cfg.RateLimit, WithLogger(logger))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("approverd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("approver", signer.Address().Hex()))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func exportAudit(cfg AuditConfig, path string, window time.Duration, logger *slog.Logger) error {
	store, err := OpenStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}
	n, err := ExportAudit(context.Background(), store, path, since)
	if err != nil {
		return fmt.Errorf("export audit: %w", err)
	}
	logger.Info("audit log exported", slog.String("path", path), slog.Int("rows", n))
	return nil
}
