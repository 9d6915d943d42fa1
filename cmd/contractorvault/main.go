package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/contractorvault/internal/adapter/driven/jwtsigner"
	"github.com/ericfisherdev/contractorvault/internal/adapter/driven/kms"
	sqliteadapter "github.com/ericfisherdev/contractorvault/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/contractorvault/internal/adapter/driven/webhook"
	httphandler "github.com/ericfisherdev/contractorvault/internal/adapter/driving/http"
	"github.com/ericfisherdev/contractorvault/internal/application"
	"github.com/ericfisherdev/contractorvault/internal/config"
	"github.com/ericfisherdev/contractorvault/internal/domain/port/driven"
	"github.com/ericfisherdev/contractorvault/internal/metrics"
)

const appName = "contractorvault"

var flagListenAddr = &cli.StringFlag{
	Name:  "listen-addr",
	Usage: "HTTP listen address (overrides CVAULT_LISTEN_ADDR)",
}

var flagLogLevel = &cli.StringFlag{
	Name:  "log-level",
	Usage: "log level: debug, info, warn, error (overrides CVAULT_LOG_LEVEL)",
}

var flagLogJSON = &cli.BoolFlag{
	Name:  "log-json",
	Usage: "emit JSON logs (overrides CVAULT_LOG_JSON)",
}

var flagNewKey = &cli.StringFlag{
	Name:     "new-key",
	Usage:    "base64 AES-256 key to re-encrypt the vault under",
	Required: true,
	EnvVars:  []string{"CVAULT_NEW_ENCRYPTION_KEY"},
}

var flagNewKeyID = &cli.StringFlag{
	Name:  "new-key-id",
	Usage: "key id recorded with ciphertext produced by the new key",
	Value: "rotated",
}

func main() {
	app := &cli.App{
		Name:           appName,
		Usage:          "temporary, revocable contractor access to shared credentials",
		DefaultCommand: "serve",
		Flags:          []cli.Flag{flagListenAddr, flagLogLevel, flagLogJSON},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Action: migrate,
			},
			{
				Name:   "purge-expired",
				Usage:  "delete token rows past the retention window and exit",
				Action: purgeExpired,
			},
			{
				Name:   "rekey",
				Usage:  "re-encrypt every secret and stored session under a new key",
				Flags:  []cli.Flag{flagNewKey, flagNewKeyID},
				Action: rekey,
			},
			{
				Name:   "keygen",
				Usage:  "print a fresh base64 AES-256 key",
				Action: keygen,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

// setup loads configuration, applies flag overrides and builds the logger.
func setup(cCtx *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if cCtx.IsSet(flagListenAddr.Name) {
		cfg.ListenAddr = cCtx.String(flagListenAddr.Name)
	}
	if cCtx.IsSet(flagLogLevel.Name) {
		cfg.LogLevel = cCtx.String(flagLogLevel.Name)
	}
	if cCtx.IsSet(flagLogJSON.Name) {
		cfg.LogJSON = cCtx.Bool(flagLogJSON.Name)
	}

	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

// openDB opens the database and brings the schema up to date.
func openDB(cfg *config.Config, logger zerolog.Logger) (*sqliteadapter.DB, error) {
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info().Str("path", cfg.DBPath).Uint("schema_version", version).Msg("database ready")
	return db, nil
}

func kmsConfig(cfg *config.Config) kms.Config {
	return kms.Config{
		Provider:         kms.ProviderType(cfg.KMSProvider),
		KeyID:            cfg.KMSKeyID,
		Key:              cfg.EncryptionKey,
		TransitAddress:   cfg.TransitAddress,
		TransitToken:     cfg.TransitToken,
		TransitKeyName:   cfg.TransitKeyName,
		TransitMountPath: cfg.TransitMountPath,
	}
}

// newCipher builds the encryption boundary and proves it works.
func newCipher(ctx context.Context, kc kms.Config, logger zerolog.Logger) (*kms.Boundary, error) {
	w, err := kms.NewWrapper(ctx, kc)
	if err != nil {
		return nil, err
	}
	return kms.NewBoundary(ctx, w, logger)
}

func serve(cCtx *cli.Context) error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, logger, err := setup(cCtx)
	if err != nil {
		return err
	}
	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Str("kms_provider", cfg.KMSProvider).
		Dur("max_token_duration", cfg.MaxTokenDuration).
		Bool("webhook", cfg.HasWebhook()).
		Msg("config loaded")

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database and run migrations on the writer connection.
	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("error closing database")
		}
	}()

	// 4. Encryption boundary. A bad key aborts startup here.
	cipher, err := newCipher(ctx, kmsConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("encryption boundary: %w", err)
	}

	clk := clock.New()
	signer, err := jwtsigner.New(cfg.JWTSecret, cfg.JWTIssuer, clk)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	rec := metrics.New(reg)

	// 5. Wire adapters.
	tokenStore := sqliteadapter.NewTokenRepo(db)
	secretStore := sqliteadapter.NewSecretRepo(db)
	sessionStore := sqliteadapter.NewSessionRepo(db)
	auditStore := sqliteadapter.NewAuditRepo(db)
	deviceStore := sqliteadapter.NewDeviceRepo(db)
	tx := sqliteadapter.NewTxRunner(db)

	var notifier driven.Notifier = webhook.Nop{}
	if cfg.HasWebhook() {
		notifier = webhook.New(cfg.WebhookURL, webhook.Options{}, logger)
	}

	// Background workers get their own context so they outlive the HTTP drain.
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()
	var workers sync.WaitGroup

	dispatcher := application.NewDispatcher(notifier, cfg.NotifyQueueSize, rec, logger)
	workers.Add(1)
	go func() {
		defer workers.Done()
		dispatcher.Start(workerCtx)
	}()

	// 6. Services.
	audit := application.NewAuditService(auditStore, clk, logger, rec)
	devices := application.NewDeviceService(deviceStore, tx, audit, clk, logger)
	vault := application.NewVaultService(secretStore, sessionStore, tx, cipher, audit, clk, logger)
	resolver := application.NewResourceResolver(secretStore, sessionStore, clk)
	tokens := application.NewTokenService(application.TokenServiceDeps{
		Tokens:    tokenStore,
		Tx:        tx,
		Resolver:  resolver,
		Cipher:    cipher,
		Devices:   devices,
		Audit:     audit,
		Signer:    signer,
		Publisher: dispatcher,
		Metrics:   rec,
		Clock:     clk,
		Logger:    logger,
		Policy: application.TokenPolicy{
			MaxDuration:     cfg.MaxTokenDuration,
			DefaultDuration: cfg.DefaultTokenDuration,
		},
	})
	health := application.NewHealthService(db, cipher, clk)

	// 7. Optional purge loop.
	purge := application.NewPurgeService(tx, audit, clk, logger, cfg.PurgeInterval, cfg.PurgeRetention)
	workers.Add(1)
	go func() {
		defer workers.Done()
		purge.Start(workerCtx)
	}()

	// 8. HTTP server.
	handler := httphandler.NewHandler(httphandler.Services{
		Tokens:  tokens,
		Vault:   vault,
		Audit:   audit,
		Devices: devices,
		Health:  health,
	}, reg, httphandler.RateLimits{
		GeneratePerMinute: cfg.GenerateRatePerMinute,
		ClaimPerMinute:    cfg.ClaimRatePerMinute,
	}, clk, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info().Msg("contractor vault started")

	// 9. Wait for shutdown signal or a listener failure.
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	// 10. Drain in-flight requests before the notification queue is flushed.
	handler.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	stopWorkers()
	workers.Wait()

	logger.Info().Msg("shutdown complete")
	return nil
}

func migrate(cCtx *cli.Context) error {
	cfg, logger, err := setup(cCtx)
	if err != nil {
		return err
	}
	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	return db.Close()
}

func purgeExpired(cCtx *cli.Context) error {
	cfg, logger, err := setup(cCtx)
	if err != nil {
		return err
	}
	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.New()
	audit := application.NewAuditService(sqliteadapter.NewAuditRepo(db), clk, logger, nil)
	purge := application.NewPurgeService(sqliteadapter.NewTxRunner(db), audit, clk, logger, 0, cfg.PurgeRetention)

	n, err := purge.PurgeOnce(cCtx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d expired tokens\n", n)
	return nil
}

func rekey(cCtx *cli.Context) error {
	cfg, logger, err := setup(cCtx)
	if err != nil {
		return err
	}
	ctx := cCtx.Context

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	from, err := newCipher(ctx, kmsConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("current key: %w", err)
	}
	to, err := newCipher(ctx, kms.Config{
		Provider: kms.ProviderAEAD,
		KeyID:    cCtx.String(flagNewKeyID.Name),
		Key:      cCtx.String(flagNewKey.Name),
	}, logger)
	if err != nil {
		return fmt.Errorf("new key: %w", err)
	}

	clk := clock.New()
	audit := application.NewAuditService(sqliteadapter.NewAuditRepo(db), clk, logger, nil)
	vault := application.NewVaultService(
		sqliteadapter.NewSecretRepo(db),
		sqliteadapter.NewSessionRepo(db),
		sqliteadapter.NewTxRunner(db),
		from, audit, clk, logger,
	)

	report, err := vault.RekeyAll(ctx, from, to, kms.Rekey)
	if err != nil {
		return err
	}

	fmt.Printf("re-encrypted %d secrets and %d stored sessions\n", report.Secrets, report.Sessions)
	for _, ref := range report.Skipped {
		fmt.Printf("skipped (changed during rekey): %s\n", ref)
	}
	for _, ref := range report.Failed {
		fmt.Printf("failed (left unchanged): %s\n", ref)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d resources could not be re-encrypted", len(report.Failed))
	}
	return nil
}

func keygen(_ *cli.Context) error {
	key, err := kms.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	return nil
}
