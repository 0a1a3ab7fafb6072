package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/gluk-w/claworc/keyvault/internal/config"
	"github.com/gluk-w/claworc/keyvault/internal/credentials"
	"github.com/gluk-w/claworc/keyvault/internal/crypto"
	"github.com/gluk-w/claworc/keyvault/internal/database"
	"github.com/gluk-w/claworc/keyvault/internal/handlers"
	"github.com/gluk-w/claworc/keyvault/internal/logging"
	"github.com/gluk-w/claworc/keyvault/internal/middleware"
	"github.com/gluk-w/claworc/keyvault/internal/ratelimit"
	"github.com/gluk-w/claworc/keyvault/internal/sshkeys"
)

const settingMasterKey = "master_key"

// loadMasterKey returns the configured master key or the one persisted in
// the settings table, generating and persisting a key on first start.
func loadMasterKey(db *gorm.DB, configured string, log *zap.Logger) (string, error) {
	if configured != "" {
		log.Info("using master key from environment", zap.String("key", crypto.Mask(configured)))
		return configured, nil
	}

	key, err := database.GetSetting(db, settingMasterKey)
	if err == nil {
		log.Info("using persisted master key", zap.String("key", crypto.Mask(key)))
		return key, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("load master key: %w", err)
	}

	key, err = crypto.GenerateMasterKey()
	if err != nil {
		return "", err
	}
	if err := database.SetSetting(db, settingMasterKey, key); err != nil {
		return "", fmt.Errorf("save master key: %w", err)
	}
	log.Warn("generated a new master key and stored it in the database; set KEYVAULT_MASTER_KEY to keep it elsewhere",
		zap.String("key", crypto.Mask(key)))
	return key, nil
}

// newAPIHandler builds the HTTP handler from cfg. It fails when no trusted
// source is configured, since the owner header would then be accepted from
// any peer.
func newAPIHandler(cfg config.Settings, db *gorm.DB, codec *crypto.Codec, gen *sshkeys.Generator, logger *zap.Logger) (*handlers.Handler, error) {
	sources, err := middleware.ParseAllowedSources(cfg.TrustedSources)
	if err != nil {
		return nil, fmt.Errorf("KEYVAULT_TRUSTED_SOURCES: %w", err)
	}
	if len(sources) == 0 {
		return nil, errors.New(`KEYVAULT_TRUSTED_SOURCES is empty; list the proxy addresses, or set "0.0.0.0/0,::/0" to trust every peer`)
	}

	keygenLimit := ratelimit.New("keygen", ratelimit.Config{
		MaxPerMinute: cfg.KeygenRateLimit,
	}, logger)
	validateLimit := ratelimit.New("validate", ratelimit.Config{
		MaxPerMinute:      cfg.ValidateRateLimit,
		MaxConsecFailures: cfg.PassphraseMaxFailures,
		BlockDuration:     cfg.PassphraseBlock,
	}, logger)

	return handlers.New(handlers.Config{
		Store:          credentials.NewStore(db, codec, logger),
		Generator:      gen,
		DB:             db,
		OwnerHeader:    cfg.OwnerHeader,
		TrustedSources: sources,
		KeygenLimit:    keygenLimit,
		ValidateLimit:  validateLimit,
		Logger:         logger,
	}), nil
}

func runServe(ctx context.Context, cfg config.Settings) error {
	logger, err := logging.New(logging.Options{
		Path:   cfg.ResolvedLogPath(),
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := database.Open(cfg.ResolvedDatabasePath())
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}
	defer database.Close(db)

	masterKey, err := loadMasterKey(db, cfg.MasterKey, logger)
	if err != nil {
		return err
	}
	codec, err := crypto.NewCodec(masterKey)
	if err != nil {
		return fmt.Errorf("master key: %w", err)
	}

	gen := sshkeys.NewGenerator(sshkeys.GeneratorConfig{
		KeygenPath:    cfg.KeygenPath,
		KeygenTimeout: cfg.KeygenTimeout,
		Logger:        logger,
	})
	gen.IsBackendAvailable()

	h, err := newAPIHandler(cfg, db, codec, gen, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var certFile, keyFile string
	switch {
	case cfg.TLSCertFile != "" && cfg.TLSKeyFile != "":
		certFile, keyFile = cfg.TLSCertFile, cfg.TLSKeyFile
	case cfg.TLSSelfSigned:
		cert, err := crypto.LoadOrGenerateServerCert(db, codec, cfg.TLSHosts)
		if err != nil {
			return fmt.Errorf("server certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.ListenAddr),
			zap.Bool("tls", cfg.TLSEnabled()),
			zap.String("keygen_backend", string(gen.ActiveBackend())),
		)
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-sigCtx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
