package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hnrobert/trydo/internal/auth"
	"github.com/hnrobert/trydo/internal/config"
	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/logger"
	"github.com/hnrobert/trydo/internal/provider"
	"github.com/hnrobert/trydo/internal/provider/gotrue"
	"github.com/hnrobert/trydo/internal/provider/local"
	"github.com/hnrobert/trydo/internal/server"
)

// localStorageTTL bounds how long an unused browser's stored session
// lingers in Valkey.
const localStorageTTL = 30 * 24 * time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogDir); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	backend, err := openStorage(cfg)
	if err != nil {
		return err
	}
	factory, err := clientFactory(cfg)
	if err != nil {
		_ = backend.Close()
		return err
	}
	notice, err := readNotice(cfg.HomeNoticeFile)
	if err != nil {
		_ = backend.Close()
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddr:      cfg.Listen,
		PublicURL:       cfg.PublicURL,
		CookieSecret:    []byte(cfg.CookieSecret),
		SecureCookies:   cfg.SecureCookies(),
		BrowserTTL:      cfg.BrowserTTL,
		ProviderTimeout: cfg.ProviderTimeout,
		NoticeMarkdown:  notice,
		NewClient:       factory,
		Local:           backend,
	})
	if err != nil {
		_ = backend.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("trydo listening on %s (provider %s, storage %s)", cfg.Listen, cfg.Provider, cfg.Storage)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errCh
}

func openStorage(cfg config.Config) (kv.Backend, error) {
	switch cfg.Storage {
	case config.StorageValkey:
		return kv.DialValkey(cfg.ValkeyAddr, "trydo", localStorageTTL)
	default:
		return kv.NewMemory(), nil
	}
}

func clientFactory(cfg config.Config) (server.ClientFactory, error) {
	switch cfg.Provider {
	case config.ProviderGoTrue:
		hc := &http.Client{Timeout: cfg.ProviderTimeout}
		return func(_ string, storage kv.Store) provider.Client {
			return gotrue.New(gotrue.Config{URL: cfg.SupabaseURL, AnonKey: cfg.SupabaseAnonKey, HTTP: hc}, storage)
		}, nil
	case config.ProviderLocal:
		dir, err := openDirectory(cfg)
		if err != nil {
			return nil, err
		}
		return func(_ string, storage kv.Store) provider.Client {
			return dir.Client(storage)
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func openDirectory(cfg config.Config) (*local.Directory, error) {
	secret := cfg.LocalJWTSecret
	if secret == "" {
		s, err := auth.NewRandomSecretB64(32)
		if err != nil {
			return nil, err
		}
		secret = s
		logger.Warn("TRYDO_LOCAL_JWT_SECRET is not set; local sessions will not survive a restart")
	}
	return local.Open(cfg.LocalUsersFile, local.Options{Secret: []byte(secret), SessionTTL: cfg.LocalSessionTTL})
}

func readNotice(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read home notice: %w", err)
	}
	return string(b), nil
}
