package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hnrobert/trydo/internal/kv"
)

const sweepInterval = time.Minute

type Config struct {
	ListenAddr      string
	PublicURL       string
	CookieSecret    []byte
	SecureCookies   bool
	BrowserTTL      time.Duration
	ProviderTimeout time.Duration
	// NoticeMarkdown replaces the default landing text when set.
	NoticeMarkdown string

	NewClient ClientFactory
	// Local backs each browser's persistent storage. Defaults to memory.
	Local kv.Backend
}

type Server struct {
	cfg  Config
	app  *App
	h    http.Handler
	http *http.Server

	sweepCtx  context.Context
	stopSweep context.CancelFunc
}

func New(cfg Config) (*Server, error) {
	if cfg.NewClient == nil {
		return nil, errors.New("server: no provider client factory")
	}
	if cfg.Local == nil {
		cfg.Local = kv.NewMemory()
	}
	if cfg.BrowserTTL <= 0 {
		cfg.BrowserTTL = 24 * time.Hour
	}
	app, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, app: app, h: app.routes()}
	s.sweepCtx, s.stopSweep = context.WithCancel(context.Background())
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler { return s.h }

// ListenAndServe blocks until the server stops. It returns nil after a
// clean Shutdown.
func (s *Server) ListenAndServe() error {
	go s.app.browsers.run(s.sweepCtx, sweepInterval)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.stopSweep()
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then unmounts every browser and
// closes storage.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.stopSweep()
	s.app.browsers.close()
	if cerr := s.cfg.Local.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
