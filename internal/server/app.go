package server

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/hnrobert/trydo/internal/auth"
	"github.com/hnrobert/trydo/internal/dialog"
)

//go:embed templates/*.html
var templatesFS embed.FS

// cookieTTL is how long a browser keeps its id. Mounts are swept much
// sooner; the id only lets a returning browser find its stored session.
const cookieTTL = 30 * 24 * time.Hour

type App struct {
	secret        []byte
	cookieName    string
	secureCookies bool
	pages         map[string]*template.Template
	browsers      *registry
	notice        template.HTML
}

type ViewData struct {
	Authed    bool
	Email     string
	Flash     string
	FlashKind string // ok|err|""

	// auth forms
	FormEmail string

	// app home
	NoticeHTML template.HTML
	Dialog     dialog.State
}

func newApp(cfg Config) (*App, error) {
	secret := cfg.CookieSecret
	if len(secret) == 0 {
		// Generate ephemeral secret if not configured.
		s, err := auth.NewRandomSecretB64(32)
		if err != nil {
			return nil, err
		}
		secret = []byte(s)
	}

	base := template.New("layout.html")
	pages := map[string]*template.Template{}
	for _, page := range []string{"signin", "signup", "reset", "app"} {
		t, err := base.Clone()
		if err != nil {
			return nil, err
		}
		// Each page file defines the same block names (title/content).
		if _, err := t.ParseFS(templatesFS, "templates/layout.html", "templates/"+page+".html"); err != nil {
			return nil, err
		}
		pages[page] = t
	}

	notice := cfg.NoticeMarkdown
	if notice == "" {
		notice = DefaultNotice
	}

	return &App{
		secret:        secret,
		cookieName:    auth.DefaultCookieName,
		secureCookies: cfg.SecureCookies,
		pages:         pages,
		browsers:      newRegistry(cfg.NewClient, cfg.Local, cfg.PublicURL, cfg.ProviderTimeout, cfg.BrowserTTL),
		notice:        RenderMarkdown(notice),
	}, nil
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
	})

	mux.HandleFunc("GET /auth/signin", a.guestOnly(a.handleSignInPage))
	mux.HandleFunc("POST /auth/signin", a.handleSignIn)
	mux.HandleFunc("GET /auth/signup", a.guestOnly(a.handleSignUpPage))
	mux.HandleFunc("POST /auth/signup", a.handleSignUp)
	mux.HandleFunc("GET /auth/reset", a.guestOnly(a.handleResetPage))
	mux.HandleFunc("POST /auth/reset", a.handleReset)

	mux.HandleFunc("GET /app", a.requireAuth(a.handleAppHome))
	mux.HandleFunc("POST /app/signout/request", a.requireAuth(a.handleSignOutRequest))
	mux.HandleFunc("POST /app/signout/cancel", a.requireAuth(a.handleSignOutCancel))
	mux.HandleFunc("POST /app/signout/confirm", a.requireAuth(a.handleSignOutConfirm))

	mux.HandleFunc("GET /api/session", a.handleSessionAPI)
	mux.HandleFunc("POST /api/password-strength", a.handleStrengthAPI)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})
	root.Handle("/", a.withBrowser(mux))

	return withRecovery(withRequestLog(root))
}

func (a *App) issueCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     a.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.secureCookies,
		MaxAge:   int(cookieTTL.Seconds()),
	})
}
