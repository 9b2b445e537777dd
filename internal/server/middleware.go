package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hnrobert/trydo/internal/auth"
	"github.com/hnrobert/trydo/internal/logger"
)

type ctxKey string

const ctxMount ctxKey = "mount"

// withBrowser resolves the browser cookie to its mount, issuing a fresh id
// when the cookie is missing or invalid. The mount's session is loaded on
// first sight and refreshed once it expires.
func (a *App) withBrowser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := a.readBrowser(r)
		if id == "" {
			id = newBrowserID()
			tok, err := auth.SignBrowser(a.secret, id, cookieTTL)
			if err != nil {
				logger.Error("sign browser cookie: %v", err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			a.issueCookie(w, tok)
		}
		m, err := a.browsers.get(id)
		if err != nil {
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		m.auth.Sync(r.Context())
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxMount, m)))
	})
}

func (a *App) readBrowser(r *http.Request) string {
	c, err := r.Cookie(a.cookieName)
	if err != nil || c.Value == "" {
		return ""
	}
	id, err := auth.ParseBrowser(a.secret, c.Value)
	if err != nil {
		return ""
	}
	return id
}

func mountFrom(r *http.Request) *mount {
	if v := r.Context().Value(ctxMount); v != nil {
		if m, ok := v.(*mount); ok {
			return m
		}
	}
	return nil
}

func (a *App) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !mountFrom(r).auth.State().Authenticated() {
			http.Redirect(w, r, "/auth/signin", http.StatusSeeOther)
			return
		}
		h(w, r)
	}
}

// guestOnly sends signed-in users to the app instead of an auth page.
func (a *App) guestOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mountFrom(r).auth.State().Authenticated() {
			http.Redirect(w, r, "/app", http.StatusSeeOther)
			return
		}
		h(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", remoteIP(r)),
		)
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.L().Error("handler panic",
					zap.Any("panic", v),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
