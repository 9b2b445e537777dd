package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/provider"
)

type fakeGoTrue struct {
	mu       sync.Mutex
	calls    []string
	logout   int
	recovery string
	refresh  int
}

func (f *fakeGoTrue) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != "password123" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":400,"error_code":"invalid_credentials","msg":"Invalid login credentials"}`))
				return
			}
			writeJSON(w, map[string]any{
				"access_token":  "at-1",
				"token_type":    "bearer",
				"expires_in":    3600,
				"refresh_token": "rt-1",
				"user":          map[string]any{"id": "u-1", "email": body["email"]},
			})
		case "refresh_token":
			f.mu.Lock()
			f.refresh++
			f.mu.Unlock()
			if body["refresh_token"] != "rt-1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`))
				return
			}
			writeJSON(w, map[string]any{
				"access_token":  "at-2",
				"token_type":    "bearer",
				"expires_in":    3600,
				"refresh_token": "rt-2",
				"user":          map[string]any{"id": "u-1", "email": "test@example.com"},
			})
		}
	})
	mux.HandleFunc("POST /auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] == "taken@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`))
			return
		}
		writeJSON(w, map[string]any{"id": "u-2", "email": body["email"], "created_at": "2024-05-01T10:00:00.123456Z"})
	})
	mux.HandleFunc("POST /auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.logout++
		f.mu.Unlock()
		if r.Header.Get("Authorization") == "Bearer at-gone" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"msg":"session not found"}`))
			return
		}
		if r.Header.Get("Authorization") == "Bearer at-broken" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"Logout failed"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /auth/v1/recover", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		f.recovery = r.URL.Query().Get("redirect_to")
		f.mu.Unlock()
		writeJSON(w, map[string]any{})
	})
	return mux
}

func (f *fakeGoTrue) record(r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*Client, *fakeGoTrue, kv.Store) {
	t.Helper()
	fake := &fakeGoTrue{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	storage := kv.NewMemory().Namespace("local:test")
	c := New(Config{URL: srv.URL, AnonKey: "anon", HTTP: srv.Client()}, storage)
	return c, fake, storage
}

func TestSignInStoresSessionAndEmits(t *testing.T) {
	c, _, storage := newTestClient(t)
	ctx := context.Background()

	var events []provider.Event
	sub := c.OnAuthStateChange(func(ev provider.Event, _ *provider.Session) { events = append(events, ev) })
	defer sub.Unsubscribe()

	sess, err := c.SignInWithPassword(ctx, provider.Credentials{Email: "test@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "at-1", sess.AccessToken)
	assert.Equal(t, "test@example.com", sess.User.Email)
	assert.False(t, sess.ExpiresAt.IsZero())
	assert.Equal(t, []provider.Event{provider.EventSignedIn}, events)

	raw, ok, err := storage.Get(ctx, StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, raw, "at-1")

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at-1", got.AccessToken)
}

func TestSignInProviderError(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.SignInWithPassword(context.Background(), provider.Credentials{Email: "a@b.c", Password: "nope"})
	require.Error(t, err)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Equal(t, "invalid_credentials", pe.Code)
	assert.Equal(t, "Invalid login credentials", pe.Message)
}

func TestSignUpReturnsUser(t *testing.T) {
	c, _, storage := newTestClient(t)
	ctx := context.Background()

	u, err := c.SignUp(ctx, provider.Credentials{Email: "new@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "u-2", u.ID)
	assert.Equal(t, 2024, u.CreatedAt.Year())

	// Confirmation pending: nothing is stored.
	_, ok, _ := storage.Get(ctx, StorageKey)
	assert.False(t, ok)

	_, err = c.SignUp(ctx, provider.Credentials{Email: "taken@example.com", Password: "secret1"})
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "User already registered", pe.Message)
}

func TestSignOut(t *testing.T) {
	c, fake, storage := newTestClient(t)
	ctx := context.Background()
	_, err := c.SignInWithPassword(ctx, provider.Credentials{Email: "test@example.com", Password: "password123"})
	require.NoError(t, err)

	var last provider.Event
	c.OnAuthStateChange(func(ev provider.Event, _ *provider.Session) { last = ev })

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, 1, fake.logout)
	assert.Equal(t, provider.EventSignedOut, last)
	_, ok, _ := storage.Get(ctx, StorageKey)
	assert.False(t, ok)
}

func TestSignOutTreatsUnknownSessionAsSignedOut(t *testing.T) {
	c, _, storage := newTestClient(t)
	ctx := context.Background()
	seedSession(t, storage, &provider.Session{AccessToken: "at-gone", ExpiresAt: time.Now().Add(time.Hour)})

	require.NoError(t, c.SignOut(ctx))
	_, ok, _ := storage.Get(ctx, StorageKey)
	assert.False(t, ok)
}

func TestSignOutProviderFailureKeepsSession(t *testing.T) {
	c, _, storage := newTestClient(t)
	ctx := context.Background()
	seedSession(t, storage, &provider.Session{AccessToken: "at-broken", ExpiresAt: time.Now().Add(time.Hour)})

	err := c.SignOut(ctx)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Logout failed", pe.Message)
	_, stored, _ := storage.Get(ctx, StorageKey)
	assert.True(t, stored)
}

func TestGetSessionRefreshesExpiredToken(t *testing.T) {
	c, fake, storage := newTestClient(t)
	ctx := context.Background()
	seedSession(t, storage, &provider.Session{
		AccessToken:  "at-old",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	var events []provider.Event
	c.OnAuthStateChange(func(ev provider.Event, _ *provider.Session) { events = append(events, ev) })

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "at-2", sess.AccessToken)
	assert.Equal(t, 1, fake.refresh)
	assert.Equal(t, []provider.Event{provider.EventTokenRefreshed}, events)
}

func TestGetSessionRejectedRefreshSignsOut(t *testing.T) {
	c, _, storage := newTestClient(t)
	ctx := context.Background()
	seedSession(t, storage, &provider.Session{
		AccessToken:  "at-old",
		RefreshToken: "rt-revoked",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	sess, err := c.GetSession(ctx)
	assert.Nil(t, sess)
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "invalid_grant", pe.Code)
	assert.Equal(t, "Invalid Refresh Token", pe.Message)
	_, stored, _ := storage.Get(ctx, StorageKey)
	assert.False(t, stored)
}

func TestGetSessionWithoutStoredSession(t *testing.T) {
	c, fake, _ := newTestClient(t)
	sess, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Empty(t, fake.calls)
}

func TestResetPasswordSendsRedirect(t *testing.T) {
	c, fake, _ := newTestClient(t)
	require.NoError(t, c.ResetPasswordForEmail(context.Background(), "test@example.com", "http://localhost:3000/auth/signin"))
	assert.Equal(t, "http://localhost:3000/auth/signin", fake.recovery)
}

func TestTransportError(t *testing.T) {
	c := New(Config{URL: "http://127.0.0.1:1", AnonKey: "anon"}, kv.NewMemory().Namespace("x"))
	_, err := c.SignInWithPassword(context.Background(), provider.Credentials{Email: "a", Password: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrTransport)
}

func TestToSessionFallsBackToTokenClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email: "claims@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-claims",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	c := New(Config{URL: "http://unused"}, kv.NewMemory().Namespace("x"))
	sess := c.toSession(tokenResponse{AccessToken: signed})
	assert.Equal(t, "u-claims", sess.User.ID)
	assert.Equal(t, "claims@example.com", sess.User.Email)
	assert.True(t, sess.ExpiresAt.Equal(exp))
}

func TestDecodeErrorFallsBackToStatusText(t *testing.T) {
	err := decodeError(http.StatusBadGateway, []byte("<html>"))
	pe, ok := provider.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Bad Gateway", pe.Message)
}

func seedSession(t *testing.T, storage kv.Store, sess *provider.Session) {
	t.Helper()
	b, err := json.Marshal(sess)
	require.NoError(t, err)
	require.NoError(t, storage.Set(context.Background(), StorageKey, string(b)))
}
