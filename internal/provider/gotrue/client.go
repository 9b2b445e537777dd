// Package gotrue talks to a hosted GoTrue (Supabase Auth) endpoint.
//
// A Client is bound to one browser's storage and keeps the current session
// there under StorageKey, the same way the hosted JS client persists it in
// localStorage. Clearing that storage therefore forgets the session.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/provider"
)

const (
	StorageKey = "sb-auth-token"

	// expiryLeeway refreshes a little before the token actually expires.
	expiryLeeway = 30 * time.Second
)

type Config struct {
	// URL is the project URL, e.g. https://xyz.supabase.co
	URL     string
	AnonKey string
	HTTP    *http.Client
	Now     func() time.Time
}

type Client struct {
	base      string
	anonKey   string
	http      *http.Client
	now       func() time.Time
	storage   kv.Store
	listeners provider.Listeners

	// refreshMu serializes refresh-token exchanges for this browser.
	refreshMu sync.Mutex
}

var _ provider.Client = (*Client)(nil)

func New(cfg Config, storage kv.Store) *Client {
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		base:    strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey: cfg.AnonKey,
		http:    hc,
		now:     now,
		storage: storage,
	}
}

func (c *Client) OnAuthStateChange(fn provider.Listener) provider.Subscription {
	return c.listeners.Add(fn)
}

func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	sess, err := c.loadSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if !sess.Expired(c.now(), expiryLeeway) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		_ = c.storage.Delete(ctx, StorageKey)
		return nil, nil
	}
	return c.refresh(ctx, sess.RefreshToken)
}

func (c *Client) SignUp(ctx context.Context, creds provider.Credentials) (*provider.User, error) {
	body := map[string]string{"email": creds.Email, "password": creds.Password}
	var resp signUpResponse
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", body, &resp); err != nil {
		return nil, err
	}
	// With auto-confirm enabled the provider answers with a full session.
	if resp.AccessToken != "" {
		sess := c.toSession(resp.tokenResponse)
		if err := c.saveSession(ctx, sess); err != nil {
			return nil, err
		}
		c.listeners.Emit(provider.EventSignedIn, sess)
		return &sess.User, nil
	}
	u := resp.userJSON.toUser()
	return &u, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, creds provider.Credentials) (*provider.Session, error) {
	body := map[string]string{"email": creds.Email, "password": creds.Password}
	q := url.Values{"grant_type": {"password"}}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token", q, "", body, &resp); err != nil {
		return nil, err
	}
	sess := c.toSession(resp)
	if err := c.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	c.listeners.Emit(provider.EventSignedIn, sess)
	return sess, nil
}

// SignOut revokes the session server-side. A session the provider no longer
// knows (401/403/404) counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.loadSession(ctx)
	if err != nil {
		return err
	}
	if sess != nil {
		err := c.do(ctx, http.MethodPost, "/logout", nil, sess.AccessToken, nil, nil)
		if err != nil && !isGone(err) {
			return err
		}
	}
	if err := c.storage.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("forgetting session: %w", err)
	}
	c.listeners.Emit(provider.EventSignedOut, nil)
	return nil
}

func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, http.MethodPost, "/recover", q, "", map[string]string{"email": email}, nil)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another request may have refreshed while we waited.
	if cur, err := c.loadSession(ctx); err == nil && cur != nil && cur.RefreshToken != refreshToken && !cur.Expired(c.now(), expiryLeeway) {
		return cur, nil
	}

	q := url.Values{"grant_type": {"refresh_token"}}
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", q, "", map[string]string{"refresh_token": refreshToken}, &resp)
	if err != nil {
		if _, ok := provider.AsError(err); ok {
			_ = c.storage.Delete(ctx, StorageKey)
			c.listeners.Emit(provider.EventSignedOut, nil)
		}
		return nil, err
	}
	sess := c.toSession(resp)
	if err := c.saveSession(ctx, sess); err != nil {
		return nil, err
	}
	c.listeners.Emit(provider.EventTokenRefreshed, sess)
	return sess, nil
}

func (c *Client) loadSession(ctx context.Context) (*provider.Session, error) {
	raw, ok, err := c.storage.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("reading stored session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var sess provider.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// Unreadable entries are dropped rather than surfaced.
		_ = c.storage.Delete(ctx, StorageKey)
		return nil, nil
	}
	return &sess, nil
}

func (c *Client) saveSession(ctx context.Context, sess *provider.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := c.storage.Set(ctx, StorageKey, string(b)); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, bearer string, in, out any) error {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrTransport, err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrTransport, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", provider.ErrTransport, err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, b)
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", provider.ErrTransport, path, err)
	}
	return nil
}

func isGone(err error) bool {
	pe, ok := provider.AsError(err)
	if !ok {
		return false
	}
	return pe.Status == http.StatusUnauthorized || pe.Status == http.StatusForbidden || pe.Status == http.StatusNotFound
}

// errorBody covers the error shapes GoTrue has used across versions.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeError(status int, b []byte) error {
	pe := &provider.Error{Status: status}
	var eb errorBody
	if json.Unmarshal(b, &eb) == nil {
		pe.Code = eb.ErrorCode
		if pe.Code == "" {
			if s, ok := eb.Code.(string); ok {
				pe.Code = s
			} else if eb.Error != "" {
				pe.Code = eb.Error
			}
		}
		for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
			if m != "" {
				pe.Message = m
				break
			}
		}
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

type userJSON struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	CreatedAt        *time.Time `json:"created_at"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

func (u userJSON) toUser() provider.User {
	out := provider.User{ID: u.ID, Email: u.Email}
	if u.CreatedAt != nil {
		out.CreatedAt = *u.CreatedAt
	}
	if u.EmailConfirmedAt != nil {
		out.EmailConfirmedAt = *u.EmailConfirmedAt
	}
	return out
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *userJSON `json:"user"`
}

// signUpResponse is either a bare user or a token response.
type signUpResponse struct {
	tokenResponse
	userJSON
}

func (s *signUpResponse) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &s.tokenResponse); err != nil {
		return err
	}
	if s.tokenResponse.User != nil {
		s.userJSON = *s.tokenResponse.User
		return nil
	}
	return json.Unmarshal(b, &s.userJSON)
}

func (c *Client) toSession(r tokenResponse) *provider.Session {
	sess := &provider.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}
	switch {
	case r.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(r.ExpiresAt, 0).UTC()
	case r.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(r.ExpiresIn) * time.Second).UTC()
	}
	if r.User != nil {
		sess.User = r.User.toUser()
	}
	if sess.User.ID == "" || sess.ExpiresAt.IsZero() {
		fillFromClaims(sess)
	}
	return sess
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// fillFromClaims reads identity and expiry from the access token itself.
// The signature is not checked; the token came straight from the provider.
func fillFromClaims(sess *provider.Session) {
	var cl accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, &cl); err != nil {
		return
	}
	if sess.User.ID == "" {
		sess.User.ID = cl.Subject
	}
	if sess.User.Email == "" {
		sess.User.Email = cl.Email
	}
	if sess.ExpiresAt.IsZero() && cl.ExpiresAt != nil {
		sess.ExpiresAt = cl.ExpiresAt.Time.UTC()
	}
}
