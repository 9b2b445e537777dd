package local

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/logger"
	"github.com/hnrobert/trydo/internal/provider"
)

const StorageKey = "trydo-local-auth-token"

// Client is one browser's view of the Directory.
type Client struct {
	dir       *Directory
	storage   kv.Store
	listeners provider.Listeners
}

var _ provider.Client = (*Client)(nil)

func (d *Directory) Client(storage kv.Store) *Client {
	return &Client{dir: d, storage: storage}
}

func (c *Client) OnAuthStateChange(fn provider.Listener) provider.Subscription {
	return c.listeners.Add(fn)
}

func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	sess, err := c.load(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if _, err := c.dir.parse(sess.AccessToken); err != nil {
		// Expired or revoked: forget it quietly, like an expired cookie.
		_ = c.storage.Delete(ctx, StorageKey)
		return nil, nil
	}
	return sess, nil
}

func (c *Client) SignUp(_ context.Context, creds provider.Credentials) (*provider.User, error) {
	rec, err := c.dir.AddUser(creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	u := rec.user()
	return &u, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, creds provider.Credentials) (*provider.Session, error) {
	rec, err := c.dir.Authenticate(creds.Email, creds.Password)
	if err != nil {
		return nil, err
	}
	sess, err := c.dir.issue(rec)
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if err := c.storage.Set(ctx, StorageKey, string(b)); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}
	c.listeners.Emit(provider.EventSignedIn, sess)
	return sess, nil
}

func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.load(ctx)
	if err != nil {
		return err
	}
	if sess != nil {
		if cl, err := c.dir.parse(sess.AccessToken); err == nil {
			c.dir.revoke(cl.ID, expiry(cl))
		}
	}
	if err := c.storage.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("forgetting session: %w", err)
	}
	c.listeners.Emit(provider.EventSignedOut, nil)
	return nil
}

// ResetPasswordForEmail has no mail transport; it logs the request. Unknown
// addresses succeed too so the endpoint does not reveal who is registered.
func (c *Client) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	if !validEmail(normalizeEmail(email)) {
		return ErrInvalidEmail
	}
	_, ok, err := c.dir.Lookup(email)
	if err != nil {
		return err
	}
	if ok {
		logger.Info("local provider: password reset requested for %s (redirect %s)", email, redirectTo)
	}
	return nil
}

func (c *Client) load(ctx context.Context) (*provider.Session, error) {
	raw, ok, err := c.storage.Get(ctx, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("reading stored session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var sess provider.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		_ = c.storage.Delete(ctx, StorageKey)
		return nil, nil
	}
	return &sess, nil
}
