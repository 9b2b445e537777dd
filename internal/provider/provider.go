package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransport wraps failures talking to the provider (network, decoding).
var ErrTransport = errors.New("identity provider unreachable")

// Event names follow the hosted provider's auth-state events.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	CreatedAt        time.Time `json:"created_at,omitempty"`
	EmailConfirmedAt time.Time `json:"email_confirmed_at,omitempty"`
}

// Session is the credential bundle issued by the provider.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Expired reports whether the access token is past its expiry (with leeway).
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(s.ExpiresAt)
}

type Credentials struct {
	Email    string
	Password string
}

// Error is a failure reported by the provider itself. It is data, not a
// transport problem, and its Message is safe to show to the user.
type Error struct {
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return e.Message
}

// AsError extracts a provider-reported error from err.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Listener receives auth-state changes. sess is nil after sign-out.
type Listener func(ev Event, sess *Session)

// Subscription is the handle returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Client is the identity-provider surface consumed by the auth layer.
// One Client is bound to one browser's storage.
type Client interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(fn Listener) Subscription
	SignUp(ctx context.Context, creds Credentials) (*User, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (*Session, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
}
