// Package providertest holds a scriptable provider.Client for tests.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/hnrobert/trydo/internal/provider"
)

// Stub is an in-memory provider.Client. Set the exported fields before use;
// each call is counted and successful sign-in/out calls emit the matching
// event like a real provider would.
type Stub struct {
	mu sync.Mutex

	// Session is returned by GetSession and replaced on sign-in/out.
	Session *provider.Session

	GetSessionErr error
	SignUpErr     error
	SignInErr     error
	SignOutErr    error
	ResetErr      error

	// SignOutPanic, when non-nil, is raised from SignOut.
	SignOutPanic any

	// Block, when non-nil, is received from before sign-in returns.
	Block chan struct{}

	calls     map[string]int
	lastReset string
	listeners provider.Listeners
}

var _ provider.Client = (*Stub)(nil)

// SessionFor builds a session for email with a token derived from it.
func SessionFor(email string) *provider.Session {
	return &provider.Session{
		AccessToken:  "token-" + email,
		RefreshToken: "refresh-" + email,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
		User:         provider.User{ID: "user-" + email, Email: email},
	}
}

// Calls returns how many times method was invoked.
func (s *Stub) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// LastResetRedirect returns the redirect URL of the last reset request.
func (s *Stub) LastResetRedirect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReset
}

// Listeners returns the number of live subscriptions.
func (s *Stub) Listeners() int { return s.listeners.Len() }

// Push delivers ev to subscribers as a provider-side change would.
func (s *Stub) Push(ev provider.Event, sess *provider.Session) {
	s.mu.Lock()
	s.Session = sess
	s.mu.Unlock()
	s.listeners.Emit(ev, sess)
}

func (s *Stub) count(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
}

func (s *Stub) GetSession(ctx context.Context) (*provider.Session, error) {
	s.count("GetSession")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetSessionErr != nil {
		return nil, s.GetSessionErr
	}
	return s.Session, nil
}

func (s *Stub) OnAuthStateChange(fn provider.Listener) provider.Subscription {
	return s.listeners.Add(fn)
}

func (s *Stub) SignUp(_ context.Context, creds provider.Credentials) (*provider.User, error) {
	s.count("SignUp")
	if s.SignUpErr != nil {
		return nil, s.SignUpErr
	}
	return &provider.User{ID: "user-" + creds.Email, Email: creds.Email}, nil
}

func (s *Stub) SignInWithPassword(ctx context.Context, creds provider.Credentials) (*provider.Session, error) {
	s.count("SignInWithPassword")
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.SignInErr != nil {
		return nil, s.SignInErr
	}
	sess := SessionFor(creds.Email)
	s.Push(provider.EventSignedIn, sess)
	return sess, nil
}

func (s *Stub) SignOut(context.Context) error {
	s.count("SignOut")
	if s.SignOutPanic != nil {
		panic(s.SignOutPanic)
	}
	if s.SignOutErr != nil {
		return s.SignOutErr
	}
	s.Push(provider.EventSignedOut, nil)
	return nil
}

func (s *Stub) ResetPasswordForEmail(_ context.Context, _ string, redirectTo string) error {
	s.count("ResetPasswordForEmail")
	s.mu.Lock()
	s.lastReset = redirectTo
	s.mu.Unlock()
	return s.ResetErr
}
