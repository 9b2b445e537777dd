// Package auth turns page actions into identity-provider calls and keeps the
// per-browser auth state in sync with the provider.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/hnrobert/trydo/internal/provider"
)

// Result is the uniform outcome of an auth action.
type Result struct {
	Err     error
	Session *provider.Session
	User    *provider.User
}

// OK reports whether the action succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Gateway is a thin adapter over a provider.Client.
type Gateway struct {
	client     provider.Client
	redirectTo string
	timeout    time.Duration
}

// NewGateway binds client. Reset links point at publicURL's sign-in page;
// a non-zero timeout bounds every provider call.
func NewGateway(client provider.Client, publicURL string, timeout time.Duration) *Gateway {
	return &Gateway{
		client:     client,
		redirectTo: strings.TrimRight(publicURL, "/") + "/auth/signin",
		timeout:    timeout,
	}
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) GetSession(ctx context.Context) (*provider.Session, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.client.GetSession(ctx)
}

func (g *Gateway) SignUp(ctx context.Context, email, password string) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	u, err := g.client.SignUp(ctx, provider.Credentials{Email: email, Password: password})
	return Result{Err: err, User: u}
}

func (g *Gateway) SignIn(ctx context.Context, email, password string) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	sess, err := g.client.SignInWithPassword(ctx, provider.Credentials{Email: email, Password: password})
	if err != nil {
		return Result{Err: err}
	}
	u := sess.User
	return Result{Session: sess, User: &u}
}

func (g *Gateway) SignOut(ctx context.Context) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return Result{Err: g.client.SignOut(ctx)}
}

func (g *Gateway) ResetPassword(ctx context.Context, email string) Result {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return Result{Err: g.client.ResetPasswordForEmail(ctx, email, g.redirectTo)}
}

// Subscribe forwards provider pushes to fn.
func (g *Gateway) Subscribe(fn provider.Listener) provider.Subscription {
	return g.client.OnAuthStateChange(fn)
}
