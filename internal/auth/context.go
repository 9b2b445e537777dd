package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/logger"
	"github.com/hnrobert/trydo/internal/provider"
	"github.com/hnrobert/trydo/internal/session"
)

type Options struct {
	PublicURL string
	Timeout   time.Duration
	// Local and Session are wiped on every sign-out.
	Local   kv.Store
	Session kv.Store
	// Now decides when a cached session has expired. Defaults to time.Now.
	Now func() time.Time
}

// expiryLeeway is shorter than the providers' own refresh leeway, so a
// session that looks expired here is always renewed by GetSession.
const expiryLeeway = 10 * time.Second

// Context is one mount's auth state: a session store fed by the provider's
// pushes and by the outcome of local actions.
type Context struct {
	gw      *Gateway
	store   *session.Store
	local   kv.Store
	session kv.Store
	sub     provider.Subscription
	now     func() time.Time

	initMu    sync.Mutex
	initDone  bool
	closeOnce sync.Once
}

// New subscribes to client's auth-state changes. Call Close to release the
// subscription.
func New(client provider.Client, opts Options) *Context {
	c := &Context{
		gw:      NewGateway(client, opts.PublicURL, opts.Timeout),
		store:   session.New(),
		local:   opts.Local,
		session: opts.Session,
		now:     opts.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.sub = c.gw.Subscribe(func(ev provider.Event, sess *provider.Session) {
		c.store.Reconcile(sess)
	})
	return c
}

// Initialize loads the current session once. Later calls wait for and then
// reuse the first outcome. The fetch outlives ctx, so a caller that goes
// away cannot leave the mount signed out; the gateway timeout still bounds it.
func (c *Context) Initialize(ctx context.Context) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initDone {
		return
	}
	c.initDone = true
	_ = c.load(ctx)
}

// Refresh re-reads the session from the provider, which renews an expired
// access token. On failure the mount resolves to signed out and the next
// Initialize loads again.
func (c *Context) Refresh(ctx context.Context) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if err := c.load(ctx); err != nil {
		c.initDone = false
	}
}

// Sync initializes on first use and refreshes a session that has expired
// since.
func (c *Context) Sync(ctx context.Context) {
	c.Initialize(ctx)
	if c.store.State().Session.Expired(c.now(), expiryLeeway) {
		c.Refresh(ctx)
	}
}

// load must be called with initMu held.
func (c *Context) load(ctx context.Context) error {
	sess, err := c.gw.GetSession(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("auth: get session: %v", err)
		c.store.Fail(err)
		return err
	}
	c.store.Reconcile(sess)
	return nil
}

func (c *Context) State() session.State { return c.store.State() }

// Subscribe observes state changes until the returned func is called.
func (c *Context) Subscribe(fn func(session.State)) func() { return c.store.Subscribe(fn) }

func (c *Context) SignUp(ctx context.Context, email, password string) Result {
	return c.gw.SignUp(ctx, email, password)
}

func (c *Context) SignIn(ctx context.Context, email, password string) Result {
	res := c.gw.SignIn(ctx, email, password)
	if res.Err == nil {
		c.store.Reconcile(res.Session)
	}
	return res
}

// SignOut asks the provider to end the session. The local user and both
// storages are cleared whatever the provider does, including panicking.
func (c *Context) SignOut(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("auth: sign out panicked: %v", r)
			res = Result{Err: fmt.Errorf("%w: sign out: %v", ErrUnexpected, r)}
		}
		c.clearLocal(ctx)
	}()
	res = c.gw.SignOut(ctx)
	if res.Err != nil {
		logger.Warn("auth: sign out: %v", res.Err)
	}
	return res
}

func (c *Context) ResetPassword(ctx context.Context, email string) Result {
	return c.gw.ResetPassword(ctx, email)
}

func (c *Context) clearLocal(ctx context.Context) {
	c.store.Clear()
	// Use a fresh context: the request's may already be done.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for name, st := range map[string]kv.Store{"local": c.local, "session": c.session} {
		if st == nil {
			continue
		}
		if err := st.Clear(cctx); err != nil {
			logger.Error("auth: clear %s storage: %v", name, err)
		}
	}
}

// Close releases the provider subscription. Later pushes and actions no
// longer change State.
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.sub.Unsubscribe()
		c.store.Close()
	})
}
