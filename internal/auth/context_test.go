package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/provider"
	"github.com/hnrobert/trydo/internal/provider/gotrue"
	"github.com/hnrobert/trydo/internal/provider/providertest"
	"github.com/hnrobert/trydo/internal/session"
)

type fixture struct {
	stub    *providertest.Stub
	mem     *kv.Memory
	ctx     *Context
	localNS string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stub := &providertest.Stub{}
	mem := kv.NewMemory()
	c := New(stub, Options{
		PublicURL: "http://localhost:3000/",
		Timeout:   time.Second,
		Local:     mem.Namespace("local:b1"),
		Session:   mem.Namespace("session:b1"),
	})
	t.Cleanup(c.Close)
	return &fixture{stub: stub, mem: mem, ctx: c, localNS: "local:b1"}
}

func (f *fixture) seedStorage(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mem.Namespace("local:b1").Set(ctx, "sb-auth-token", "x"))
	require.NoError(t, f.mem.Namespace("local:b1").Set(ctx, "theme", "dark"))
	require.NoError(t, f.mem.Namespace("session:b1").Set(ctx, "draft", "y"))
}

func (f *fixture) assertStorageEmpty(t *testing.T) {
	t.Helper()
	assert.Zero(t, f.mem.Len("local:b1"))
	assert.Zero(t, f.mem.Len("session:b1"))
}

func TestInitializeRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.stub.Session = providertest.SessionFor("a@example.com")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctx.Initialize(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.stub.Calls("GetSession"))
	st := f.ctx.State()
	require.True(t, st.Authenticated())
	assert.Equal(t, "a@example.com", st.User.Email)
}

func TestInitializeOutlivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.stub.Session = providertest.SessionFor("a@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.ctx.Initialize(ctx)

	st := f.ctx.State()
	require.True(t, st.Authenticated())
	assert.NoError(t, st.Err)

	f.ctx.Initialize(context.Background())
	assert.Equal(t, 1, f.stub.Calls("GetSession"))
}

func TestInitializeFailureResolvesLoading(t *testing.T) {
	f := newFixture(t)
	f.stub.GetSessionErr = errors.New("network down")
	f.ctx.Initialize(context.Background())

	st := f.ctx.State()
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Error(t, st.Err)
}

func TestPushedEventsReplaceState(t *testing.T) {
	f := newFixture(t)
	f.ctx.Initialize(context.Background())
	assert.False(t, f.ctx.State().Authenticated())

	f.stub.Push(provider.EventSignedIn, providertest.SessionFor("b@example.com"))
	assert.Equal(t, "b@example.com", f.ctx.State().User.Email)

	f.stub.Push(provider.EventSignedOut, nil)
	assert.False(t, f.ctx.State().Authenticated())
}

func TestUserUpdatedPushReplacesUser(t *testing.T) {
	f := newFixture(t)
	f.stub.Session = providertest.SessionFor("a@example.com")
	f.ctx.Initialize(context.Background())

	updated := providertest.SessionFor("a@example.com")
	updated.ExpiresAt = f.ctx.State().Session.ExpiresAt
	updated.User.Email = "renamed@example.com"
	f.stub.Push(provider.EventUserUpdated, updated)

	st := f.ctx.State()
	assert.Equal(t, "token-a@example.com", st.Session.AccessToken)
	assert.Equal(t, "renamed@example.com", st.User.Email)
}

func TestSignInReconcilesPushAndResponse(t *testing.T) {
	f := newFixture(t)
	f.ctx.Initialize(context.Background())

	var changes []session.State
	unsub := f.ctx.Subscribe(func(st session.State) { changes = append(changes, st) })
	defer unsub()

	res := f.ctx.SignIn(context.Background(), "test@example.com", "password123")
	require.True(t, res.OK())
	assert.Equal(t, "test@example.com", res.User.Email)

	require.Len(t, changes, 1)
	assert.Equal(t, "test@example.com", changes[0].User.Email)
}

func TestSignInProviderError(t *testing.T) {
	f := newFixture(t)
	f.stub.SignInErr = &provider.Error{Status: 400, Message: "Invalid login credentials"}
	res := f.ctx.SignIn(context.Background(), "a@example.com", "nope")
	assert.False(t, res.OK())
	assert.Equal(t, "Invalid login credentials", HumanError(res.Err))
	assert.False(t, f.ctx.State().Authenticated())
}

func TestSignInTimeout(t *testing.T) {
	stub := &providertest.Stub{Block: make(chan struct{})}
	c := New(stub, Options{Timeout: 20 * time.Millisecond})
	defer c.Close()

	res := c.SignIn(context.Background(), "a@example.com", "password123")
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, MsgGeneric, HumanError(res.Err))
}

func TestSignOutClearsEverything(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(*providertest.Stub)
		wantErr error
		message string
	}{
		{name: "success", setup: func(*providertest.Stub) {}},
		{
			name:    "provider error",
			setup:   func(s *providertest.Stub) { s.SignOutErr = &provider.Error{Message: "Logout failed"} },
			message: MsgSignOutFailed,
		},
		{
			name:    "panic",
			setup:   func(s *providertest.Stub) { s.SignOutPanic = "kaboom" },
			wantErr: ErrUnexpected,
			message: MsgUnexpected,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.stub.Session = providertest.SessionFor("a@example.com")
			f.ctx.Initialize(context.Background())
			f.seedStorage(t)
			tc.setup(f.stub)

			res := f.ctx.SignOut(context.Background())

			assert.Equal(t, 1, f.stub.Calls("SignOut"))
			assert.Equal(t, tc.message, SignOutMessage(res.Err))
			if tc.wantErr != nil {
				assert.ErrorIs(t, res.Err, tc.wantErr)
			}
			st := f.ctx.State()
			assert.Nil(t, st.User)
			assert.Nil(t, st.Session)
			f.assertStorageEmpty(t)
		})
	}
}

func TestResetPasswordRedirect(t *testing.T) {
	f := newFixture(t)
	res := f.ctx.ResetPassword(context.Background(), "a@example.com")
	require.True(t, res.OK())
	assert.Equal(t, "http://localhost:3000/auth/signin", f.stub.LastResetRedirect())
}

func TestSignUpDoesNotSignIn(t *testing.T) {
	f := newFixture(t)
	f.ctx.Initialize(context.Background())
	res := f.ctx.SignUp(context.Background(), "new@example.com", "secret1")
	require.True(t, res.OK())
	assert.Equal(t, "new@example.com", res.User.Email)
	assert.False(t, f.ctx.State().Authenticated())
}

func TestCloseReleasesSubscription(t *testing.T) {
	f := newFixture(t)
	f.ctx.Initialize(context.Background())
	require.Equal(t, 1, f.stub.Listeners())

	f.ctx.Close()
	f.ctx.Close()
	assert.Equal(t, 0, f.stub.Listeners())

	f.stub.Push(provider.EventSignedIn, providertest.SessionFor("late@example.com"))
	assert.False(t, f.ctx.State().Authenticated())
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGoTrueServer(t *testing.T, refreshes *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		token, refresh := "at-1", "rt-1"
		if r.URL.Query().Get("grant_type") == "refresh_token" {
			refreshes.Add(1)
			token, refresh = "at-2", "rt-2"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  token,
			"token_type":    "bearer",
			"expires_in":    3600,
			"refresh_token": refresh,
			"user":          map[string]any{"id": "u-1", "email": "test@example.com"},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestSyncRefreshesExpiredSession(t *testing.T) {
	var refreshes atomic.Int32
	ts := newGoTrueServer(t, &refreshes)
	clk := &clock{now: time.Date(2024, 5, 1, 9, 48, 0, 0, time.UTC)}
	mem := kv.NewMemory()
	client := gotrue.New(gotrue.Config{URL: ts.URL, AnonKey: "anon", Now: clk.Now}, mem.Namespace("local:b1"))
	c := New(client, Options{Timeout: time.Second, Local: mem.Namespace("local:b1"), Now: clk.Now})
	defer c.Close()

	ctx := context.Background()
	c.Sync(ctx)
	require.True(t, c.SignIn(ctx, "test@example.com", "password123").OK())
	assert.Equal(t, "at-1", c.State().Session.AccessToken)

	// Still fresh: nothing to do.
	c.Sync(ctx)
	assert.Zero(t, refreshes.Load())

	clk.Advance(3 * time.Hour)
	c.Sync(ctx)

	assert.EqualValues(t, 1, refreshes.Load())
	st := c.State()
	require.True(t, st.Authenticated())
	assert.Equal(t, "at-2", st.Session.AccessToken)
	assert.False(t, st.Session.Expired(clk.Now(), 0))
}

func TestFailedRefreshLoadsAgainLater(t *testing.T) {
	clk := &clock{now: time.Now()}
	stub := &providertest.Stub{Session: providertest.SessionFor("a@example.com")}
	c := New(stub, Options{Timeout: time.Second, Now: clk.Now})
	defer c.Close()
	ctx := context.Background()

	c.Sync(ctx)
	require.True(t, c.State().Authenticated())

	stub.GetSessionErr = errors.New("network down")
	clk.Advance(2 * time.Hour)
	c.Sync(ctx)
	st := c.State()
	assert.False(t, st.Authenticated())
	assert.Error(t, st.Err)
	assert.Equal(t, 2, stub.Calls("GetSession"))

	stub.GetSessionErr = nil
	fresh := providertest.SessionFor("a@example.com")
	fresh.ExpiresAt = clk.Now().Add(time.Hour)
	stub.Session = fresh
	c.Sync(ctx)
	assert.True(t, c.State().Authenticated())
	assert.Equal(t, 3, stub.Calls("GetSession"))
}
