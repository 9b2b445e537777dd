package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/sync/singleflight"

	"github.com/hnrobert/trydo/internal/auth"
	"github.com/hnrobert/trydo/internal/dialog"
	"github.com/hnrobert/trydo/internal/kv"
	"github.com/hnrobert/trydo/internal/logger"
	"github.com/hnrobert/trydo/internal/provider"
)

var errShuttingDown = errors.New("server is shutting down")

// ClientFactory builds the provider client for one browser. local is that
// browser's persistent storage, where the client keeps its session.
type ClientFactory func(browserID string, local kv.Store) provider.Client

// mount is everything one browser owns while it is being served.
type mount struct {
	id      string
	auth    *auth.Context
	dialog  dialog.Dialog
	session kv.Store

	mu       sync.Mutex
	lastSeen time.Time
}

func (m *mount) touch(now time.Time) {
	m.mu.Lock()
	m.lastSeen = now
	m.mu.Unlock()
}

func (m *mount) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

type registry struct {
	mu     sync.Mutex
	mounts map[string]*mount
	closed bool

	newClient ClientFactory
	local     kv.Backend
	session   *kv.Memory
	authOpts  auth.Options
	ttl       time.Duration
	now       func() time.Time

	flight singleflight.Group
}

func newRegistry(newClient ClientFactory, local kv.Backend, publicURL string, timeout, ttl time.Duration) *registry {
	return &registry{
		mounts:    make(map[string]*mount),
		newClient: newClient,
		local:     local,
		session:   kv.NewMemory(),
		authOpts:  auth.Options{PublicURL: publicURL, Timeout: timeout},
		ttl:       ttl,
		now:       time.Now,
	}
}

func newBrowserID() string {
	return ksuid.New().String()
}

// get returns the mount for id, creating it on first sight.
func (r *registry) get(id string) (*mount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errShuttingDown
	}
	if m, ok := r.mounts[id]; ok {
		m.touch(r.now())
		return m, nil
	}
	local := r.local.Namespace("local:" + id)
	opts := r.authOpts
	opts.Local = local
	opts.Session = r.session.Namespace("session:" + id)
	opts.Now = r.now
	m := &mount{
		id:      id,
		auth:    auth.New(r.newClient(id, local), opts),
		session: opts.Session,
	}
	m.touch(r.now())
	r.mounts[id] = m
	return m, nil
}

// do collapses concurrent calls with the same key from the same browser
// into one.
func (r *registry) do(id, key string, fn func() (any, error)) (any, error) {
	v, err, _ := r.flight.Do(id+":"+key, fn)
	return v, err
}

// sweep unmounts browsers idle for longer than the TTL. Local storage is
// kept so a returning browser finds its session; session storage is not.
func (r *registry) sweep() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	var stale []*mount
	for id, m := range r.mounts {
		if m.idleSince().Before(cutoff) {
			stale = append(stale, m)
			delete(r.mounts, id)
		}
	}
	r.mu.Unlock()

	for _, m := range stale {
		r.unmount(m)
	}
	if len(stale) > 0 {
		logger.Info("Unmounted %d idle browser(s)", len(stale))
	}
	return len(stale)
}

func (r *registry) unmount(m *mount) {
	m.auth.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.session.Clear(ctx); err != nil {
		logger.Warn("clear session storage for %s: %v", m.id, err)
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mounts)
}

// run sweeps every interval until ctx is done.
func (r *registry) run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.sweep()
		}
	}
}

// close unmounts every browser and rejects new ones.
func (r *registry) close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*mount, 0, len(r.mounts))
	for _, m := range r.mounts {
		all = append(all, m)
	}
	r.mounts = map[string]*mount{}
	r.mu.Unlock()

	for _, m := range all {
		r.unmount(m)
	}
	_ = r.session.Close()
}
