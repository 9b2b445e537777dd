package provider

import "sync"

// Listeners is a registry of auth-state listeners that provider
// implementations embed. Emit delivers outside the lock so listeners may
// unsubscribe or call back into the client.
type Listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]Listener
}

type subscription struct {
	once sync.Once
	drop func()
}

func (s *subscription) Unsubscribe() { s.once.Do(s.drop) }

func (l *Listeners) Add(fn Listener) Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return &subscription{drop: func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}}
}

// Len returns the number of live listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fns)
}

func (l *Listeners) Emit(ev Event, sess *Session) {
	l.mu.Lock()
	fns := make([]Listener, 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(ev, sess)
	}
}
