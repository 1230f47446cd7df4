// Package mirror holds the live state layer: small components that subscribe
// to external change streams and re-expose the latest value as local
// read-only state. Each component owns its state slice exclusively and runs a
// single goroutine, so consumers never see a half-applied update.
package mirror

import "sync"

// Identity is the authenticated identity handle attached to a live session.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
}

// SessionSnapshot is the session store's observable state. Resolving is true
// only before the first identity event arrives.
type SessionSnapshot struct {
	Identity  *Identity
	Resolving bool
}

// SessionStore mirrors an identity event stream. It subscribes exactly once
// for its lifetime; when the stream closes the last value holds. A stream
// that closes before delivering anything fails open to signed-out, so
// consumers always reach a definite state.
type SessionStore struct {
	mu        sync.Mutex
	current   *Identity
	resolving bool
	watchers  map[chan SessionSnapshot]struct{}
	closed    bool
	done      chan struct{}
}

func NewSessionStore(events <-chan *Identity) *SessionStore {
	s := &SessionStore{
		resolving: true,
		watchers:  make(map[chan SessionSnapshot]struct{}),
		done:      make(chan struct{}),
	}
	go s.run(events)
	return s
}

func (s *SessionStore) run(events <-chan *Identity) {
	defer close(s.done)
	for identity := range events {
		s.apply(identity)
	}
	// Stream ended. If no event ever arrived, resolve to signed-out rather
	// than leaving consumers waiting forever.
	s.mu.Lock()
	stillResolving := s.resolving
	s.mu.Unlock()
	if stillResolving {
		s.apply(nil)
	}
	s.closeWatchers()
}

func (s *SessionStore) apply(identity *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = identity
	s.resolving = false
	snap := SessionSnapshot{Identity: identity}
	// Pushing under the lock is safe: pushSession never blocks, and it keeps
	// a concurrent release from closing a channel mid-send.
	for ch := range s.watchers {
		pushSession(ch, snap)
	}
}

func (s *SessionStore) closeWatchers() {
	s.mu.Lock()
	s.closed = true
	for ch := range s.watchers {
		close(ch)
	}
	s.watchers = make(map[chan SessionSnapshot]struct{})
	s.mu.Unlock()
}

// Current returns the latest identity (nil when signed out) and whether the
// store is still waiting for the first event.
func (s *SessionStore) Current() (*Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.resolving
}

// Watch returns a stream of session snapshots, primed with the current state.
// Snapshots are conflated: a slow consumer sees the latest value, never a
// stale backlog. The release function detaches the watcher.
func (s *SessionStore) Watch() (<-chan SessionSnapshot, func()) {
	ch := make(chan SessionSnapshot, 1)

	s.mu.Lock()
	// The closed flag, not done, gates registration: done is closed outside
	// the lock, so a Watch racing with shutdown could otherwise register a
	// watcher nothing will ever close.
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.watchers[ch] = struct{}{}
	pushSession(ch, SessionSnapshot{Identity: s.current, Resolving: s.resolving})
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

// Done is closed once the identity stream has ended and all state is final.
func (s *SessionStore) Done() <-chan struct{} {
	return s.done
}

// pushSession delivers latest-wins: if the buffer is full the stale snapshot
// is dropped in favor of the new one.
func pushSession(ch chan SessionSnapshot, snap SessionSnapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
