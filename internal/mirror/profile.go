package mirror

import (
	"context"
	"log"
	"sync"

	"brightnest/api/internal/store"
)

type ProfileState string

const (
	ProfileResolving ProfileState = "resolving"
	ProfilePresent   ProfileState = "present"
	ProfileAbsent    ProfileState = "absent"
)

// ProfileSnapshot is the profile mirror's observable state. Profile is
// non-nil exactly when State is ProfilePresent.
type ProfileSnapshot struct {
	State   ProfileState
	Profile *store.Profile
}

// ProfileSource is the document-store capability the mirror consumes.
type ProfileSource interface {
	SubscribeProfile(ctx context.Context, userID string) (<-chan store.ProfileUpdate, func(), error)
}

// ProfileMirror follows the session's identity and mirrors that identity's
// profile record. It holds at most one live subscription at a time: on
// identity change the old subscription is torn down before the new one
// attaches, and an epoch counter discards anything a torn-down subscription
// still manages to deliver. Subscription errors degrade to absent; the
// mirror never surfaces a transport error to consumers.
type ProfileMirror struct {
	source ProfileSource

	mu       sync.Mutex
	snap     ProfileSnapshot
	watchers map[chan ProfileSnapshot]struct{}
	closed   bool

	inbox    chan profileDelivery
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type profileDelivery struct {
	epoch  uint64
	update store.ProfileUpdate
}

func NewProfileMirror(sessions <-chan SessionSnapshot, source ProfileSource) *ProfileMirror {
	m := &ProfileMirror{
		source:   source,
		snap:     ProfileSnapshot{State: ProfileResolving},
		watchers: make(map[chan ProfileSnapshot]struct{}),
		inbox:    make(chan profileDelivery),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run(sessions)
	return m
}

func (m *ProfileMirror) run(sessions <-chan SessionSnapshot) {
	defer close(m.done)

	var (
		epoch     uint64
		currentID string
		attached  bool
		teardown  func()
	)
	release := func() {
		if teardown != nil {
			teardown()
			teardown = nil
		}
	}
	defer release()
	defer m.closeWatchers()

	for {
		select {
		case <-m.stop:
			return

		case snap, ok := <-sessions:
			if !ok {
				return
			}
			if snap.Resolving {
				continue
			}
			id := ""
			if snap.Identity != nil {
				id = snap.Identity.ID
			}
			if attached && id == currentID {
				continue
			}
			attached = true
			currentID = id

			// Old subscription first, so two subscriptions for different
			// identities never overlap.
			release()
			epoch++

			if id == "" {
				m.publish(ProfileSnapshot{State: ProfileAbsent})
				continue
			}
			m.publish(ProfileSnapshot{State: ProfileResolving})

			ctx, cancel := context.WithCancel(context.Background())
			updates, releaseSub, err := m.source.SubscribeProfile(ctx, id)
			if err != nil {
				cancel()
				log.Printf("mirror: subscribe profile %s: %v", id, err)
				m.publish(ProfileSnapshot{State: ProfileAbsent})
				continue
			}
			teardown = func() {
				cancel()
				releaseSub()
			}
			go forwardProfile(epoch, updates, m.inbox, ctx.Done())

		case delivery := <-m.inbox:
			if delivery.epoch != epoch {
				// Late delivery from an abandoned subscription.
				continue
			}
			m.publish(profileSnapshotFor(delivery.update))
		}
	}
}

func profileSnapshotFor(update store.ProfileUpdate) ProfileSnapshot {
	if update.Err != nil {
		log.Printf("mirror: profile update: %v", update.Err)
		return ProfileSnapshot{State: ProfileAbsent}
	}
	if update.Profile == nil {
		return ProfileSnapshot{State: ProfileAbsent}
	}
	return ProfileSnapshot{State: ProfilePresent, Profile: update.Profile}
}

func forwardProfile(epoch uint64, updates <-chan store.ProfileUpdate, inbox chan<- profileDelivery, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			select {
			case inbox <- profileDelivery{epoch: epoch, update: update}:
			case <-done:
				return
			}
		}
	}
}

func (m *ProfileMirror) publish(snap ProfileSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	for ch := range m.watchers {
		pushProfile(ch, snap)
	}
}

func (m *ProfileMirror) closeWatchers() {
	m.mu.Lock()
	m.closed = true
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = make(map[chan ProfileSnapshot]struct{})
	m.mu.Unlock()
}

// Current returns the latest snapshot.
func (m *ProfileMirror) Current() ProfileSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Watch returns a conflated snapshot stream primed with the current state.
func (m *ProfileMirror) Watch() (<-chan ProfileSnapshot, func()) {
	ch := make(chan ProfileSnapshot, 1)

	m.mu.Lock()
	// closed, not done, gates registration: done closes outside the lock,
	// so checking it here could register a watcher nothing will ever close.
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.watchers[ch] = struct{}{}
	pushProfile(ch, m.snap)
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		if _, ok := m.watchers[ch]; ok {
			delete(m.watchers, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// Close tears the mirror down, releasing any live subscription.
func (m *ProfileMirror) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func pushProfile(ch chan ProfileSnapshot, snap ProfileSnapshot) {
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
