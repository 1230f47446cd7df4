package mirror

import (
	"context"
	"log"
	"sort"
	"sync"

	"brightnest/api/internal/store"
)

// ChildSetSnapshot is the child-set mirror's observable state: the ordered
// child set, the active selection, and whether the first batch for the
// current identity is still in flight.
type ChildSetSnapshot struct {
	Loading    bool
	Children   []store.Child
	SelectedID string
}

// ChildrenSource is the live-query capability the mirror consumes.
type ChildrenSource interface {
	SubscribeChildren(ctx context.Context, parentID string) (<-chan store.ChildSetUpdate, func(), error)
}

// ChildSetMirror follows the session's identity and mirrors the live query
// over that identity's children, ordered by name. It applies ReduceSelection
// on every batch, so the active child survives redundant snapshots and falls
// back deterministically when it disappears from the set. Subscription
// discipline matches ProfileMirror: at most one live subscription, epoch
// guard against late deliveries.
type ChildSetMirror struct {
	source ChildrenSource

	mu       sync.Mutex
	snap     ChildSetSnapshot
	watchers map[chan ChildSetSnapshot]struct{}
	closed   bool

	inbox    chan childSetDelivery
	selects  chan string
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type childSetDelivery struct {
	epoch  uint64
	update store.ChildSetUpdate
}

func NewChildSetMirror(sessions <-chan SessionSnapshot, source ChildrenSource) *ChildSetMirror {
	m := &ChildSetMirror{
		source:   source,
		snap:     ChildSetSnapshot{Loading: true},
		watchers: make(map[chan ChildSetSnapshot]struct{}),
		inbox:    make(chan childSetDelivery),
		selects:  make(chan string),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.run(sessions)
	return m
}

func (m *ChildSetMirror) run(sessions <-chan SessionSnapshot) {
	defer close(m.done)

	var (
		epoch     uint64
		currentID string
		attached  bool
		selected  string
		children  []store.Child
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

			release()
			epoch++
			children = nil
			selected = ""

			if id == "" {
				m.publish(ChildSetSnapshot{Loading: false})
				continue
			}
			m.publish(ChildSetSnapshot{Loading: true})

			ctx, cancel := context.WithCancel(context.Background())
			updates, releaseSub, err := m.source.SubscribeChildren(ctx, id)
			if err != nil {
				cancel()
				log.Printf("mirror: subscribe children %s: %v", id, err)
				m.publish(ChildSetSnapshot{Loading: false})
				continue
			}
			teardown = func() {
				cancel()
				releaseSub()
			}
			go forwardChildSet(epoch, updates, m.inbox, ctx.Done())

		case delivery := <-m.inbox:
			if delivery.epoch != epoch {
				continue
			}
			if delivery.update.Err != nil {
				// Keep the last good set; the query re-fires on the next
				// change notification.
				log.Printf("mirror: children update: %v", delivery.update.Err)
				m.publish(ChildSetSnapshot{Loading: false, Children: children, SelectedID: selected})
				continue
			}
			children = orderChildren(delivery.update.Children)
			selected = ReduceSelection(children, selected)
			m.publish(ChildSetSnapshot{Loading: false, Children: children, SelectedID: selected})

		case id := <-m.selects:
			selected = ReduceSelection(children, id)
			m.publish(ChildSetSnapshot{Loading: false, Children: children, SelectedID: selected})
		}
	}
}

// orderChildren pins the display order regardless of arrival order. The
// backing query already sorts, but the order is part of this mirror's
// contract, so it does not depend on the source honoring it.
func orderChildren(children []store.Child) []store.Child {
	ordered := make([]store.Child, len(children))
	copy(ordered, children)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func forwardChildSet(epoch uint64, updates <-chan store.ChildSetUpdate, inbox chan<- childSetDelivery, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			select {
			case inbox <- childSetDelivery{epoch: epoch, update: update}:
			case <-done:
				return
			}
		}
	}
}

// Select requests a new active child. The request runs through the same
// reducer as live updates, so an identifier outside the current set cannot
// become active.
func (m *ChildSetMirror) Select(childID string) {
	select {
	case m.selects <- childID:
	case <-m.done:
	}
}

func (m *ChildSetMirror) publish(snap ChildSetSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	for ch := range m.watchers {
		pushChildSet(ch, snap)
	}
}

func (m *ChildSetMirror) closeWatchers() {
	m.mu.Lock()
	m.closed = true
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = make(map[chan ChildSetSnapshot]struct{})
	m.mu.Unlock()
}

// Current returns the latest snapshot.
func (m *ChildSetMirror) Current() ChildSetSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Watch returns a conflated snapshot stream primed with the current state.
func (m *ChildSetMirror) Watch() (<-chan ChildSetSnapshot, func()) {
	ch := make(chan ChildSetSnapshot, 1)

	m.mu.Lock()
	// closed, not done, gates registration: done closes outside the lock,
	// so checking it here could register a watcher nothing will ever close.
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.watchers[ch] = struct{}{}
	pushChildSet(ch, m.snap)
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
func (m *ChildSetMirror) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func pushChildSet(ch chan ChildSetSnapshot, snap ChildSetSnapshot) {
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
