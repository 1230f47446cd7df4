package mirror

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStoreStartsResolving(t *testing.T) {
	events := make(chan *Identity)
	defer close(events)
	s := NewSessionStore(events)

	identity, resolving := s.Current()
	if identity != nil || !resolving {
		t.Fatalf("expected absent+resolving before first event, got %v resolving=%v", identity, resolving)
	}
}

func TestSessionStoreReflectsMostRecentEvent(t *testing.T) {
	events := make(chan *Identity)
	s := NewSessionStore(events)

	events <- &Identity{ID: "u1"}
	events <- &Identity{ID: "u2"}
	events <- nil
	events <- &Identity{ID: "u3"}
	close(events)

	waitFor(t, "final identity", func() bool {
		identity, resolving := s.Current()
		return !resolving && identity != nil && identity.ID == "u3"
	})
}

func TestSessionStoreSignOutClearsIdentity(t *testing.T) {
	events := make(chan *Identity)
	defer close(events)
	s := NewSessionStore(events)

	events <- &Identity{ID: "u1"}
	waitFor(t, "signed in", func() bool {
		identity, _ := s.Current()
		return identity != nil
	})

	events <- nil
	waitFor(t, "signed out", func() bool {
		identity, resolving := s.Current()
		return identity == nil && !resolving
	})
}

func TestSessionStoreFailsOpenToSignedOut(t *testing.T) {
	// A provider that could not attach closes the stream without ever
	// delivering. Consumers must still reach a definite signed-out state.
	events := make(chan *Identity)
	s := NewSessionStore(events)
	close(events)

	waitFor(t, "fail open", func() bool {
		identity, resolving := s.Current()
		return identity == nil && !resolving
	})
	<-s.Done()
}

func TestSessionStoreWatchDuringShutdownAlwaysCloses(t *testing.T) {
	// A Watch racing with the stream ending must hand back a channel that
	// still closes, whether it registered just before or just after the
	// store shut its watchers down.
	for i := 0; i < 200; i++ {
		events := make(chan *Identity)
		s := NewSessionStore(events)

		go close(events)
		watch, _ := s.Watch()

		drained := make(chan struct{})
		go func() {
			for range watch {
			}
			close(drained)
		}()

		select {
		case <-drained:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: watcher channel never closed", i)
		}
	}
}

func TestSessionStoreWatchPrimesAndConflates(t *testing.T) {
	events := make(chan *Identity)
	s := NewSessionStore(events)

	events <- &Identity{ID: "u1"}
	waitFor(t, "signed in", func() bool {
		identity, _ := s.Current()
		return identity != nil
	})

	watch, release := s.Watch()
	defer release()

	snap := <-watch
	if snap.Resolving || snap.Identity == nil || snap.Identity.ID != "u1" {
		t.Fatalf("expected primed snapshot for u1, got %+v", snap)
	}

	// A watcher that never reads still observes the latest value only.
	events <- &Identity{ID: "u2"}
	events <- &Identity{ID: "u3"}
	close(events)

	waitFor(t, "conflated snapshot", func() bool {
		select {
		case got, ok := <-watch:
			return ok && got.Identity != nil && got.Identity.ID == "u3"
		default:
			return false
		}
	})
}
