package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"brightnest/api/internal/mirror"
)

// handleStream serves a server-sent-events feed of the caller's live state:
// session, profile, and child set. Each connection owns its own mirror set,
// torn down on disconnect. The session event degrades to signed-out when the
// access token expires mid-stream.
func (s *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request, session Session) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Identity provider for this connection: the authenticated identity now,
	// signed-out at token expiry.
	identities := make(chan *mirror.Identity, 1)
	identities <- &mirror.Identity{
		ID:          session.UserID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
	}
	expiry := time.NewTimer(time.Until(session.ExpiresAt))
	defer expiry.Stop()
	go func() {
		defer close(identities)
		select {
		case <-ctx.Done():
		case <-expiry.C:
			select {
			case identities <- nil:
			case <-ctx.Done():
			}
			<-ctx.Done()
		}
	}()

	sessions := mirror.NewSessionStore(identities)
	sessionWatch, releaseSession := sessions.Watch()
	defer releaseSession()

	profileFeed, releaseProfileFeed := sessions.Watch()
	profiles := mirror.NewProfileMirror(profileFeed, s.service.store)
	defer profiles.Close()
	defer releaseProfileFeed()
	profileWatch, releaseProfile := profiles.Watch()
	defer releaseProfile()

	childFeed, releaseChildFeed := sessions.Watch()
	children := mirror.NewChildSetMirror(childFeed, s.service.store)
	defer children.Close()
	defer releaseChildFeed()
	childWatch, releaseChildren := children.Watch()
	defer releaseChildren()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-sessionWatch:
			if !ok {
				return
			}
			writeSSE(w, flusher, "session", sessionEventPayload(snap))

		case snap, ok := <-profileWatch:
			if !ok {
				return
			}
			payload := map[string]any{"state": string(snap.State)}
			if snap.Profile != nil {
				payload["profile"] = profilePayload(*snap.Profile)
			}
			writeSSE(w, flusher, "profile", payload)

		case snap, ok := <-childWatch:
			if !ok {
				return
			}
			items := make([]map[string]any, 0, len(snap.Children))
			for _, child := range snap.Children {
				items = append(items, childPayload(child))
			}
			writeSSE(w, flusher, "children", map[string]any{
				"loading":    snap.Loading,
				"children":   items,
				"selectedId": snap.SelectedID,
			})

		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func sessionEventPayload(snap mirror.SessionSnapshot) map[string]any {
	payload := map[string]any{
		"resolving":     snap.Resolving,
		"authenticated": snap.Identity != nil,
	}
	if snap.Identity != nil {
		payload["userId"] = snap.Identity.ID
		payload["email"] = snap.Identity.Email
		payload["displayName"] = snap.Identity.DisplayName
	}
	return payload
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
