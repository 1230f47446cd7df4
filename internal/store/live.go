package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"brightnest/api/internal/realtime"
)

// ProfileUpdate is one delivery from a live profile subscription. A nil
// Profile with a nil Err means the record does not exist (a valid state while
// profile creation lags sign-up).
type ProfileUpdate struct {
	Profile *Profile
	Err     error
}

// ChildSetUpdate is one delivery from a live children query: the full result
// set, ordered by name ascending.
type ChildSetUpdate struct {
	Children []Child
	Err      error
}

// SubscribeProfile streams the profile record for userID: the current value
// immediately, then a fresh read after every change notification. Updates are
// delivered in order on a single goroutine. The release function ends the
// subscription and closes the channel.
func (s *PostgresStore) SubscribeProfile(ctx context.Context, userID string) (<-chan ProfileUpdate, func(), error) {
	if s.bus == nil {
		return nil, nil, fmt.Errorf("subscribe profile: no notification bus configured")
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, releaseTopic := s.bus.Subscribe(realtime.ProfileTopic(userID))
	out := make(chan ProfileUpdate, 1)

	go func() {
		defer close(out)
		s.deliverProfile(subCtx, userID, out)
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				s.deliverProfile(subCtx, userID, out)
			}
		}
	}()

	return out, func() {
		cancel()
		releaseTopic()
	}, nil
}

func (s *PostgresStore) deliverProfile(ctx context.Context, userID string, out chan<- ProfileUpdate) {
	update := ProfileUpdate{}
	profile, err := s.GetProfile(ctx, userID)
	switch {
	case err == nil:
		update.Profile = &profile
	case errors.Is(err, sql.ErrNoRows):
		// No profile yet: absent, not an error.
	default:
		update.Err = err
	}
	select {
	case out <- update:
	case <-ctx.Done():
	}
}

// SubscribeChildren streams the ordered child set owned by parentID, with the
// same delivery contract as SubscribeProfile. The filter lives in the query,
// so a subscriber can never observe another parent's children.
func (s *PostgresStore) SubscribeChildren(ctx context.Context, parentID string) (<-chan ChildSetUpdate, func(), error) {
	if s.bus == nil {
		return nil, nil, fmt.Errorf("subscribe children: no notification bus configured")
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, releaseTopic := s.bus.Subscribe(realtime.ChildrenTopic(parentID))
	out := make(chan ChildSetUpdate, 1)

	go func() {
		defer close(out)
		s.deliverChildren(subCtx, parentID, out)
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				s.deliverChildren(subCtx, parentID, out)
			}
		}
	}()

	return out, func() {
		cancel()
		releaseTopic()
	}, nil
}

func (s *PostgresStore) deliverChildren(ctx context.Context, parentID string, out chan<- ChildSetUpdate) {
	children, err := s.ListChildren(ctx, parentID)
	update := ChildSetUpdate{Children: children, Err: err}
	select {
	case out <- update:
	case <-ctx.Done():
	}
}
