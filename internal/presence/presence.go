// Package presence publishes connection/typing ephemera. The whole feature
// sits behind a flag that defaults to off: with the flag down every query
// returns a fixed offline/empty result and every write is a no-op. That
// short-circuit is part of the contract, not a degraded mode.
package presence

import (
	"context"
	"fmt"
	"log"
	"sync"

	"casechat/internal/domain"
)

// Signaler tracks online state and room-scoped typing flags for the
// authenticated users of a process. One instance serves every connection, so
// all lifecycle state is keyed by user: stopping one user releases only that
// user's compensations and typing flags. Online state self-heals: a
// compensating offline write is registered with the store at connection time,
// so ungraceful termination still flips the user offline server-side. Typing
// flags have no automatic timeout; callers clear them, and a disconnect
// compensation removes whatever is left.
type Signaler struct {
	store   domain.PresenceStore
	enabled bool

	mu      sync.Mutex
	cancels map[string][]func()            // userID -> compensation cancels
	typing  map[string]map[string]struct{} // roomID -> users with an active flag
}

func NewSignaler(store domain.PresenceStore, enabled bool) *Signaler {
	return &Signaler{
		store:   store,
		enabled: enabled,
		cancels: make(map[string][]func()),
		typing:  make(map[string]map[string]struct{}),
	}
}

// Enabled reports whether the feature flag is up.
func (s *Signaler) Enabled() bool {
	return s.enabled
}

// Start marks the user online and registers the compensating offline write.
func (s *Signaler) Start(ctx context.Context, userID string) error {
	if !s.enabled {
		return nil
	}
	if err := s.store.SetOnline(ctx, userID, true); err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	cancel := s.store.RegisterDisconnect(func(ctx context.Context) {
		if err := s.store.SetOnline(ctx, userID, false); err != nil {
			log.Printf("presence: disconnect offline write for %s: %v", userID, err)
		}
	})
	s.mu.Lock()
	s.cancels[userID] = append(s.cancels[userID], cancel)
	s.mu.Unlock()
	return nil
}

// Stop marks the user offline immediately, clears their typing flags and
// drops their registered compensations. Other users' state is untouched.
func (s *Signaler) Stop(ctx context.Context, userID string) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	cancels := s.cancels[userID]
	delete(s.cancels, userID)
	var rooms []string
	for roomID, users := range s.typing {
		if _, ok := users[userID]; ok {
			delete(users, userID)
			if len(users) == 0 {
				delete(s.typing, roomID)
			}
			rooms = append(rooms, roomID)
		}
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, roomID := range rooms {
		if err := s.store.SetTyping(ctx, roomID, userID, false); err != nil {
			log.Printf("presence: clear typing in %s: %v", roomID, err)
		}
	}
	if err := s.store.SetOnline(ctx, userID, false); err != nil {
		log.Printf("presence: set offline for %s: %v", userID, err)
	}
}

// IsOnline reports the user's live state. Flag down: always offline.
func (s *Signaler) IsOnline(ctx context.Context, userID string) (bool, error) {
	if !s.enabled {
		return false, nil
	}
	return s.store.IsOnline(ctx, userID)
}

// SetTyping raises or clears the user's typing flag in a room. The first
// raise per room and user registers a compensating removal for disconnects.
func (s *Signaler) SetTyping(ctx context.Context, roomID, userID string, typing bool) error {
	if !s.enabled {
		return nil
	}
	if err := s.store.SetTyping(ctx, roomID, userID, typing); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if typing {
		users := s.typing[roomID]
		if users == nil {
			users = make(map[string]struct{})
			s.typing[roomID] = users
		}
		if _, seen := users[userID]; !seen {
			cancel := s.store.RegisterDisconnect(func(ctx context.Context) {
				if err := s.store.SetTyping(ctx, roomID, userID, false); err != nil {
					log.Printf("presence: disconnect typing removal in %s: %v", roomID, err)
				}
			})
			s.cancels[userID] = append(s.cancels[userID], cancel)
		}
		users[userID] = struct{}{}
	} else if users := s.typing[roomID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(s.typing, roomID)
		}
	}
	return nil
}

// TypingUsers lists users with an active typing flag in the room. Flag down:
// always empty.
func (s *Signaler) TypingUsers(ctx context.Context, roomID string) ([]string, error) {
	if !s.enabled {
		return nil, nil
	}
	return s.store.TypingUsers(ctx, roomID)
}
