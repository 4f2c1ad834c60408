package chat

import (
	"fmt"
	"slices"
	"sync"

	"github.com/edufund/supportchat/backend/internal/auth"
)

// State is where a websocket session is in its lifecycle.
type State string

const (
	Connected     State = "CONNECTED"
	Authenticated State = "AUTHENTICATED"
	Disconnected  State = "DISCONNECTED"
)

var validTransitions = map[State][]State{
	Connected:     {Authenticated, Disconnected},
	Authenticated: {Disconnected},
	Disconnected:  {},
}

// Session is the per-connection state: who is on the other end and which
// rooms the connection joined. Room membership requires Authenticated.
type Session struct {
	mu       sync.RWMutex
	state    State
	identity auth.Identity
	rooms    map[string]struct{}
}

func NewSession() *Session {
	return &Session{state: Connected, rooms: make(map[string]struct{})}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Identity() auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

func (s *Session) transition(to State) error {
	if !slices.Contains(validTransitions[s.state], to) {
		return fmt.Errorf("invalid transition from %s to %s", s.state, to)
	}
	s.state = to
	return nil
}

// Authenticate binds the identity. A session authenticates once.
func (s *Session) Authenticate(id auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(Authenticated); err != nil {
		return err
	}
	s.identity = id
	return nil
}

// Disconnect is terminal and discards every membership. It reports whether
// the session was authenticated.
func (s *Session) Disconnect() (wasAuthenticated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasAuthenticated = s.state == Authenticated
	if s.transition(Disconnected) == nil {
		clear(s.rooms)
	}
	return wasAuthenticated
}

func (s *Session) Join(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return fmt.Errorf("join %s in state %s", room, s.state)
	}
	s.rooms[room] = struct{}{}
	return nil
}

// Leave reports whether the session was in room.
func (s *Session) Leave(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[room]
	delete(s.rooms, room)
	return ok
}

func (s *Session) InRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}
