package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
	"github.com/bluestarfish/blueberry/internal/domain"
)

// Room owns the member set and the one pipeline shared by the room.
// It never outlives its membership: once the last member leaves the
// registry marks it closed and releases the pipeline.
type Room struct {
	name     domain.RoomName
	pipeline core.Pipeline

	mu      sync.RWMutex
	members map[string]*Session
	closed  bool
}

func NewRoom(name domain.RoomName, pipeline core.Pipeline) *Room {
	return &Room{
		name:     name,
		pipeline: pipeline,
		members:  make(map[string]*Session),
	}
}

func (r *Room) Name() domain.RoomName   { return r.name }
func (r *Room) Pipeline() core.Pipeline { return r.pipeline }

func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Member looks up a current member by display name.
func (r *Room) Member(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.members[name]
	return s, ok
}

// Join registers the session and notifies the room. The joiner gets the
// existing-member snapshot before anyone else learns about the joiner, so
// no peer negotiates toward an unregistered session.
func (r *Room) Join(s *Session) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrRoomClosed
	}
	if _, ok := r.members[s.Name()]; ok {
		r.mu.Unlock()
		return domain.ErrDuplicateParticipant
	}
	existing := make([]domain.Profile, 0, len(r.members))
	for _, m := range r.members {
		existing = append(existing, m.Profile())
	}
	r.members[s.Name()] = s
	r.mu.Unlock()

	s.markActive()
	log.Info().Str("module", "app.room").
		Str("room", string(r.name)).Str("name", s.Name()).
		Int("existing", len(existing)).Msg("participant joined")

	s.Send(core.Marshal(core.ExistingParticipantsMsg{
		ID:   core.KindExistingParticipants,
		Data: existing,
	}))

	r.Broadcast(core.Marshal(core.NewParticipantMsg{
		ID:   core.KindNewParticipant,
		Data: s.Profile(),
	}), s.Name())

	return nil
}

// Leave removes the session, detaches the leaver's media from every
// remaining member, announces the departure, and closes the session.
// The caller is responsible for Registry.ReleaseIfEmpty afterwards.
func (r *Room) Leave(s *Session) {
	r.mu.Lock()
	if _, ok := r.members[s.Name()]; !ok {
		r.mu.Unlock()
		s.Close()
		return
	}
	delete(r.members, s.Name())
	remaining := make([]*Session, 0, len(r.members))
	for _, m := range r.members {
		remaining = append(remaining, m)
	}
	r.mu.Unlock()

	log.Info().Str("module", "app.room").
		Str("room", string(r.name)).Str("name", s.Name()).
		Int("remaining", len(remaining)).Msg("participant left")

	left := core.Marshal(core.ParticipantLeftMsg{
		ID:   core.KindParticipantLeft,
		Name: s.Name(),
	})
	for _, m := range remaining {
		m.CancelMediaFrom(s.Name())
		m.Send(left)
	}

	s.Close()
}

// Broadcast sends the frame to every current member except excluding.
// Delivery is best-effort per member; a failed send never aborts the rest.
func (r *Room) Broadcast(f core.Frame, excluding string) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.members))
	for name, m := range r.members {
		if name == excluding {
			continue
		}
		targets = append(targets, m)
	}
	r.mu.RUnlock()

	for _, m := range targets {
		m.Send(f)
	}
}

// ToggleFlag mutates one of the session's profile booleans and replicates
// the change to the rest of the room.
func (r *Room) ToggleFlag(s *Session, flag domain.MediaFlag, value bool) {
	s.SetFlag(flag, value)
	r.Broadcast(core.Marshal(core.ToggleMsg{
		ID:    toggleKind(flag),
		Name:  s.Name(),
		Value: value,
	}), s.Name())
}

func toggleKind(flag domain.MediaFlag) string {
	switch flag {
	case domain.FlagMic:
		return core.KindToggleMic
	case domain.FlagSpeaker:
		return core.KindToggleSpeaker
	default:
		return core.KindToggleCam
	}
}

// closeIfEmpty marks the room closed iff it has no members. Called with the
// registry lock held so emptiness and removal stay atomic.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.closed {
		return false
	}
	r.closed = true
	return true
}
