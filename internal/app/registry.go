package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
	"github.com/bluestarfish/blueberry/internal/domain"
)

// roomEntry makes room (and pipeline) creation a compute-once operation:
// N simultaneous first-joiners all wait on the same Once and observe the
// same pipeline.
type roomEntry struct {
	once sync.Once
	room *Room
	err  error
}

// Registry is the process-wide room table. A room is present iff it has at
// least one member or is mid-creation.
type Registry struct {
	relay core.MediaRelay

	mu    sync.Mutex
	rooms map[domain.RoomName]*roomEntry
}

func NewRegistry(relay core.MediaRelay) *Registry {
	return &Registry{
		relay: relay,
		rooms: make(map[domain.RoomName]*roomEntry),
	}
}

// GetOrCreate returns the room, allocating it and its pipeline exactly once
// per name. The pipeline call runs outside the registry lock.
func (r *Registry) GetOrCreate(ctx context.Context, name domain.RoomName) (*Room, error) {
	r.mu.Lock()
	e, ok := r.rooms[name]
	if !ok {
		e = &roomEntry{}
		r.rooms[name] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		pipeline, err := r.relay.CreatePipeline(ctx)
		if err != nil {
			e.err = err
			return
		}
		e.room = NewRoom(name, pipeline)
		log.Info().Str("module", "app.registry").
			Str("room", string(name)).Msg("room created")
	})

	if e.err != nil {
		r.mu.Lock()
		if r.rooms[name] == e {
			delete(r.rooms, name)
		}
		r.mu.Unlock()
		return nil, e.err
	}
	return e.room, nil
}

// Get returns the room without creating it.
func (r *Registry) Get(name domain.RoomName) (*Room, bool) {
	r.mu.Lock()
	e, ok := r.rooms[name]
	r.mu.Unlock()
	if !ok || e.room == nil {
		return nil, false
	}
	return e.room, true
}

// Join creates the session in the named room. A room that went empty and
// got released between lookup and join is retried against a fresh one.
func (r *Registry) Join(
	ctx context.Context,
	name domain.RoomName,
	profile domain.Profile,
	signal core.SignalConnection,
) (*Room, *Session, error) {
	for {
		room, err := r.GetOrCreate(ctx, name)
		if err != nil {
			return nil, nil, err
		}

		sess, err := NewSession(ctx, profile, name, room.Pipeline(), signal)
		if err != nil {
			r.ReleaseIfEmpty(name)
			return nil, nil, err
		}

		err = room.Join(sess)
		if errors.Is(err, domain.ErrRoomClosed) {
			sess.Close()
			continue
		}
		if err != nil {
			sess.Close()
			r.ReleaseIfEmpty(name)
			return nil, nil, err
		}
		return room, sess, nil
	}
}

// ReleaseIfEmpty removes the room and releases its pipeline once the member
// set is empty. Safe to call after every departure; idempotent.
func (r *Registry) ReleaseIfEmpty(name domain.RoomName) {
	r.mu.Lock()
	e, ok := r.rooms[name]
	if !ok || e.room == nil || !e.room.closeIfEmpty() {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, name)
	r.mu.Unlock()

	if err := e.room.Pipeline().Release(); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").
			Str("room", string(name)).Msg("pipeline release failed")
		return
	}
	log.Info().Str("module", "app.registry").
		Str("room", string(name)).Msg("room released")
}

// Leave runs the full departure sequence for a session.
func (r *Registry) Leave(s *Session) {
	room, ok := r.Get(s.Room())
	if !ok {
		s.Close()
		return
	}
	room.Leave(s)
	r.ReleaseIfEmpty(s.Room())
}

// RoomCount reports how many rooms currently exist.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
