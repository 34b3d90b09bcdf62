package domain

import "errors"

var (
	// ErrDuplicateParticipant: a session with the same (name, room) key
	// is already a member of the room.
	ErrDuplicateParticipant = errors.New("participant with this name already in room")

	// ErrRoomClosed: the room went empty and was released between lookup
	// and join; the caller should fetch a fresh room.
	ErrRoomClosed = errors.New("room closed")

	// ErrNotInRoom: a room-scoped message arrived before JOIN_ROOM.
	ErrNotInRoom = errors.New("session is not in a room")

	// ErrUnknownPeer: negotiation names a participant the room does not have.
	ErrUnknownPeer = errors.New("unknown peer")

	ErrNameEmpty   = errors.New("participant name empty")
	ErrNameTooLong = errors.New("participant name too long")
)

const MaxNameLen = 36

// ValidateName checks the externally supplied display name.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	return nil
}
