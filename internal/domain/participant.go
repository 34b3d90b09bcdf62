// Package domain contains entity without logic, just meta-data
package domain

type (
	RoomName string
	UserID   int64
)

// ParticipantKey identifies one participant inside one room.
// Two sessions are the same participant iff both fields match.
type ParticipantKey struct {
	Name string
	Room RoomName
}

// Profile is the replicated per-participant state peers see.
type Profile struct {
	UserID         UserID  `json:"userId"`
	Name           string  `json:"name"`
	ProfileImage   *string `json:"profileImage"`
	CamEnabled     bool    `json:"camEnabled"`
	MicEnabled     bool    `json:"micEnabled"`
	SpeakerEnabled bool    `json:"speakerEnabled"`
}

// MediaFlag names one of the toggleable profile booleans.
type MediaFlag string

const (
	FlagCam     MediaFlag = "cam"
	FlagMic     MediaFlag = "mic"
	FlagSpeaker MediaFlag = "speaker"
)
