package core

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/domain"
)

// Signaling message kinds. The envelope discriminator field is "id".
const (
	KindJoinRoom             = "JOIN_ROOM"
	KindExistingParticipants = "EXISTING_PARTICIPANTS"
	KindNewParticipant       = "NEW_PARTICIPANT"
	KindParticipantLeft      = "PARTICIPANT_LEFT"
	KindReceiveVideoFrom     = "RECEIVE_VIDEO_FROM"
	KindReceiveVideoAnswer   = "RECEIVE_VIDEO_ANSWER"
	KindIceCandidate         = "ICE_CANDIDATE"
	KindLeaveRoom            = "LEAVE_ROOM"
	KindToggleCam            = "TOGGLE_CAM"
	KindToggleMic            = "TOGGLE_MIC"
	KindToggleSpeaker        = "TOGGLE_SPEAKER"
	KindError                = "ERROR"
)

// Envelope carries only the discriminator, enough to route a raw frame.
type Envelope struct {
	ID string `json:"id"`
}

type ExistingParticipantsMsg struct {
	ID   string           `json:"id"`
	Data []domain.Profile `json:"data"`
}

type NewParticipantMsg struct {
	ID   string         `json:"id"`
	Data domain.Profile `json:"data"`
}

type ParticipantLeftMsg struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ReceiveVideoAnswerMsg struct {
	ID             string        `json:"id"`
	UserID         domain.UserID `json:"userId"`
	Name           string        `json:"name"`
	ProfileImage   *string       `json:"profileImage"`
	CamEnabled     bool          `json:"camEnabled"`
	MicEnabled     bool          `json:"micEnabled"`
	SpeakerEnabled bool          `json:"speakerEnabled"`
	SdpAnswer      string        `json:"sdpAnswer"`
}

type IceCandidateMsg struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ToggleMsg struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

type ErrorMsg struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Marshal encodes v into a Frame. A failure here is a programming error;
// it is logged and the send path treats the nil frame as a no-op.
func Marshal(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core").Msg("marshal signaling message")
		return nil
	}
	return Frame(b)
}
