package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
	"github.com/bluestarfish/blueberry/internal/domain"
)

func (ctl *Controller) handleJoin(ctx context.Context, st *connState, data []byte) {
	if st.session != nil {
		ctl.sendError(st.conn, "already in a room")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(st.token) {
		ctl.sendError(st.conn, "too many join attempts")
		return
	}

	type joinPayload struct {
		ID             string        `json:"id"`
		RoomID         string        `json:"roomId"`
		UserID         domain.UserID `json:"userId"`
		Name           string        `json:"name"`
		ProfileImage   *string       `json:"profileImage"`
		CamEnabled     bool          `json:"camEnabled"`
		MicEnabled     bool          `json:"micEnabled"`
		SpeakerEnabled bool          `json:"speakerEnabled"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(st.conn, "bad payload")
		return
	}
	if p.RoomID == "" {
		ctl.sendError(st.conn, "roomId required")
		return
	}
	if err := domain.ValidateName(p.Name); err != nil {
		ctl.sendError(st.conn, err.Error())
		return
	}

	profile := domain.Profile{
		UserID:         p.UserID,
		Name:           p.Name,
		ProfileImage:   p.ProfileImage,
		CamEnabled:     p.CamEnabled,
		MicEnabled:     p.MicEnabled,
		SpeakerEnabled: p.SpeakerEnabled,
	}

	log.Info().Str("module", "signal").
		Str("room", p.RoomID).Str("name", p.Name).Msg("join")

	room, sess, err := ctl.Registry.Join(ctx, domain.RoomName(p.RoomID), profile, st.conn)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").
			Str("room", p.RoomID).Str("name", p.Name).Msg("join rejected")
		ctl.sendError(st.conn, err.Error())
		return
	}
	st.session = sess
	st.room = room
}

// handleLeave exits the current room; the connection stays open.
func (ctl *Controller) handleLeave(st *connState) {
	if st.session == nil {
		ctl.sendError(st.conn, "not in a room")
		return
	}
	log.Info().Str("module", "signal").
		Str("name", st.session.Name()).Msg("leave")
	ctl.Registry.Leave(st.session)
	st.session = nil
	st.room = nil
}

func (ctl *Controller) handleToggle(st *connState, kind string, data []byte) {
	if st.session == nil {
		ctl.sendError(st.conn, "not in a room")
		return
	}

	type togglePayload struct {
		ID    string `json:"id"`
		Value bool   `json:"value"`
	}
	var p togglePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad toggle payload")
		ctl.sendError(st.conn, "bad payload")
		return
	}

	var flag domain.MediaFlag
	switch kind {
	case core.KindToggleCam:
		flag = domain.FlagCam
	case core.KindToggleMic:
		flag = domain.FlagMic
	case core.KindToggleSpeaker:
		flag = domain.FlagSpeaker
	}
	st.room.ToggleFlag(st.session, flag, p.Value)
}
