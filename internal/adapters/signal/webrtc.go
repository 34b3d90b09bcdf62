package signal

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleReceiveVideo(ctx context.Context, st *connState, data []byte) {
	if st.session == nil {
		ctl.sendError(st.conn, "not in a room")
		return
	}

	type receiveVideoPayload struct {
		ID         string `json:"id"`
		SenderName string `json:"senderName"`
		SdpOffer   string `json:"sdpOffer"`
	}
	var p receiveVideoPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad receive video payload")
		ctl.sendError(st.conn, "bad payload")
		return
	}

	sender := st.session
	if p.SenderName != st.session.Name() {
		peer, ok := st.room.Member(p.SenderName)
		if !ok {
			ctl.sendError(st.conn, "unknown peer: "+p.SenderName)
			return
		}
		sender = peer
	}

	if err := st.session.ReceiveMediaFrom(ctx, sender, p.SdpOffer); err != nil {
		// Relay failures stay local to the requester.
		log.Warn().Err(err).Str("module", "signal").
			Str("from", p.SenderName).Str("to", st.session.Name()).
			Msg("negotiation failed")
		ctl.sendError(st.conn, "negotiation failed")
	}
}

func (ctl *Controller) handleCandidate(st *connState, data []byte) {
	if st.session == nil {
		ctl.sendError(st.conn, "not in a room")
		return
	}

	type candidatePayload struct {
		ID        string                  `json:"id"`
		Name      string                  `json:"name"`
		Candidate webrtc.ICECandidateInit `json:"candidate"`
	}
	var p candidatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		ctl.sendError(st.conn, "bad payload")
		return
	}

	if err := st.session.AddIceCandidate(p.Candidate, p.Name); err != nil {
		log.Warn().Err(err).Str("module", "signal").
			Str("target", p.Name).Msg("add ice candidate")
	}
}
