package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the whole connection. A read error means disconnect,
// which triggers the same departure sequence as an explicit LEAVE_ROOM.
func (ctl *Controller) readPump(ctx context.Context, st *connState) {
	defer func() {
		log.Info().Str("module", "signal").Str("token", st.token).Msg("readPump closing")
		if st.session != nil {
			ctl.Registry.Leave(st.session)
			st.session = nil
			st.room = nil
		}
		st.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := st.conn.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").
					Str("token", st.token).Msg("readPump read error")
				return
			}
			ctl.handleMessage(ctx, st, data)
		}
	}
}

func (ctl *Controller) handleMessage(ctx context.Context, st *connState, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(st.conn, "malformed message")
		return
	}

	switch env.ID {
	case core.KindJoinRoom:
		ctl.handleJoin(ctx, st, data)
	case core.KindLeaveRoom:
		ctl.handleLeave(st)
	case core.KindReceiveVideoFrom:
		ctl.handleReceiveVideo(ctx, st, data)
	case core.KindIceCandidate:
		ctl.handleCandidate(st, data)
	case core.KindToggleCam, core.KindToggleMic, core.KindToggleSpeaker:
		ctl.handleToggle(st, env.ID, data)
	default:
		log.Warn().Str("module", "signal").Str("id", env.ID).Msg("unknown signal")
		ctl.sendError(st.conn, "unknown message kind")
	}
}

func (ctl *Controller) sendJSON(c core.SignalConnection, v any) {
	f := core.Marshal(v)
	if f == nil {
		return
	}
	_ = c.TrySend(f)
}

func (ctl *Controller) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, core.ErrorMsg{ID: core.KindError, Message: msg})
}
