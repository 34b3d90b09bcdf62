package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
	"github.com/bluestarfish/blueberry/internal/domain"
)

// SessionState tracks the one-way lifecycle of a participant session.
type SessionState int32

const (
	StateJoining SessionState = iota
	StateActive
	StateLeaving
	StateClosed
)

// maxPendingCandidates bounds the buffer for candidates that arrive before
// their target endpoint exists.
const maxPendingCandidates = 64

// Session is one participant's presence inside one room. It owns the one
// outgoing endpoint, created here and released only at Close, and a table of
// incoming endpoints keyed by the remote participant's display name.
type Session struct {
	room     domain.RoomName
	signal   core.SignalConnection
	pipeline core.Pipeline
	outgoing core.Endpoint

	mu       sync.Mutex
	profile  domain.Profile
	incoming map[string]core.Endpoint
	// pending holds remote candidates whose target endpoint does not exist
	// yet; drained by endpointFor right after creation.
	pending map[string][]webrtc.ICECandidateInit

	state atomic.Int32
}

// NewSession builds the session and its outgoing endpoint. The outgoing
// endpoint forwards every discovered local candidate to this participant,
// tagged with its own name.
func NewSession(
	ctx context.Context,
	profile domain.Profile,
	room domain.RoomName,
	pipeline core.Pipeline,
	signal core.SignalConnection,
) (*Session, error) {
	out, err := pipeline.CreateEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	s := &Session{
		room:     room,
		signal:   signal,
		pipeline: pipeline,
		outgoing: out,
		profile:  profile,
		incoming: make(map[string]core.Endpoint),
		pending:  make(map[string][]webrtc.ICECandidateInit),
	}

	out.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		s.Send(core.Marshal(core.IceCandidateMsg{
			ID:        core.KindIceCandidate,
			Name:      profile.Name,
			Candidate: ci,
		}))
	})

	log.Info().Str("module", "app.session").
		Str("room", string(room)).Str("name", profile.Name).
		Msg("session created")
	return s, nil
}

func (s *Session) Name() string          { return s.profile.Name }
func (s *Session) Room() domain.RoomName { return s.room }

// Key returns the identity this session occupies in its room.
func (s *Session) Key() domain.ParticipantKey {
	return domain.ParticipantKey{Name: s.profile.Name, Room: s.room}
}

// Profile returns a copy of the replicated participant state.
func (s *Session) Profile() domain.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// SetFlag mutates one of the toggleable profile booleans.
func (s *Session) SetFlag(flag domain.MediaFlag, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch flag {
	case domain.FlagCam:
		s.profile.CamEnabled = value
	case domain.FlagMic:
		s.profile.MicEnabled = value
	case domain.FlagSpeaker:
		s.profile.SpeakerEnabled = value
	}
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) markActive() {
	s.state.CompareAndSwap(int32(StateJoining), int32(StateActive))
}

// Send hands one outbound frame to the serialized writer. Send failures are
// local to this participant and only logged.
func (s *Session) Send(f core.Frame) {
	if f == nil {
		return
	}
	if err := s.signal.TrySend(f); err != nil {
		log.Debug().Err(err).Str("module", "app.session").
			Str("name", s.profile.Name).Msg("send failed")
	}
}

// ReceiveMediaFrom negotiates the media link carrying sender's stream toward
// this session. The answer goes back over this session's own channel;
// candidate gathering starts only after the answer exists.
func (s *Session) ReceiveMediaFrom(ctx context.Context, sender *Session, sdpOffer string) error {
	log.Info().Str("module", "app.session").
		Str("room", string(s.room)).
		Str("from", sender.Name()).Str("to", s.profile.Name).
		Msg("offer received")

	ep, err := s.endpointFor(ctx, sender)
	if err != nil {
		return err
	}

	answer, err := ep.ProcessOffer(ctx, sdpOffer)
	if err != nil {
		return err
	}

	p := sender.Profile()
	s.Send(core.Marshal(core.ReceiveVideoAnswerMsg{
		ID:             core.KindReceiveVideoAnswer,
		UserID:         p.UserID,
		Name:           p.Name,
		ProfileImage:   p.ProfileImage,
		CamEnabled:     p.CamEnabled,
		MicEnabled:     p.MicEnabled,
		SpeakerEnabled: p.SpeakerEnabled,
		SdpAnswer:      answer,
	}))

	return ep.GatherCandidates()
}

// endpointFor returns the endpoint receiving sender's media, creating it on
// first use. The self case maps to the outgoing endpoint. At most one
// incoming endpoint ever exists per sender name.
func (s *Session) endpointFor(ctx context.Context, sender *Session) (core.Endpoint, error) {
	if sender.Name() == s.profile.Name {
		return s.outgoing, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ep, ok := s.incoming[sender.Name()]; ok {
		return ep, nil
	}

	log.Info().Str("module", "app.session").
		Str("from", sender.Name()).Str("to", s.profile.Name).
		Msg("creating incoming endpoint")

	ep, err := s.pipeline.CreateEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	senderName := sender.Name()
	ep.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		s.Send(core.Marshal(core.IceCandidateMsg{
			ID:        core.KindIceCandidate,
			Name:      senderName,
			Candidate: ci,
		}))
	})

	if err := sender.outgoing.Connect(ep); err != nil {
		s.releaseEndpoint(senderName, ep)
		return nil, err
	}

	s.incoming[senderName] = ep

	// Candidates that beat the negotiation are applied now instead of
	// being dropped.
	for _, ci := range s.pending[senderName] {
		if err := ep.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "app.session").
				Str("target", senderName).Msg("apply buffered candidate")
		}
	}
	delete(s.pending, senderName)

	return ep, nil
}

// CancelMediaFrom removes and releases the incoming endpoint for senderName.
// An unknown sender is a no-op.
func (s *Session) CancelMediaFrom(senderName string) {
	s.mu.Lock()
	ep, ok := s.incoming[senderName]
	delete(s.incoming, senderName)
	delete(s.pending, senderName)
	s.mu.Unlock()

	if !ok {
		return
	}
	log.Info().Str("module", "app.session").
		Str("from", senderName).Str("to", s.profile.Name).
		Msg("removing incoming endpoint")
	s.releaseEndpoint(senderName, ep)
}

// AddIceCandidate routes a remote candidate to the endpoint named by target.
// The own name targets the outgoing endpoint. A candidate for an endpoint
// that does not exist yet is buffered until the endpoint is created.
func (s *Session) AddIceCandidate(candidate webrtc.ICECandidateInit, target string) error {
	if target == s.profile.Name {
		return s.outgoing.AddICECandidate(candidate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ep, ok := s.incoming[target]; ok {
		return ep.AddICECandidate(candidate)
	}

	if len(s.pending[target]) >= maxPendingCandidates {
		log.Warn().Str("module", "app.session").
			Str("target", target).Msg("pending candidate buffer full, dropping")
		return nil
	}
	s.pending[target] = append(s.pending[target], candidate)
	return nil
}

// Close releases every incoming endpoint and then the outgoing one. Each
// release is independent and best-effort; outcomes are logged, never
// returned. The session is Closed once every release has been issued.
func (s *Session) Close() {
	if !s.state.CompareAndSwap(int32(StateActive), int32(StateLeaving)) &&
		!s.state.CompareAndSwap(int32(StateJoining), int32(StateLeaving)) {
		return
	}

	s.mu.Lock()
	incoming := s.incoming
	s.incoming = make(map[string]core.Endpoint)
	s.pending = make(map[string][]webrtc.ICECandidateInit)
	s.mu.Unlock()

	for name, ep := range incoming {
		s.releaseEndpoint(name, ep)
	}
	s.releaseEndpoint(s.profile.Name, s.outgoing)

	s.state.Store(int32(StateClosed))
	log.Info().Str("module", "app.session").
		Str("name", s.profile.Name).Msg("session closed")
}

// releaseEndpoint issues the asynchronous release and logs the outcome
// without blocking the caller.
func (s *Session) releaseEndpoint(peer string, ep core.Endpoint) {
	done := ep.Release()
	go func() {
		if err := <-done; err != nil {
			log.Warn().Err(err).Str("module", "app.session").
				Str("name", s.profile.Name).Str("peer", peer).
				Msg("endpoint release failed")
			return
		}
		log.Debug().Str("module", "app.session").
			Str("name", s.profile.Name).Str("peer", peer).
			Msg("endpoint released")
	}()
}

// IncomingPeers lists the remote names this session currently receives from.
func (s *Session) IncomingPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.incoming))
	for name := range s.incoming {
		out = append(out, name)
	}
	return out
}
