package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
)

var ErrNotNegotiated = errors.New("endpoint has no local description yet")

// Endpoint wraps one PeerConnection. Locally discovered candidates are
// gated: pion starts trickling as soon as the local description is set, but
// nothing is delivered to the OnICECandidate callback until
// GatherCandidates is called after negotiation.
type Endpoint struct {
	id       string
	pipeline *Pipeline
	pc       *webrtc.PeerConnection

	mu         sync.Mutex
	onICE      func(webrtc.ICECandidateInit)
	gathering  bool
	queued     []webrtc.ICECandidateInit
	negotiated bool

	// source-side forwarding state, see forward.go
	fwd struct {
		sync.Mutex
		subs    map[string]*Endpoint
		byTrack map[string]*forwarder
	}
}

func newEndpoint(p *Pipeline, pc *webrtc.PeerConnection) *Endpoint {
	ep := &Endpoint{
		id:       uuid.NewString(),
		pipeline: p,
		pc:       pc,
	}
	ep.fwd.subs = make(map[string]*Endpoint)
	ep.fwd.byTrack = make(map[string]*forwarder)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ep.deliver(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "rtc").
			Str("endpoint", ep.id).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track received")
		ep.startForward(track)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "rtc").
			Str("endpoint", ep.id).Str("ice_state", s.String()).
			Msg("ICE state")
	})

	return ep
}

func (e *Endpoint) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	e.onICE = fn
	e.mu.Unlock()
}

// deliver queues the candidate until the gate is open, then streams.
func (e *Endpoint) deliver(ci webrtc.ICECandidateInit) {
	e.mu.Lock()
	if !e.gathering {
		e.queued = append(e.queued, ci)
		e.mu.Unlock()
		return
	}
	fn := e.onICE
	e.mu.Unlock()
	if fn != nil {
		fn(ci)
	}
}

// ProcessOffer applies the remote offer and produces the local answer.
// The answer is returned without waiting for gathering; candidates trickle
// separately once GatherCandidates opens the gate.
func (e *Endpoint) ProcessOffer(ctx context.Context, sdpOffer string) (string, error) {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdpOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}

	e.mu.Lock()
	e.negotiated = true
	e.mu.Unlock()

	return answer.SDP, nil
}

// GatherCandidates opens the candidate gate and flushes everything pion has
// already discovered. Calling it before ProcessOffer succeeded is invalid.
func (e *Endpoint) GatherCandidates() error {
	e.mu.Lock()
	if !e.negotiated {
		e.mu.Unlock()
		return ErrNotNegotiated
	}
	if e.gathering {
		e.mu.Unlock()
		return nil
	}
	e.gathering = true
	queued := e.queued
	e.queued = nil
	fn := e.onICE
	e.mu.Unlock()

	if fn != nil {
		for _, ci := range queued {
			fn(ci)
		}
	}
	return nil
}

func (e *Endpoint) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return e.pc.AddICECandidate(ci)
}

// Connect subscribes dst to this endpoint's media. Tracks that arrived
// before the subscription are attached immediately; later ones attach as
// they appear.
func (e *Endpoint) Connect(dst core.Endpoint) error {
	d, ok := dst.(*Endpoint)
	if !ok {
		return errors.New("rtc: cannot connect foreign endpoint")
	}

	e.fwd.Lock()
	defer e.fwd.Unlock()

	if _, ok := e.fwd.subs[d.id]; ok {
		return nil
	}
	e.fwd.subs[d.id] = d

	var errs []error
	for _, f := range e.fwd.byTrack {
		if err := f.attach(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// startForward begins relaying one remote track to every subscriber.
func (e *Endpoint) startForward(track *webrtc.TrackRemote) {
	f := newForwarder(e.id, track)

	e.fwd.Lock()
	e.fwd.byTrack[track.ID()] = f
	for _, d := range e.fwd.subs {
		if err := f.attach(d); err != nil {
			log.Error().Err(err).Str("module", "rtc").
				Str("endpoint", e.id).Str("dst", d.id).
				Msg("attach subscriber")
		}
	}
	e.fwd.Unlock()

	go f.loop(e.pipeline.ctx)
}

// Release detaches the endpoint from its pipeline and closes the
// PeerConnection off the caller's goroutine. The channel yields the outcome
// once and is closed.
func (e *Endpoint) Release() <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		e.pipeline.remove(e.id)
		done <- e.pc.Close()
	}()
	return done
}
