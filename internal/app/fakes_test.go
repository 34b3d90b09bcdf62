package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bluestarfish/blueberry/internal/core"
)

// fakeRelay counts pipeline allocations so tests can assert the
// exactly-one-pipeline-per-room property.
type fakeRelay struct {
	mu        sync.Mutex
	pipelines []*fakePipeline
	createErr error
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{}
}

func (r *fakeRelay) CreatePipeline(context.Context) (core.Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	p := &fakePipeline{}
	r.pipelines = append(r.pipelines, p)
	return p, nil
}

func (r *fakeRelay) pipelineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pipelines)
}

type fakePipeline struct {
	mu        sync.Mutex
	endpoints []*fakeEndpoint
	released  bool
}

func (p *fakePipeline) CreateEndpoint(context.Context) (core.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := &fakeEndpoint{}
	p.endpoints = append(p.endpoints, ep)
	return ep, nil
}

func (p *fakePipeline) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = true
	return nil
}

func (p *fakePipeline) endpointCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

func (p *fakePipeline) isReleased() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

type fakeEndpoint struct {
	mu          sync.Mutex
	onICE       func(webrtc.ICECandidateInit)
	negotiated  bool
	gatherCalls int
	gatherEarly bool
	candidates  []webrtc.ICECandidateInit
	connected   []*fakeEndpoint
	released    bool
	releaseErr  error
}

func (e *fakeEndpoint) Connect(dst core.Endpoint) error {
	d, ok := dst.(*fakeEndpoint)
	if !ok {
		return errors.New("foreign endpoint")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, d)
	return nil
}

func (e *fakeEndpoint) ProcessOffer(_ context.Context, sdpOffer string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.negotiated = true
	return "answer:" + sdpOffer, nil
}

func (e *fakeEndpoint) GatherCandidates() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.negotiated {
		e.gatherEarly = true
		return errors.New("gather before negotiation")
	}
	e.gatherCalls++
	return nil
}

func (e *fakeEndpoint) AddICECandidate(ci webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, ci)
	return nil
}

func (e *fakeEndpoint) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICE = fn
}

func (e *fakeEndpoint) Release() <-chan error {
	e.mu.Lock()
	e.released = true
	err := e.releaseErr
	e.mu.Unlock()

	done := make(chan error, 1)
	done <- err
	close(done)
	return done
}

func (e *fakeEndpoint) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

func (e *fakeEndpoint) candidateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.candidates)
}

// fakeConn records every frame a session sends.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {}

// kinds returns the envelope discriminators of all recorded frames in order.
func (c *fakeConn) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env core.Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			continue
		}
		out = append(out, env.ID)
	}
	return out
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// lastOfKind decodes the most recent frame with the given discriminator
// into v; returns false if none exists.
func (c *fakeConn) lastOfKind(kind string, v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.frames) - 1; i >= 0; i-- {
		var env core.Envelope
		if err := json.Unmarshal(c.frames[i], &env); err != nil {
			continue
		}
		if env.ID == kind {
			return json.Unmarshal(c.frames[i], v) == nil
		}
	}
	return false
}
