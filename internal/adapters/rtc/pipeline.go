package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bluestarfish/blueberry/internal/core"
)

var ErrPipelineReleased = errors.New("pipeline released")

// Pipeline groups the endpoints of one room. Releasing it cancels every
// forwarding loop and closes any endpoint still bound to it.
type Pipeline struct {
	id     string
	relay  *Relay
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	released  bool
}

func newPipeline(ctx context.Context, relay *Relay) *Pipeline {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &Pipeline{
		id:        uuid.NewString(),
		relay:     relay,
		ctx:       ctx,
		cancel:    cancel,
		endpoints: make(map[string]*Endpoint),
	}
	log.Info().Str("module", "rtc").Str("pipeline", p.id).Msg("pipeline created")
	return p
}

func (p *Pipeline) CreateEndpoint(ctx context.Context) (core.Endpoint, error) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil, ErrPipelineReleased
	}
	p.mu.Unlock()

	pc, err := p.relay.api.NewPeerConnection(p.relay.cfg)
	if err != nil {
		return nil, err
	}

	ep := newEndpoint(p, pc)

	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		_ = pc.Close()
		return nil, ErrPipelineReleased
	}
	p.endpoints[ep.id] = ep
	p.mu.Unlock()

	log.Debug().Str("module", "rtc").
		Str("pipeline", p.id).Str("endpoint", ep.id).
		Msg("endpoint created")
	return ep, nil
}

// Release tears the pipeline down, closing every endpoint still bound.
func (p *Pipeline) Release() error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return nil
	}
	p.released = true
	remaining := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		remaining = append(remaining, ep)
	}
	p.endpoints = make(map[string]*Endpoint)
	p.mu.Unlock()

	p.cancel()

	var errs []error
	for _, ep := range remaining {
		if err := ep.pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	log.Info().Str("module", "rtc").Str("pipeline", p.id).
		Int("endpoints_closed", len(remaining)).Msg("pipeline released")
	return errors.Join(errs...)
}

func (p *Pipeline) remove(id string) {
	p.mu.Lock()
	delete(p.endpoints, id)
	p.mu.Unlock()
}
