package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaRelay is the external media collaborator. It allocates pipelines,
// one per room; everything else hangs off the pipeline.
type MediaRelay interface {
	CreatePipeline(ctx context.Context) (Pipeline, error)
}

// Pipeline scopes a set of endpoints that may be interconnected.
// Its lifetime is bounded by the owning room's lifetime.
type Pipeline interface {
	CreateEndpoint(ctx context.Context) (Endpoint, error)
	// Release frees the pipeline and any endpoints still bound to it.
	Release() error
}

// Endpoint terminates one direction of one media link.
//
// Lifecycle: create -> ProcessOffer -> GatherCandidates -> active -> Release.
// Calling GatherCandidates before ProcessOffer has produced an answer is
// invalid; implementations must not deliver candidates before then.
type Endpoint interface {
	// Connect wires this endpoint's media into dst (src.Connect(dst)).
	Connect(dst Endpoint) error
	// ProcessOffer applies the remote offer and returns the local answer SDP.
	ProcessOffer(ctx context.Context, sdpOffer string) (string, error)
	// GatherCandidates starts delivery of discovered local candidates to the
	// OnICECandidate callback.
	GatherCandidates() error
	// AddICECandidate applies a remote candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets the callback for locally discovered candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// Release frees the endpoint asynchronously; the channel yields the
	// outcome once and is then closed. Never block session teardown on it.
	Release() <-chan error
}
