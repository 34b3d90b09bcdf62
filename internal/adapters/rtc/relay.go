// Package rtc implements the media relay on top of pion. A pipeline scopes
// the endpoints of one room; an endpoint wraps one PeerConnection and
// terminates one direction of one media link.
package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/bluestarfish/blueberry/internal/core"
)

// Relay builds pipelines over one shared pion API instance.
type Relay struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func DefaultICEServers() []string {
	return []string{"stun:stun.l.google.com:19302"}
}

func NewRelay(iceServers []string) (*Relay, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	return &Relay{
		api: api,
		cfg: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
		},
	}, nil
}

func (r *Relay) CreatePipeline(ctx context.Context) (core.Pipeline, error) {
	return newPipeline(ctx, r), nil
}
