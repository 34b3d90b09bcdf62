package rtc

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateDelete
)

// outTrack is one outgoing copy of a source track, bound to a subscriber.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32
}

func (ot *outTrack) getState() trackState { return trackState(ot.state.Load()) }
func (ot *outTrack) markDelete()          { ot.state.Store(int32(trackStateDelete)) }

// forwarder reads RTP from one remote track and fans it out to every
// subscriber's out-track.
type forwarder struct {
	srcID string
	src   *webrtc.TrackRemote

	mu   sync.RWMutex
	outs map[string]*outTrack // keyed by subscriber endpoint id
}

func newForwarder(srcID string, src *webrtc.TrackRemote) *forwarder {
	return &forwarder{
		srcID: srcID,
		src:   src,
		outs:  make(map[string]*outTrack),
	}
}

// attach creates the local copy of the source track on dst and registers it.
// Called with the source endpoint's fwd lock held.
func (f *forwarder) attach(dst *Endpoint) error {
	local, err := webrtc.NewTrackLocalStaticRTP(
		f.src.Codec().RTPCodecCapability, f.src.ID(), f.src.StreamID(),
	)
	if err != nil {
		return err
	}
	if _, err := dst.pc.AddTrack(local); err != nil {
		return err
	}

	f.mu.Lock()
	f.outs[dst.id] = &outTrack{track: local}
	f.mu.Unlock()

	log.Debug().Str("module", "rtc").
		Str("src", f.srcID).Str("dst", dst.id).
		Str("track_id", f.src.ID()).Msg("subscriber attached")
	return nil
}

// loop reads RTP packets from the source track and forwards them to all
// out-tracks until the pipeline context ends or the source track closes.
func (f *forwarder) loop(ctx context.Context) {
	logger := log.With().Str("module", "rtc").Str("src", f.srcID).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("forward ctx done")
			return
		default:
		}
		pkt, _, err := f.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("forward read RTP ended")
			return
		}
		f.forward(pkt, &logger)
	}
}

func (f *forwarder) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]*outTrack, len(f.outs))
	f.mu.RLock()
	maps.Copy(snapshot, f.outs)
	f.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for dstID, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, dstID)
		case trackStateOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Debug().Err(err).
					Str("dst", dstID).
					Msg("forward write RTP error, dropping out-track")
				ot.markDelete()
				dirty = append(dirty, dstID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		f.cleanupDeleted(dirty)
	}
}

func (f *forwarder) cleanupDeleted(dirty []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range dirty {
		delete(f.outs, id)
	}
}
