package app

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluestarfish/blueberry/internal/core"
	"github.com/bluestarfish/blueberry/internal/domain"
)

func newTestSession(t *testing.T, name string, pipeline *fakePipeline, conn *fakeConn) *Session {
	t.Helper()
	s, err := NewSession(
		context.Background(),
		domain.Profile{Name: name, UserID: domain.UserID(len(name))},
		"r1", pipeline, conn,
	)
	require.NoError(t, err)
	return s
}

func TestSessionOutgoingCreatedOnce(t *testing.T) {
	pipeline := &fakePipeline{}
	s := newTestSession(t, "alice", pipeline, newFakeConn())

	assert.Equal(t, 1, pipeline.endpointCount())
	assert.Equal(t, domain.ParticipantKey{Name: "alice", Room: "r1"}, s.Key())
}

func TestSessionSelfView(t *testing.T) {
	pipeline := &fakePipeline{}
	conn := newFakeConn()
	alice := newTestSession(t, "alice", pipeline, conn)

	err := alice.ReceiveMediaFrom(context.Background(), alice, "my-offer")
	require.NoError(t, err)

	assert.Equal(t, 1, pipeline.endpointCount(), "self view reuses the outgoing endpoint")

	var answer core.ReceiveVideoAnswerMsg
	require.True(t, conn.lastOfKind(core.KindReceiveVideoAnswer, &answer))
	assert.Equal(t, "alice", answer.Name)
	assert.Equal(t, "answer:my-offer", answer.SdpAnswer)
}

func TestSessionFetchOrCreateIdempotent(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	bob := newTestSession(t, "bob", pipeline, newFakeConn())

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := bob.ReceiveMediaFrom(context.Background(), alice, "offer")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Two outgoing endpoints plus exactly one incoming for the pair.
	assert.Equal(t, 3, pipeline.endpointCount())
	assert.Equal(t, []string{"alice"}, bob.IncomingPeers())
}

func TestSessionGatherOnlyAfterAnswer(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	bob := newTestSession(t, "bob", pipeline, newFakeConn())

	err := bob.ReceiveMediaFrom(context.Background(), alice, "offer")
	require.NoError(t, err)

	incoming := pipeline.endpoints[2]
	assert.False(t, incoming.gatherEarly, "gathering must not precede negotiation")
	assert.Equal(t, 1, incoming.gatherCalls)
}

func TestSessionConnectSourceToIncoming(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	bob := newTestSession(t, "bob", pipeline, newFakeConn())

	require.NoError(t, bob.ReceiveMediaFrom(context.Background(), alice, "offer"))

	aliceOut := pipeline.endpoints[0]
	incoming := pipeline.endpoints[2]
	require.Len(t, aliceOut.connected, 1)
	assert.Same(t, incoming, aliceOut.connected[0])
}

func TestSessionCancelMediaFrom(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	bob := newTestSession(t, "bob", pipeline, newFakeConn())

	require.NoError(t, bob.ReceiveMediaFrom(context.Background(), alice, "offer"))
	incoming := pipeline.endpoints[2]

	bob.CancelMediaFrom("alice")
	assert.Empty(t, bob.IncomingPeers())
	assert.True(t, incoming.isReleased())

	// Unknown sender is a no-op, not an error.
	bob.CancelMediaFrom("nobody")
}

func TestSessionEarlyCandidateBuffered(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	bob := newTestSession(t, "bob", pipeline, newFakeConn())

	early := webrtc.ICECandidateInit{Candidate: "candidate:early"}
	require.NoError(t, bob.AddIceCandidate(early, "alice"))

	require.NoError(t, bob.ReceiveMediaFrom(context.Background(), alice, "offer"))

	incoming := pipeline.endpoints[2]
	require.Equal(t, 1, incoming.candidateCount(), "buffered candidate must be applied on creation")
	assert.Equal(t, "candidate:early", incoming.candidates[0].Candidate)

	// Later candidates go straight to the endpoint.
	require.NoError(t, bob.AddIceCandidate(webrtc.ICECandidateInit{Candidate: "candidate:late"}, "alice"))
	assert.Equal(t, 2, incoming.candidateCount())
}

func TestSessionCandidateForOwnName(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())

	ci := webrtc.ICECandidateInit{Candidate: "candidate:self"}
	require.NoError(t, alice.AddIceCandidate(ci, "alice"))

	outgoing := pipeline.endpoints[0]
	assert.Equal(t, 1, outgoing.candidateCount())
}

func TestSessionPendingBufferBounded(t *testing.T) {
	pipeline := &fakePipeline{}
	bob := newTestSession(t, "bob", pipeline, newFakeConn())

	for i := 0; i < maxPendingCandidates+10; i++ {
		require.NoError(t, bob.AddIceCandidate(webrtc.ICECandidateInit{}, "alice"))
	}
	bob.mu.Lock()
	defer bob.mu.Unlock()
	assert.Len(t, bob.pending["alice"], maxPendingCandidates)
}

func TestSessionCloseReleasesEverything(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	bob := newTestSession(t, "bob", pipeline, newFakeConn())
	carol := newTestSession(t, "carol", pipeline, newFakeConn())

	require.NoError(t, carol.ReceiveMediaFrom(context.Background(), alice, "offer"))
	require.NoError(t, carol.ReceiveMediaFrom(context.Background(), bob, "offer"))

	// One failing release must not prevent the others from being attempted.
	pipeline.endpoints[3].releaseErr = assert.AnError

	carol.Close()

	for i, ep := range pipeline.endpoints[2:] {
		assert.True(t, ep.isReleased(), "endpoint %d not released", i+2)
	}
	assert.True(t, pipeline.endpoints[2].isReleased(), "carol outgoing released")
	assert.Equal(t, StateClosed, carol.State())
}

func TestSessionStateMachine(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())
	assert.Equal(t, StateJoining, alice.State())

	room := NewRoom("r1", pipeline)
	require.NoError(t, room.Join(alice))
	assert.Equal(t, StateActive, alice.State())

	alice.Close()
	assert.Equal(t, StateClosed, alice.State())

	// No transition out of Closed.
	alice.Close()
	assert.Equal(t, StateClosed, alice.State())
}

func TestSessionToggleFlags(t *testing.T) {
	pipeline := &fakePipeline{}
	alice := newTestSession(t, "alice", pipeline, newFakeConn())

	alice.SetFlag(domain.FlagCam, true)
	alice.SetFlag(domain.FlagMic, true)
	alice.SetFlag(domain.FlagSpeaker, true)
	p := alice.Profile()
	assert.True(t, p.CamEnabled)
	assert.True(t, p.MicEnabled)
	assert.True(t, p.SpeakerEnabled)

	alice.SetFlag(domain.FlagMic, false)
	assert.False(t, alice.Profile().MicEnabled)
}

func TestSessionSendFailureIsLocal(t *testing.T) {
	pipeline := &fakePipeline{}
	conn := newFakeConn()
	conn.fail = true
	alice := newTestSession(t, "alice", pipeline, conn)

	// Negotiation still succeeds even when the answer cannot be delivered.
	err := alice.ReceiveMediaFrom(context.Background(), alice, "offer")
	assert.NoError(t, err)
}
