package mesh

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender is a frameSender that keeps what it is sent.
type recordingSender struct {
	id     PeerID
	frames []Frame
	failAt int
}

func (s *recordingSender) ID() PeerID { return s.id }

func (s *recordingSender) send(data []byte) error {
	if s.failAt > 0 && len(s.frames)+1 == s.failAt {
		return errBroken
	}
	f, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, f)
	return nil
}

func broadcast(i int) Envelope {
	return Envelope{
		MessageID:  fmt.Sprintf("m%d", i),
		GossipID:   fmt.Sprintf("g%d", i),
		SenderID:   testPeerID(9),
		GossiperID: testPeerID(8),
		Content:    fmt.Sprintf("content %d", i),
	}
}

func TestHistoryStore_Bound(t *testing.T) {
	h := NewHistoryStore(testPeerID(0), 3, false)
	for i := 1; i <= 5; i++ {
		assert.True(t, h.Add(broadcast(i)))
		assert.LessOrEqual(t, h.Len(), 3)
	}

	assert.Equal(t, []string{"m3", "m4", "m5"}, h.IDs())
	assert.False(t, h.Has("m1"))
	assert.True(t, h.Has("m5"))
}

func TestHistoryStore_Zero(t *testing.T) {
	h := NewHistoryStore(testPeerID(0), 0, false)
	h.Add(broadcast(1))
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Has("m1"))
}

func TestHistoryStore_Dedup(t *testing.T) {
	h := NewHistoryStore(testPeerID(0), 10, false)
	assert.True(t, h.Add(broadcast(1)))
	assert.False(t, h.Add(broadcast(1)))
	assert.Equal(t, 1, h.Len())
}

func TestHistoryStore_Directed(t *testing.T) {
	directed := broadcast(1)
	directed.To = []PeerID{testPeerID(2)}

	h := NewHistoryStore(testPeerID(0), 10, false)
	assert.False(t, h.Add(directed))
	assert.Equal(t, 0, h.Len())

	h = NewHistoryStore(testPeerID(0), 10, true)
	assert.True(t, h.Add(directed))
	assert.Equal(t, 1, h.Len())
}

func TestHistoryStore_Replay(t *testing.T) {
	self := testPeerID(0)
	h := NewHistoryStore(self, 10, false)
	for i := 1; i <= 3; i++ {
		h.Add(broadcast(i))
	}

	s := &recordingSender{id: testPeerID(1)}
	n, err := h.Replay(s)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, s.frames, 3)
	for i, f := range s.frames {
		assert.Equal(t, FrameGossip, f.Kind)
		assert.Equal(t, fmt.Sprintf("m%d", i+1), f.Envelope.MessageID)
		assert.Equal(t, self, f.Envelope.GossiperID)
		assert.Equal(t, testPeerID(9), f.Envelope.SenderID)
	}

	assert.Equal(t, testPeerID(8), h.Entries()[0].GossiperID, "stored entries are not rewritten")
}

func TestHistoryStore_ReplayStopsOnFailure(t *testing.T) {
	h := NewHistoryStore(testPeerID(0), 10, false)
	for i := 1; i <= 3; i++ {
		h.Add(broadcast(i))
	}

	s := &recordingSender{id: testPeerID(1), failAt: 2}
	n, err := h.Replay(s)
	assert.ErrorIs(t, err, errBroken)
	assert.Equal(t, 1, n)
}

func TestHistoryStore_Missing(t *testing.T) {
	h := NewHistoryStore(testPeerID(0), 10, false)
	for i := 1; i <= 4; i++ {
		h.Add(broadcast(i))
	}

	missing := h.Missing([]string{"m2", "m4", "m7"})
	require.Len(t, missing, 2)
	assert.Equal(t, "m1", missing[0].MessageID)
	assert.Equal(t, "m3", missing[1].MessageID)

	assert.Empty(t, h.Missing(h.IDs()))
}

func TestHistoryStore_RequestAndAnswer(t *testing.T) {
	a := NewHistoryStore(testPeerID(1), 10, false)
	b := NewHistoryStore(testPeerID(2), 10, false)
	for i := 1; i <= 3; i++ {
		a.Add(broadcast(i))
	}
	b.Add(broadcast(2))

	toA := &recordingSender{id: testPeerID(1)}
	require.NoError(t, b.Request(toA))
	require.Len(t, toA.frames, 1)
	assert.Equal(t, FrameHistoryRequest, toA.frames[0].Kind)
	assert.Equal(t, []string{"m2"}, toA.frames[0].Known)

	toB := &recordingSender{id: testPeerID(2)}
	n, err := a.Answer(toB, toA.frames[0].Known)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, toB.frames, 1)
	assert.Equal(t, FrameHistoryResponse, toB.frames[0].Kind)
	require.Len(t, toB.frames[0].Envelopes, 2)
	assert.Equal(t, testPeerID(1), toB.frames[0].Envelopes[0].GossiperID)

	n, err = a.Answer(toB, a.IDs())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, toB.frames, 1, "nothing is sent when the peer is in sync")
}
