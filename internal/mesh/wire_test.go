package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr error
	}{
		{"not_json", `{"kind":`, ErrMalformedFrame},
		{"unknown_kind", `{"kind":"telepathy"}`, ErrUnknownKind},
		{"missing_kind", `{}`, ErrUnknownKind},
		{"gossip_without_envelope", `{"kind":"gossip"}`, ErrMalformedFrame},
		{"gossip_without_message_id", `{"kind":"gossip","envelope":{"content":"x"}}`, ErrMalformedFrame},
		{"relay_without_target", `{"kind":"relay-signal","relay":{"signal":"x"}}`, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeFrame_Gossip(t *testing.T) {
	raw := `{"kind":"gossip","envelope":{"messageId":"m1","gossipId":"g1",` +
		`"senderId":"` + string(testPeerID(1)) + `","gossiperId":"` + string(testPeerID(2)) + `",` +
		`"date":1700000000000,"to":["` + string(testPeerID(3)) + `"],"type":"chat","content":"hi"}}`

	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)
	require.NotNil(t, f.Envelope)

	env := f.Envelope
	assert.Equal(t, "m1", env.MessageID)
	assert.Equal(t, testPeerID(1), env.SenderID)
	assert.Equal(t, testPeerID(2), env.GossiperID)
	assert.True(t, env.Directed())
	assert.True(t, env.AddressedTo(testPeerID(3)))
	assert.False(t, env.AddressedTo(testPeerID(1)))
	assert.Equal(t, int64(1700000000000), env.Time().UnixMilli())
}

func TestEncodeFrame_FieldNames(t *testing.T) {
	data, err := EncodeFrame(Frame{Kind: FrameRelaySignal, Relay: &RelaySignal{
		SignalID: "s1", Sender: testPeerID(1), Target: testPeerID(2), Signal: "offer",
	}})
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"kind":"relay-signal"`)
	assert.Contains(t, s, `"signalId":"s1"`)
	assert.NotContains(t, s, `"envelope"`)
}

func TestFrameKind_Valid(t *testing.T) {
	for _, k := range []FrameKind{FrameGossip, FrameRelaySignal, FrameHistoryRequest, FrameHistoryResponse} {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, FrameKind("other").Valid())
}
