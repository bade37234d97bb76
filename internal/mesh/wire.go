package mesh

import (
	"errors"
	"fmt"
	"time"

	"github.com/ugorji/go/codec"
)

// FrameKind tags the payload carried in a link Frame.
type FrameKind string

// Known frame kinds.
const (
	FrameGossip          FrameKind = "gossip"
	FrameRelaySignal     FrameKind = "relay-signal"
	FrameHistoryRequest  FrameKind = "history-request"
	FrameHistoryResponse FrameKind = "history-response"
)

// Valid reports whether k is a known frame kind.
func (k FrameKind) Valid() bool {
	switch k {
	case FrameGossip, FrameRelaySignal, FrameHistoryRequest, FrameHistoryResponse:
		return true
	default:
		return false
	}
}

// Envelope is one application message as it travels the mesh.
type Envelope struct {
	// MessageID identifies the logical message.
	MessageID string `codec:"messageId" json:"messageId"`
	// GossipID identifies one broadcast wave on the wire.
	GossipID string `codec:"gossipId" json:"gossipId"`
	// SenderID is the originating peer.
	SenderID PeerID `codec:"senderId" json:"senderId"`
	// GossiperID is the last peer that relayed the envelope.
	GossiperID PeerID `codec:"gossiperId" json:"gossiperId"`
	// Date is the origin time in Unix milliseconds.
	Date    int64    `codec:"date" json:"date"`
	To      []PeerID `codec:"to,omitempty" json:"to,omitempty"`
	Type    string   `codec:"type,omitempty" json:"type,omitempty"`
	Content string   `codec:"content" json:"content"`
}

// Directed reports whether the envelope is addressed to specific peers.
func (e *Envelope) Directed() bool {
	return len(e.To) > 0
}

// AddressedTo reports whether id is one of the targets.
func (e *Envelope) AddressedTo(id PeerID) bool {
	for _, to := range e.To {
		if to == id {
			return true
		}
	}
	return false
}

// Time returns Date as a time.Time.
func (e *Envelope) Time() time.Time {
	return time.UnixMilli(e.Date)
}

// RelaySignal carries a negotiation descriptor over an existing link.
type RelaySignal struct {
	SignalID string `codec:"signalId" json:"signalId"`
	Sender   PeerID `codec:"sender" json:"sender"`
	Target   PeerID `codec:"target" json:"target"`
	Signal   string `codec:"signal" json:"signal"`
}

// Frame is the record written to a link. Exactly one payload field is set,
// selected by Kind.
type Frame struct {
	Kind      FrameKind    `codec:"kind" json:"kind"`
	Envelope  *Envelope    `codec:"envelope,omitempty" json:"envelope,omitempty"`
	Envelopes []Envelope   `codec:"envelopes,omitempty" json:"envelopes,omitempty"`
	Relay     *RelaySignal `codec:"relay,omitempty" json:"relay,omitempty"`
	Known     []string     `codec:"known,omitempty" json:"known,omitempty"`
}

var jsonHandle = &codec.JsonHandle{}

// Marshal encodes v as JSON.
func Marshal(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, jsonHandle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes JSON data into v.
func Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, jsonHandle).Decode(v)
}

// EncodeFrame serializes a frame.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Kind, err)
	}
	return data, nil
}

// DecodeFrame parses and validates a frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Kind {
	case FrameGossip:
		if f.Envelope == nil || f.Envelope.MessageID == "" {
			return Frame{}, fmt.Errorf("%w: gossip frame without envelope", ErrMalformedFrame)
		}
	case FrameRelaySignal:
		if f.Relay == nil || f.Relay.Target == "" {
			return Frame{}, fmt.Errorf("%w: relay frame without target", ErrMalformedFrame)
		}
	case FrameHistoryRequest, FrameHistoryResponse:
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownKind, f.Kind)
	}
	return f, nil
}

func isUnknownKind(err error) bool {
	return errors.Is(err, ErrUnknownKind)
}
