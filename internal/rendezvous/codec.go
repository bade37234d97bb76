package rendezvous

import (
	"github.com/LeJamon/goBeakon/internal/mesh"
)

// Op is the operation carried by a Packet.
type Op string

// Packet operations.
const (
	OpSubscribe   Op = "subscribe"
	OpUnsubscribe Op = "unsubscribe"
	OpPublish     Op = "publish"
	OpMessage     Op = "message"
)

// Packet is the unit exchanged on a rendezvous stream.
type Packet struct {
	Op      Op                  `codec:"op" json:"op"`
	Topic   string              `codec:"topic" json:"topic"`
	Message *mesh.SignalMessage `codec:"message,omitempty" json:"message,omitempty"`
}

// Codec is the gRPC codec of the rendezvous service. Packets travel as
// JSON instead of protobuf.
type Codec struct{}

// Name returns the content subtype.
func (Codec) Name() string {
	return "json"
}

// Marshal encodes v.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	return mesh.Marshal(v)
}

// Unmarshal decodes data into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	return mesh.Unmarshal(data, v)
}
