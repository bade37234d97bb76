package mesh

import (
	"errors"
	"fmt"
)

// Sentinel errors for the mesh package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidPeerID is returned when a peer id is not a 160-bit hex string.
	ErrInvalidPeerID = errors.New("invalid peer id")

	// ErrLinkNotConnected is returned when sending over a link that has not connected yet.
	ErrLinkNotConnected = errors.New("link not connected")

	// ErrLinkClosed is returned when operating on a closed link.
	ErrLinkClosed = errors.New("link closed")

	// ErrConnectTimeout closes links that stay in the connecting state too long.
	ErrConnectTimeout = errors.New("link connect timeout")

	// ErrCapacityReached is logged when admission rejects a peer.
	ErrCapacityReached = errors.New("peer capacity reached")

	// ErrEmptyContent is logged when a send carries no content.
	ErrEmptyContent = errors.New("empty content")

	// ErrMalformedFrame is returned when a link payload cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownKind is returned for frames or signals of an unknown kind.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("node already running")

	// ErrNodeStopped is returned once the node has been torn down.
	ErrNodeStopped = errors.New("node stopped")
)

// LinkError represents an error on a specific peer link.
type LinkError struct {
	PeerID PeerID
	Op     string
	Err    error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %s: %v", e.PeerID.Short(), e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// NewLinkError creates a new LinkError.
func NewLinkError(id PeerID, op string, err error) *LinkError {
	return &LinkError{PeerID: id, Op: op, Err: err}
}
