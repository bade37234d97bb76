package mesh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/crypto/ripemd160"
)

// PeerIDSize is the size in bytes of a decoded PeerID.
const PeerIDSize = ripemd160.Size

// PeerID identifies an overlay peer. It is the hex encoding of a 160-bit hash.
type PeerID string

// String returns the hex form of the id.
func (id PeerID) String() string {
	return string(id)
}

// Short returns an abbreviated id for log output.
func (id PeerID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// ParsePeerID validates s as a PeerID.
func ParsePeerID(s string) (PeerID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != PeerIDSize {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeerID, s)
	}
	return PeerID(strings.ToLower(s)), nil
}

// Identity is the key pair a node derives its PeerID from.
type Identity struct {
	privateKey *btcec.PrivateKey
	publicKey  *btcec.PublicKey
	id         PeerID
}

// NewIdentity generates a fresh secp256k1 key pair. The PeerID is
// RIPEMD160(SHA256(compressed public key)).
func NewIdentity() (*Identity, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	publicKey := privateKey.PubKey()
	return &Identity{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         PeerID(hex.EncodeToString(hash160(publicKey.SerializeCompressed()))),
	}, nil
}

// ID returns the PeerID of the identity.
func (i *Identity) ID() PeerID {
	return i.id
}

// PublicKey returns the compressed public key.
func (i *Identity) PublicKey() []byte {
	return i.publicKey.SerializeCompressed()
}

func hash160(data []byte) []byte {
	sum := sha256.Sum256(data)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// newRandomID returns a fresh 160-bit hex id for gossip and message ids.
func newRandomID() string {
	var seed [32]byte
	_, _ = rand.Read(seed[:])
	return hex.EncodeToString(hash160(seed[:]))
}
