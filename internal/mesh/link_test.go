package mesh

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkState_String(t *testing.T) {
	assert.Equal(t, "connecting", LinkConnecting.String())
	assert.Equal(t, "connected", LinkConnected.String())
	assert.Equal(t, "closed", LinkClosed.String())
	assert.Equal(t, "unknown", LinkState(42).String())
}

func TestLink_Lifecycle(t *testing.T) {
	c := &fakeConn{}
	l := newLink(testPeerID(1), true, testNow)
	l.conn = c

	err := l.send([]byte("early"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLinkNotConnected)

	var linkErr *LinkError
	require.True(t, errors.As(err, &linkErr))
	assert.Equal(t, testPeerID(1), linkErr.PeerID)
	assert.Equal(t, "send", linkErr.Op)

	require.NoError(t, l.signal("offer"))
	assert.Equal(t, []string{"offer"}, c.signals)

	assert.True(t, l.connect(testNow))
	assert.False(t, l.connect(testNow), "connect happens once")
	assert.Equal(t, LinkConnected, l.State())
	require.NoError(t, l.send([]byte("hello")))
	assert.Len(t, c.sent, 1)

	assert.True(t, l.close(errBroken))
	assert.False(t, l.close(nil))
	assert.Equal(t, LinkClosed, l.State())
	assert.Equal(t, errBroken, l.Err())
	assert.Equal(t, 1, c.closes)

	assert.ErrorIs(t, l.send([]byte("late")), ErrLinkClosed)
	assert.ErrorIs(t, l.signal("late"), ErrLinkClosed)
	assert.False(t, l.connect(testNow), "closed is terminal")
}

func TestLink_SendFailureWraps(t *testing.T) {
	l := newLink(testPeerID(1), false, testNow)
	l.conn = &fakeConn{fail: errBroken}
	l.connect(testNow)

	err := l.send([]byte("x"))
	assert.ErrorIs(t, err, errBroken)
	assert.Contains(t, err.Error(), testPeerID(1).Short())
}

func TestLink_Info(t *testing.T) {
	l := newLink(testPeerID(3), true, testNow)
	l.conn = &fakeConn{}
	l.connect(testNow)

	info := l.Info()
	assert.Equal(t, testPeerID(3), info.ID)
	assert.Equal(t, LinkConnected, info.State)
	assert.True(t, info.Initiator)
	assert.Equal(t, testNow, info.ConnectedAt)
}
