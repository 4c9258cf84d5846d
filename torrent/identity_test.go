package torrent

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePeerIDHasClientPrefix(t *testing.T) {
	id := GeneratePeerID()
	assert.Equal(t, peerIDPrefix, string(id[:len(peerIDPrefix)]))
	assert.Len(t, id, 20)
}

func TestGeneratePeerIDDiffersAcrossCalls(t *testing.T) {
	a := GeneratePeerID()
	b := GeneratePeerID()
	assert.NotEqual(t, a, b)
}

func TestListenPortFindsFreePort(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	taken := l.Addr().(*net.TCPAddr).Port
	defer l.Close()

	port, err := ListenPort(taken, taken+5)
	require.NoError(t, err)
	assert.NotEqual(t, taken, port)
	assert.GreaterOrEqual(t, port, taken)
	assert.LessOrEqual(t, port, taken+5)
}

func TestListenPortExhaustedReturnsSentinel(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	taken := l.Addr().(*net.TCPAddr).Port
	defer l.Close()

	_, err = ListenPort(taken, taken)
	assert.ErrorIs(t, err, ErrNoPortAvailable)
}
