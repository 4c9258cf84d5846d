package torrent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeerSetAppendIsIdempotent(t *testing.T) {
	ps := NewPeerSet(DefaultConfig())

	a := ps.Append("1.2.3.4", 6881)
	b := ps.Append("1.2.3.4", 6881)

	assert.Same(t, a, b)
	assert.Equal(t, 1, ps.Len())
}

func TestPeerSetReapClosed(t *testing.T) {
	ps := NewPeerSet(DefaultConfig())

	n := ps.Append("1.2.3.4", 6881)
	n.close()

	assert.Equal(t, 0, ps.Len(), "Len excludes closed nodes even before reaping")
	assert.Equal(t, 1, len(ps.All()), "All still returns the not-yet-reaped node")

	ps.ReapClosed()
	assert.Equal(t, 0, len(ps.All()))
}

func TestNodeHasPieceOutOfRangeIsFalse(t *testing.T) {
	n := &Node{Bitfield: []bool{true, false}}

	assert.True(t, n.HasPiece(0))
	assert.False(t, n.HasPiece(1))
	assert.False(t, n.HasPiece(5))
}

func TestNodeSetHasPieceGrowsBitfield(t *testing.T) {
	n := &Node{}

	n.SetHasPiece(3)
	assert.Len(t, n.Bitfield, 4)
	assert.True(t, n.HasPiece(3))
	assert.False(t, n.HasPiece(0))
}

func TestNodeCloseIsIdempotent(t *testing.T) {
	n := &Node{}

	assert.NotPanics(t, func() {
		n.close()
		n.close()
	})
	assert.True(t, n.Closed())
}

func TestPeerSetConnectAllMarksUnreachableNodesClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond

	ps := NewPeerSet(cfg)
	n := ps.Append("127.0.0.1", 1) // privileged, unlikely bound port

	ps.ConnectAll()

	assert.True(t, n.closed)
}
