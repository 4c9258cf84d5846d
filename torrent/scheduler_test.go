package torrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(numPieces int, pieceLength int64) *Store {
	hashes := make([][20]byte, numPieces)
	return NewStore(hashes, pieceLength, pieceLength*int64(numPieces))
}

func newTestNode(t *testing.T, ps *PeerSet, ip string, port uint16, numPieces int, owns ...int) *Node {
	t.Helper()
	n := ps.Append(ip, port)
	n.Handshaked = true
	n.PeerChoke = PeerUnchoked
	n.Bitfield = make([]bool, numPieces)
	for _, idx := range owns {
		n.Bitfield[idx] = true
	}
	return n
}

func detConfig() Config {
	cfg := DefaultConfig()
	cfg.RandSeed = 42
	return cfg
}

func TestSchedulerPromotesOnlyWhenIdleOwnerExists(t *testing.T) {
	cfg := detConfig()
	cfg.MaxActivePieces = 2
	cfg.EndOfGameOn = 0 // three pending pieces would otherwise already be end-game
	store := newTestStore(3, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	// No node owns piece 0: nothing should activate.
	reqs := sched.Next()
	assert.Empty(t, reqs)
	assert.Empty(t, sched.active)

	// A node owning piece 1 (not piece 0, the head) must not let promotion
	// skip ahead of the un-owned head.
	newTestNode(t, peers, "1.1.1.1", 1, 3, 1)
	reqs = sched.Next()
	assert.Empty(t, reqs, "head-of-list piece 0 has no idle owner; promotion must not skip to piece 1")
}

func TestSchedulerNormalModeRequestsFromOwningIdleNode(t *testing.T) {
	cfg := detConfig()
	cfg.EndOfGameOn = 0 // a single pending piece would otherwise be end-game
	store := newTestStore(1, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)

	reqs := sched.Next()
	require.Len(t, reqs, 1)
	assert.Equal(t, n, reqs[0].Node)
	assert.Equal(t, 0, reqs[0].Piece)
	assert.Equal(t, 0, reqs[0].Chunk)
	assert.Equal(t, 1, n.InFlightRequests)
}

func TestSchedulerNeverExceedsMaxRequestsPerNode(t *testing.T) {
	cfg := detConfig()
	cfg.MaxActivePieces = 10
	cfg.MaxActiveChunks = 10
	cfg.MaxRequests = 2
	store := newTestStore(5, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 5, 0, 1, 2, 3, 4)

	reqs := sched.Next()
	assert.LessOrEqual(t, len(reqs), cfg.MaxRequests)
	assert.LessOrEqual(t, n.InFlightRequests, cfg.MaxRequests)
}

func TestSchedulerEndGameTriggersAtThreshold(t *testing.T) {
	cfg := detConfig()
	cfg.EndOfGameOn = 2
	cfg.MaxActivePieces = 1
	store := newTestStore(2, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	assert.True(t, sched.endGame(), "2 total pieces with EndOfGameOn=2 must already be end-game")
}

func TestSchedulerEndGameDuplicatesAcrossOwningNodes(t *testing.T) {
	cfg := detConfig()
	cfg.EndOfGameOn = 4
	store := newTestStore(1, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n1 := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)
	n2 := newTestNode(t, peers, "2.2.2.2", 2, 1, 0)

	reqs := sched.Next()
	require.Len(t, reqs, 2, "end-game must duplicate the single EMPTY chunk across both owning nodes")

	nodesSeen := map[*Node]bool{}
	for _, r := range reqs {
		nodesSeen[r.Node] = true
	}
	assert.True(t, nodesSeen[n1])
	assert.True(t, nodesSeen[n2])
}

func TestSchedulerFinishVerifiesAndRetiresPiece(t *testing.T) {
	cfg := detConfig()
	data := make([]byte, ChunkSize)
	for i := range data {
		data[i] = byte(i)
	}
	hash := hashOf(data)

	store := NewStore([][20]byte{hash}, ChunkSize, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	var downloaded []byte
	var downloadedPiece int
	sched.OnPieceDownloaded = func(n *Node, piece int, got []byte) {
		downloadedPiece = piece
		downloaded = got
	}

	n := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)
	reqs := sched.Next()
	require.Len(t, reqs, 1)

	sched.Finish(n, 0, 0, data)

	assert.Equal(t, 0, downloadedPiece)
	assert.Equal(t, data, downloaded)
	assert.Empty(t, sched.active)
	assert.EqualValues(t, ChunkSize, sched.DownloadedBytes())
	assert.Equal(t, 0, n.InFlightRequests)
}

func TestSchedulerFinishHashMismatchResetsAndKeepsActive(t *testing.T) {
	cfg := detConfig()
	expected := hashOf([]byte("the correct sixteen-kay of data"))

	store := NewStore([][20]byte{expected}, 32, 32)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)
	reqs := sched.Next()
	require.Len(t, reqs, 1)

	fired := false
	sched.OnPieceDownloaded = func(*Node, int, []byte) { fired = true }

	sched.Finish(n, 0, 0, []byte("the WRONG thirty-two bytes!!!!!"))

	assert.False(t, fired)
	assert.Equal(t, 1, sched.HashMismatches())
	assert.Contains(t, sched.active, 0, "piece stays active after a hash mismatch, to be re-requested")
	assert.Equal(t, ChunkEmpty, store.Piece(0).Status(0))
}

func TestSchedulerMessageTimesOutOldestRequestOnly(t *testing.T) {
	cfg := detConfig()
	cfg.RequestTimeout = 0 // everything is immediately "expired"
	cfg.MaxActivePieces = 2
	store := newTestStore(2, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 2, 0, 1)
	reqs := sched.Next()
	require.Len(t, reqs, 2)

	var cancelled []int
	sched.OnCancel = func(_ *Node, piece, _ int) { cancelled = append(cancelled, piece) }

	sched.Message()
	assert.Len(t, cancelled, 1, "only one timeout is reaped per call to Message")
	assert.Equal(t, 1, n.InFlightRequests)
}

func TestSchedulerNodeClosedRevertsItsRequests(t *testing.T) {
	cfg := detConfig()
	store := newTestStore(1, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)
	reqs := sched.Next()
	require.Len(t, reqs, 1)

	sched.NodeClosed(n)

	assert.Equal(t, ChunkEmpty, store.Piece(0).Status(0))
	assert.Empty(t, sched.requests)
}

func TestSchedulerFinishIgnoresOutOfRangePiece(t *testing.T) {
	cfg := detConfig()
	store := newTestStore(1, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)

	assert.NotPanics(t, func() {
		sched.Finish(n, 99, 0, []byte("late"))
	})
}

func TestSchedulerProgressMonotonic(t *testing.T) {
	cfg := detConfig()
	data := make([]byte, ChunkSize)
	hash := hashOf(data)
	store := NewStore([][20]byte{hash, hash}, ChunkSize, ChunkSize*2)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n := newTestNode(t, peers, "1.1.1.1", 1, 2, 0, 1)

	assert.Equal(t, float64(0), sched.Progress())

	sched.Next()
	sched.Finish(n, 0, 0, data)
	assert.InDelta(t, 0.5, sched.Progress(), 0.0001)

	sched.Next()
	sched.Finish(n, 1, 0, data)
	assert.Equal(t, float64(1), sched.Progress())
}

func TestSchedulerFinishCancelsEndGameDuplicates(t *testing.T) {
	cfg := detConfig()
	cfg.EndOfGameOn = 4
	data := make([]byte, ChunkSize)
	hash := hashOf(data)

	store := NewStore([][20]byte{hash}, ChunkSize, ChunkSize)
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	n1 := newTestNode(t, peers, "1.1.1.1", 1, 1, 0)
	n2 := newTestNode(t, peers, "2.2.2.2", 2, 1, 0)

	reqs := sched.Next()
	require.Len(t, reqs, 2)

	var cancelledNodes []*Node
	sched.OnCancel = func(n *Node, _, _ int) { cancelledNodes = append(cancelledNodes, n) }

	sched.Finish(n1, 0, 0, data)

	require.Len(t, cancelledNodes, 1)
	assert.Equal(t, n2, cancelledNodes[0])
	assert.Equal(t, 0, n2.InFlightRequests)
}
