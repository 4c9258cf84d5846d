package torrent

import (
	"math/rand"
	"time"
)

// request is one outstanding (node, piece, chunk) request, per spec.md §3.
type request struct {
	node    *Node
	piece   int
	chunk   int
	created time.Time
}

// Scheduler is the intelligence of the core: it decides which (node,
// piece, chunk) triples to request next, reaps timeouts, and runs
// end-game mode once few pieces remain. All of its state is owned by, and
// mutated only on, the single engine event-loop goroutine.
type Scheduler struct {
	cfg   Config
	store *Store
	peers *PeerSet

	active   []int // ordered list of active piece indices
	inactive []int // ordered list of inactive piece indices

	requests []*request

	downloadedBytes  int64
	hashMismatches   int
	finishedFired    bool

	rng *rand.Rand

	OnCancel          func(n *Node, piece, chunk int)
	OnPieceDownloaded func(n *Node, piece int, data []byte)
	OnFinished        func()
}

// NewScheduler builds a Scheduler with every piece initially inactive, in
// index order, per spec.md §4.4.
func NewScheduler(cfg Config, store *Store, peers *PeerSet) *Scheduler {
	inactive := make([]int, store.Len())
	for i := range inactive {
		inactive[i] = i
	}

	seed := cfg.RandSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Scheduler{
		cfg:      cfg,
		store:    store,
		peers:    peers,
		inactive: inactive,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// DownloadedBytes returns the monotonic running total of bytes handed to
// Finish, per spec.md §8 invariant 7.
func (s *Scheduler) DownloadedBytes() int64 { return s.downloadedBytes }

// HashMismatches returns the running count of failed piece verifications,
// for telemetry only, per spec.md §7.
func (s *Scheduler) HashMismatches() int { return s.hashMismatches }

// Progress returns the fraction of pieces retired (neither active nor
// inactive) out of the total, in [0, 1], monotonic non-decreasing.
func (s *Scheduler) Progress() float64 {
	total := s.store.Len()
	if total == 0 {
		return 1
	}

	remaining := len(s.active) + len(s.inactive)
	return float64(total-remaining) / float64(total)
}

// endGame reports whether the scheduler is in end-game mode: total pending
// pieces at or below EndOfGameOn, per spec.md §4.4.
func (s *Scheduler) endGame() bool {
	return len(s.active)+len(s.inactive) <= s.cfg.EndOfGameOn
}

// idleNodes returns every live, unchoked node whose in-flight request count
// is below MaxRequests. A node that has not yet unchoked us (or is still
// AwaitingUnchoke) contributes no Requests, per spec.md §4.5/S6.
func (s *Scheduler) idleNodes() []*Node {
	var idle []*Node
	for _, n := range s.peers.All() {
		if !n.closed && n.PeerChoke == PeerUnchoked && n.InFlightRequests < s.cfg.MaxRequests {
			idle = append(idle, n)
		}
	}
	return idle
}

// nodesWithPiece filters nodes down to those whose bitfield has index.
func nodesWithPiece(nodes []*Node, index int) []*Node {
	var out []*Node
	for _, n := range nodes {
		if n.HasPiece(index) {
			out = append(out, n)
		}
	}
	return out
}

// Next returns a list of fresh Requests to be turned into REQUEST messages
// by the engine. It runs in normal mode or end-game mode per spec.md §4.4.
func (s *Scheduler) Next() []EmittedRequest {
	if s.endGame() {
		return s.nextEndGame()
	}
	return s.nextNormal()
}

// EmittedRequest is one (node, piece, chunk) triple the engine should turn
// into a REQUEST wire message.
type EmittedRequest struct {
	Node  *Node
	Piece int
	Chunk int
}

func (s *Scheduler) nextNormal() []EmittedRequest {
	idle := s.idleNodes()

	s.promoteActivatable(idle)

	var out []EmittedRequest

	for _, pieceIdx := range s.active {
		p := s.store.Piece(pieceIdx)
		if p == nil {
			continue
		}

		for chunk := 0; chunk < p.NumChunks() && p.InFlight() < s.cfg.MaxActiveChunks; chunk++ {
			if p.Status(chunk) != ChunkEmpty {
				continue
			}

			candidates := nodesWithPiece(idle, pieceIdx)
			if len(candidates) == 0 {
				continue
			}

			node := candidates[s.rng.Intn(len(candidates))]

			s.store.MarkDownloading(pieceIdx, chunk)
			node.InFlightRequests++
			s.requests = append(s.requests, &request{node: node, piece: pieceIdx, chunk: chunk, created: time.Now()})
			out = append(out, EmittedRequest{Node: node, Piece: pieceIdx, Chunk: chunk})

			if node.InFlightRequests >= s.cfg.MaxRequests {
				idle = removeNode(idle, node)
			}
		}
	}

	return out
}

// promoteActivatable moves pieces from inactive to active in strict
// head-of-list order, up to MaxActivePieces total active, only if at least
// one idle node has that piece. If the head has no owner among idle nodes,
// promotion stops for this tick — never skip ahead, per spec.md §4.4.
func (s *Scheduler) promoteActivatable(idle []*Node) {
	for len(s.active) < s.cfg.MaxActivePieces && len(s.inactive) > 0 {
		head := s.inactive[0]

		if len(nodesWithPiece(idle, head)) == 0 {
			return
		}

		s.inactive = s.inactive[1:]
		s.active = append(s.active, head)
		s.store.Alloc(head)
	}
}

// nextEndGame drains all remaining inactive pieces into active, then
// issues duplicate requests for every EMPTY chunk to every node that has
// it (not just idle nodes), subject to per-node and per-piece caps.
func (s *Scheduler) nextEndGame() []EmittedRequest {
	for len(s.inactive) > 0 {
		head := s.inactive[0]
		s.inactive = s.inactive[1:]
		s.active = append(s.active, head)
		s.store.Alloc(head)
	}

	var out []EmittedRequest
	allNodes := s.peers.All()

	for _, pieceIdx := range s.active {
		p := s.store.Piece(pieceIdx)
		if p == nil {
			continue
		}

		for chunk := 0; chunk < p.NumChunks(); chunk++ {
			if p.Status(chunk) != ChunkEmpty {
				continue
			}
			if p.InFlight() >= s.cfg.MaxActiveChunks {
				break
			}

			for _, node := range allNodes {
				if node.closed || node.PeerChoke != PeerUnchoked || !node.HasPiece(pieceIdx) {
					continue
				}
				if node.InFlightRequests >= s.cfg.MaxRequests {
					continue
				}
				if s.hasRequest(node, pieceIdx, chunk) {
					continue
				}

				s.store.MarkDownloading(pieceIdx, chunk)
				node.InFlightRequests++
				s.requests = append(s.requests, &request{node: node, piece: pieceIdx, chunk: chunk, created: time.Now()})
				out = append(out, EmittedRequest{Node: node, Piece: pieceIdx, Chunk: chunk})
			}
		}
	}

	return out
}

func (s *Scheduler) hasRequest(node *Node, piece, chunk int) bool {
	for _, r := range s.requests {
		if r.node == node && r.piece == piece && r.chunk == chunk {
			return true
		}
	}
	return false
}

func removeNode(nodes []*Node, target *Node) []*Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		if n != target {
			out = append(out, n)
		}
	}
	return out
}

// Finish records a completed chunk download: decrements the node's
// in-flight counter, transitions the chunk to COMPLETE, and removes the
// matching Request(s). If the piece is now fully assembled it is hashed;
// on match it is retired and handed to OnPieceDownloaded, on mismatch it is
// reset and remains active. Indices referring to a piece/chunk no longer
// tracked (a late frame after reset) are ignored.
func (s *Scheduler) Finish(node *Node, pieceIdx, chunkIdx int, data []byte) {
	node.InFlightRequests--
	if node.InFlightRequests < 0 {
		node.InFlightRequests = 0
	}

	s.removeRequest(node, pieceIdx, chunkIdx)

	p := s.store.Piece(pieceIdx)
	if p == nil || !p.allocated || chunkIdx < 0 || chunkIdx >= len(p.chunkStatus) {
		return
	}

	if p.Status(chunkIdx) == ChunkComplete {
		// A duplicate end-game reply arriving after this chunk already
		// finished via another peer; its data is surplus, discard it.
		return
	}

	if err := s.store.SetChunk(pieceIdx, chunkIdx, data); err != nil {
		return
	}

	s.downloadedBytes += int64(len(data))

	// In end-game mode several nodes may have been racing to fill this
	// same chunk; now that it's filled, cancel the rest so the engine can
	// send them CANCEL frames, per spec.md's end-game scenario.
	s.cancelDuplicateRequests(pieceIdx, chunkIdx, node)

	if !p.complete() {
		return
	}

	payload, ok := s.store.VerifyAndExtract(pieceIdx)
	if !ok {
		s.hashMismatches++
		s.store.Reset(pieceIdx)
		return
	}

	s.active = removeInt(s.active, pieceIdx)

	if s.OnPieceDownloaded != nil {
		s.OnPieceDownloaded(node, pieceIdx, payload)
	}

	s.maybeFireFinished()
}

// removeRequest removes the single Request for (node, piece, chunk), if any.
func (s *Scheduler) removeRequest(node *Node, piece, chunk int) {
	out := s.requests[:0]
	for _, r := range s.requests {
		if r.node == node && r.piece == piece && r.chunk == chunk {
			continue
		}
		out = append(out, r)
	}
	s.requests = out
}

// cancelDuplicateRequests removes every remaining Request for (piece,
// chunk) not owned by exclude, decrementing each owner's in-flight count
// and emitting OnCancel so the engine can send CANCEL frames.
func (s *Scheduler) cancelDuplicateRequests(piece, chunk int, exclude *Node) {
	out := s.requests[:0]
	for _, r := range s.requests {
		if r.piece == piece && r.chunk == chunk && r.node != exclude {
			r.node.InFlightRequests--
			if r.node.InFlightRequests < 0 {
				r.node.InFlightRequests = 0
			}
			if s.OnCancel != nil {
				s.OnCancel(r.node, piece, chunk)
			}
			continue
		}
		out = append(out, r)
	}
	s.requests = out
}

func (s *Scheduler) maybeFireFinished() {
	if s.finishedFired {
		return
	}
	if len(s.active) != 0 || len(s.inactive) != 0 {
		return
	}

	s.finishedFired = true
	if s.OnFinished != nil {
		s.OnFinished()
	}
}

// Message scans outstanding requests once per tick; the first request
// older than RequestTimeout is cancelled: removed, its node's in-flight
// counter decremented (if the node still exists), its chunk reverted to
// EMPTY, and OnCancel emitted. Only one timeout is reaped per tick, per
// spec.md §4.4's "gentle back-pressure against a thundering herd."
func (s *Scheduler) Message() {
	now := time.Now()

	for i, r := range s.requests {
		if now.Sub(r.created) < s.cfg.RequestTimeout {
			continue
		}

		r.node.InFlightRequests--
		if r.node.InFlightRequests < 0 {
			r.node.InFlightRequests = 0
		}

		s.store.RevertToEmpty(r.piece, r.chunk)

		s.requests = append(s.requests[:i], s.requests[i+1:]...)

		if s.OnCancel != nil {
			s.OnCancel(r.node, r.piece, r.chunk)
		}

		return
	}
}

// NodeClosed removes every Request owned by node (the node has been
// closed) and reverts their chunks to EMPTY, so they can be re-requested
// from another peer.
func (s *Scheduler) NodeClosed(node *Node) {
	out := s.requests[:0]
	for _, r := range s.requests {
		if r.node == node {
			s.store.RevertToEmpty(r.piece, r.chunk)
			continue
		}
		out = append(out, r)
	}
	s.requests = out
}

func removeInt(xs []int, target int) []int {
	out := xs[:0:0]
	for _, x := range xs {
		if x != target {
			out = append(out, x)
		}
	}
	return out
}
