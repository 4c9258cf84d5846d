package torrent

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"time"

	"leech/internal/filestore"
	"leech/internal/metainfo"
	"leech/internal/trackerclient"
)

// Sink is the narrow interface the engine needs from a filestore writer.
type Sink interface {
	WriteAt(absoluteOffset int64, data []byte) error
}

// Engine wires the framing codec, node state, scheduler, and writer sink
// together and drives the tracker handshake on start/stop. Its Tick method
// is the single-threaded cooperative event loop's body, per spec.md §5.
type Engine struct {
	cfg Config

	file   *metainfo.File
	peerID [20]byte
	port   int

	tracker *trackerclient.Client
	peers   *PeerSet
	store   *Store
	sched   *Scheduler
	sink    Sink

	numPieces int

	left int64
}

// NewEngine builds an Engine for one torrent. sink receives completed piece
// bytes at absolute byte offsets.
func NewEngine(cfg Config, file *metainfo.File, announceURL string, peerID [20]byte, port int, sink Sink) (*Engine, error) {
	hashes, err := file.PieceHashes()
	if err != nil {
		return nil, fmt.Errorf("torrent: engine init: %w", err)
	}

	store := NewStore(hashes, file.Info.PieceLength, file.TotalLength())
	peers := NewPeerSet(cfg)
	sched := NewScheduler(cfg, store, peers)

	e := &Engine{
		cfg:       cfg,
		file:      file,
		peerID:    peerID,
		port:      port,
		tracker:   trackerclient.NewClient(announceURL, file.InfoHash, peerID, uint16(port)),
		peers:     peers,
		store:     store,
		sched:     sched,
		sink:      sink,
		numPieces: len(hashes),
		left:      file.TotalLength(),
	}

	sched.OnPieceDownloaded = e.onPieceDownloaded
	sched.OnCancel = e.onCancel

	return e, nil
}

// Scheduler exposes the scheduler for progress reporting.
func (e *Engine) Scheduler() *Scheduler { return e.sched }

// Peers exposes the peer set for progress reporting.
func (e *Engine) Peers() *PeerSet { return e.peers }

// Start announces "started" to the tracker, seeds the peer set from the
// response's compact peer list, and returns. ErrTracker is the only error it
// surfaces; ErrNoPortAvailable comes from ListenPort, before the Engine is
// built.
func (e *Engine) Start(ctx context.Context) error {
	resp, err := e.tracker.Announce(ctx, 0, 0, e.left, trackerclient.EventStarted)
	if err != nil {
		return fmt.Errorf("torrent: start announce: %v: %w", err, ErrTracker)
	}

	for _, p := range resp.Peers {
		e.peers.Append(p.IP, p.Port)
	}

	log.Printf("[INFO]\tEngine started: %d peers from tracker, %d pieces\n", len(resp.Peers), e.numPieces)

	return nil
}

// Stop best-effort announces "stopped" to the tracker, then closes every
// peer connection. Announce errors are logged, not surfaced: a failed stop
// announce must never block process exit.
func (e *Engine) Stop(ctx context.Context) {
	if _, err := e.tracker.Announce(ctx, 0, 0, e.left, trackerclient.EventStopped); err != nil {
		log.Printf("[FAIL]\tStop announce: %v\n", err)
	}

	for _, n := range e.peers.All() {
		n.close()
	}
}

// Tick runs one full pass of the event loop: connect pending peers, drain
// I/O and dispatch frames, reap one timed-out request, then emit fresh
// REQUESTs into the nodes' outboxes (written on the next tick's I/O pass).
// This is the body spec.md §5 calls "one tick."
func (e *Engine) Tick() {
	e.peers.ConnectAll()

	e.peers.Tick(e.dispatch)

	e.sched.Message()

	for _, req := range e.sched.Next() {
		frame := AppendRequest(nil, MsgRequest, uint32(req.Piece), uint32(req.Chunk*ChunkSize), uint32(chunkRequestLength(e.store, req.Piece, req.Chunk)))
		req.Node.Enqueue(frame)
	}
}

func chunkRequestLength(store *Store, pieceIdx, chunk int) int64 {
	p := store.Piece(pieceIdx)
	if p == nil {
		return ChunkSize
	}
	return p.chunkLength(chunk)
}

// Done reports whether every piece has been downloaded and verified.
func (e *Engine) Done() bool {
	return e.sched.Progress() >= 1
}

// dispatch handles one parsed frame from a node: handshake validation, then
// message-id switch, per spec.md §4.5.
func (e *Engine) dispatch(n *Node, hs *Handshake, msg *Message) {
	if hs != nil {
		e.onHandshake(n, hs)
		return
	}

	switch msg.ID {
	case MsgChoke:
		n.PeerChoke = PeerChoked
	case MsgUnchoke:
		n.PeerChoke = PeerUnchoked
		n.WeInterested = true
	case MsgInterested:
		n.PeerInterested = true
	case MsgNotInterested:
		n.PeerInterested = false
	case MsgHave:
		if len(msg.Payload) < 4 {
			return
		}
		n.SetHasPiece(int(binary.BigEndian.Uint32(msg.Payload)))
	case MsgBitfield:
		n.Bitfield = DecodeBitfield(msg.Payload, e.numPieces)
	case MsgRequest:
		// Uploading/seeding is out of scope for this leecher, per
		// spec.md's Non-goals; REQUESTs from peers are ignored.
	case MsgPiece:
		e.onPiece(n, msg.Payload)
	case MsgCancel:
		// A peer cancelling a REQUEST we never serve has nothing for us
		// to do.
	default:
		log.Printf("[ERROR]\tNode %s: unknown message id %d\n", n.Addr(), msg.ID)
	}
}

func (e *Engine) onHandshake(n *Node, hs *Handshake) {
	if hs.InfoHash != e.file.InfoHash {
		log.Printf("[ERROR]\tNode %s: info hash mismatch, closing\n", n.Addr())
		n.close()
		return
	}

	n.RemoteID = hs.PeerID
	n.Handshaked = true

	reply := AppendHandshake(nil, Handshake{InfoHash: e.file.InfoHash, PeerID: e.peerID})
	n.Enqueue(reply)

	if n.PeerChoke != PeerAwaitingUnchoke {
		n.Enqueue(AppendMessage(nil, MsgUnchoke, nil))
		n.Enqueue(AppendMessage(nil, MsgInterested, nil))
		n.PeerChoke = PeerAwaitingUnchoke
	}
}

func (e *Engine) onPiece(n *Node, payload []byte) {
	index, begin, block, err := ParsePiecePayload(payload)
	if err != nil {
		log.Printf("[ERROR]\tNode %s: %v\n", n.Addr(), err)
		return
	}

	chunk := int(begin) / ChunkSize
	e.sched.Finish(n, int(index), chunk, block)
}

// onPieceDownloaded is the scheduler's OnPieceDownloaded callback: it writes
// the verified piece to the sink at index*piece_length and broadcasts HAVE.
func (e *Engine) onPieceDownloaded(n *Node, piece int, data []byte) {
	offset := int64(piece) * e.file.Info.PieceLength

	if err := e.sink.WriteAt(offset, data); err != nil {
		log.Printf("[FAIL]\tWriting piece %d: %v\n", piece, err)
		return
	}

	e.left -= int64(len(data))
	if e.left < 0 {
		e.left = 0
	}

	have := AppendHave(nil, uint32(piece))
	for _, node := range e.peers.All() {
		if node.Handshaked && !node.closed {
			node.Enqueue(have)
		}
	}

	log.Printf("[INFO]\tPiece %d verified and written (%d bytes)\n", piece, len(data))
}

// onCancel is the scheduler's OnCancel callback: it sends a CANCEL frame to
// the node if it is still connected, per spec.md §4.5.
func (e *Engine) onCancel(n *Node, piece, chunk int) {
	if n.Closed() {
		return
	}

	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], uint32(piece))
	binary.BigEndian.PutUint32(payload[4:8], uint32(chunk*ChunkSize))
	binary.BigEndian.PutUint32(payload[8:12], uint32(ChunkSize))

	if err := sendMessage(n, MsgCancel, payload); err != nil {
		log.Printf("[FAIL]\tCANCEL to %s: %v\n", n.Addr(), err)
	}
}

// filestoreSink adapts internal/filestore.Writer to the Sink interface used
// by Engine, keeping torrent/ free of a direct filestore import cycle
// concern and leaving cmd/leech to choose the FileWriter or MmapWriter
// backend.
type filestoreSink struct {
	w filestore.Writer
}

// NewFilestoreSink wraps a filestore.Writer as an engine Sink.
func NewFilestoreSink(w filestore.Writer) Sink {
	return &filestoreSink{w: w}
}

func (s *filestoreSink) WriteAt(absoluteOffset int64, data []byte) error {
	return s.w.WriteAt(absoluteOffset, data)
}

// Run calls Tick in a loop until ctx is cancelled or the download completes,
// sleeping cfg.TickIdleSleep between ticks.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e.Tick()

		if e.Done() {
			return
		}

		time.Sleep(e.cfg.TickIdleSleep)
	}
}
