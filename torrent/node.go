package torrent

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// PeerChokeState is the tri-valued "is the peer choking us" flag. The
// middle state lets the engine remember it already sent UNCHOKE+INTERESTED
// without re-sending them every tick while it waits for the peer's UNCHOKE.
type PeerChokeState int

const (
	PeerChoked PeerChokeState = iota
	PeerUnchoked
	PeerAwaitingUnchoke
)

// Node is one remote peer connection: socket, framing buffers, choke and
// interest flags, availability bitfield, in-flight counter, and timestamps.
type Node struct {
	// ConnID is an internal, non-wire identifier assigned when the node is
	// appended; it never participates in any protocol comparison or
	// invariant.
	ConnID uuid.UUID

	IP   string
	Port uint16

	conn net.Conn

	Handshaked     bool
	PeerChoke      PeerChokeState
	PeerInterested bool
	WeChoke        bool
	WeInterested   bool

	Bitfield []bool
	RemoteID [20]byte

	inbox        []byte
	inboxNoProgress bool
	outbox       [][]byte

	InFlightRequests int

	LastSend time.Time
	LastRecv time.Time

	closed bool
}

// Addr formats the node's address as "ip:port".
func (n *Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.IP, n.Port)
}

// HasPiece reports whether this node's bitfield marks index as available.
func (n *Node) HasPiece(index int) bool {
	if index < 0 || index >= len(n.Bitfield) {
		return false
	}
	return n.Bitfield[index]
}

// SetHasPiece sets bit index of the node's bitfield, growing it if needed
// (a HAVE for an index beyond a short BITFIELD is still valid).
func (n *Node) SetHasPiece(index int) {
	if index >= len(n.Bitfield) {
		grown := make([]bool, index+1)
		copy(grown, n.Bitfield)
		n.Bitfield = grown
	}
	n.Bitfield[index] = true
}

// Closed reports whether this node has been closed.
func (n *Node) Closed() bool { return n.closed }

// Enqueue appends a raw frame to the node's outbox, to be drained on the
// next Tick.
func (n *Node) Enqueue(frame []byte) {
	n.outbox = append(n.outbox, frame)
}

// close closes the socket (if any) and marks the node closed. Idempotent.
func (n *Node) close() {
	if n.closed {
		return
	}
	n.closed = true
	if n.conn != nil {
		n.conn.Close()
	}
}

// PeerSet owns the (ip, port) -> Node mapping for one torrent: connect
// fan-out, per-tick inbox/outbox drain, and dead-connection reaping.
type PeerSet struct {
	cfg Config

	mu    sync.Mutex
	nodes map[string]*Node
}

// NewPeerSet builds an empty PeerSet.
func NewPeerSet(cfg Config) *PeerSet {
	return &PeerSet{cfg: cfg, nodes: make(map[string]*Node)}
}

// Append adds a node for (ip, port) if one doesn't already exist.
// Idempotent, per spec.md §4.2.
func (ps *PeerSet) Append(ip string, port uint16) *Node {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	key := fmt.Sprintf("%s:%d", ip, port)
	if n, ok := ps.nodes[key]; ok {
		return n
	}

	n := &Node{ConnID: uuid.New(), IP: ip, Port: port, WeChoke: true}
	ps.nodes[key] = n

	return n
}

// All returns a snapshot slice of every node currently in the set,
// including closed ones not yet reaped.
func (ps *PeerSet) All() []*Node {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	out := make([]*Node, 0, len(ps.nodes))
	for _, n := range ps.nodes {
		out = append(out, n)
	}

	return out
}

// Len returns the number of live (non-closed) nodes.
func (ps *PeerSet) Len() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	count := 0
	for _, n := range ps.nodes {
		if !n.closed {
			count++
		}
	}

	return count
}

// ReapClosed prunes closed nodes from the set. Called at the top of every
// tick, per spec.md §4.2.
func (ps *PeerSet) ReapClosed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for key, n := range ps.nodes {
		if n.closed {
			delete(ps.nodes, key)
		}
	}
}

// ConnectAll attempts a TCP connect on every node that lacks a connection,
// in parallel, each bounded by cfg.ConnectTimeout. A node whose connect
// fails is marked closed.
//
// This is the single concurrency exception in the engine: one short-lived
// worker per node, joined before ConnectAll returns, touching only that
// node's own conn field. golang.org/x/sync/errgroup.SetLimit stands in for
// the teacher's hand-rolled `make(chan struct{}, 10)` semaphore — same
// bound, same shape, the idiomatic generalization the rest of the example
// pack reaches for instead.
func (ps *PeerSet) ConnectAll() {
	pending := make([]*Node, 0)

	ps.mu.Lock()
	for _, n := range ps.nodes {
		if !n.closed && n.conn == nil {
			pending = append(pending, n)
		}
	}
	ps.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(ps.cfg.ConnectFanout)

	for _, n := range pending {
		n := n
		g.Go(func() error {
			conn, err := net.DialTimeout("tcp", n.Addr(), ps.cfg.ConnectTimeout)
			if err != nil {
				n.close()
				return nil
			}

			n.conn = conn
			now := time.Now()
			n.LastSend = now
			n.LastRecv = now

			return nil
		})
	}

	_ = g.Wait()
}
