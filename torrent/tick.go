package torrent

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"time"
)

// recvBufSize is "one MTU-sized chunk", per spec.md §4.2.
const recvBufSize = 1500

// Dispatch is called once per fully-parsed frame recv'd from a node, in
// arrival order. Either Handshake is non-nil (pre-handshake) or Message is
// set (post-handshake); never both.
type Dispatch func(n *Node, hs *Handshake, msg *Message)

// Tick runs one pass over every live node: recv available bytes, extract
// and dispatch every complete frame, then drain the outbox and send a
// keep-alive if the node has been idle too long. Per spec.md §4.2 and §5,
// this is the engine loop's sole I/O step each tick.
func (ps *PeerSet) Tick(dispatch Dispatch) {
	ps.ReapClosed()

	for _, n := range ps.All() {
		if n.closed || n.conn == nil {
			continue
		}

		ps.recv(n, dispatch)
		if n.closed {
			continue
		}

		ps.send(n)
	}

	time.Sleep(ps.cfg.PeerSetTickSleep)
}

func (ps *PeerSet) recv(n *Node, dispatch Dispatch) {
	buf := make([]byte, recvBufSize)

	n.conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	nread, err := n.conn.Read(buf)

	if nread > 0 {
		n.inbox = append(n.inbox, buf[:nread]...)
		n.LastRecv = time.Now()
		n.inboxNoProgress = false
	}

	if err != nil && !isTimeout(err) {
		if err != io.EOF {
			log.Printf("[FAIL]\tNode %s: recv error: %v\n", n.Addr(), err)
		}
		n.close()
		return
	}

	ps.drainInbox(n, dispatch)
}

// drainInbox repeatedly attempts to extract one frame from the node's
// inbox, dispatching each to the engine, until no further progress is
// possible on the current bytes.
func (ps *PeerSet) drainInbox(n *Node, dispatch Dispatch) {
	if n.inboxNoProgress {
		return
	}

	for {
		consumed, handled := ps.tryParseOne(n, dispatch)
		if !handled {
			n.inboxNoProgress = true
			return
		}

		n.inbox = n.inbox[consumed:]
		if len(n.inbox) == 0 {
			return
		}
	}
}

// tryParseOne parses one frame at the head of n.inbox. The disambiguation
// heuristic: a value equal to len("BitTorrent protocol")=19 at the start of
// an un-handshaked node's inbox means handshake; otherwise it's a length
// prefix. Once handshaked, handshake parsing is never attempted again.
func (ps *PeerSet) tryParseOne(n *Node, dispatch Dispatch) (consumed int, handled bool) {
	if !n.Handshaked {
		if len(n.inbox) == 0 {
			return 0, false
		}

		if n.inbox[0] != byte(len(protocolName)) {
			log.Printf("[ERROR]\tNode %s: expected handshake, got byte %d: %v\n", n.Addr(), n.inbox[0], ErrProtocolViolation)
			n.close()
			return 0, false
		}

		hs, n2, err := ParseHandshake(n.inbox)
		if err != nil {
			if errors.Is(err, ErrTruncated) {
				return 0, false
			}
			log.Printf("[ERROR]\tNode %s: %v\n", n.Addr(), err)
			n.close()
			return 0, false
		}

		dispatch(n, &hs, nil)
		return n2, true
	}

	msg, n2, err := ParseMessage(n.inbox)
	if err != nil {
		if errors.Is(err, ErrTruncated) {
			return 0, false
		}
		log.Printf("[ERROR]\tNode %s: %v\n", n.Addr(), err)
		n.close()
		return 0, false
	}

	if !msg.KeepAlive {
		dispatch(n, nil, &msg)
	}

	return n2, true
}

func (ps *PeerSet) send(n *Node) {
	for len(n.outbox) > 0 {
		frame := n.outbox[0]

		n.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := n.conn.Write(frame); err != nil {
			log.Printf("[FAIL]\tNode %s: send error: %v\n", n.Addr(), err)
			n.close()
			return
		}

		n.outbox = n.outbox[1:]
		n.LastSend = time.Now()
	}

	if time.Since(n.LastSend) > ps.cfg.KeepAliveInterval {
		n.Enqueue(AppendKeepAlive(nil))

		frame := n.outbox[len(n.outbox)-1]
		n.outbox = n.outbox[:len(n.outbox)-1]

		n.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := n.conn.Write(frame); err != nil {
			log.Printf("[FAIL]\tNode %s: keep-alive send error: %v\n", n.Addr(), err)
			n.close()
			return
		}

		n.LastSend = time.Now()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// sendMessage is a convenience used by the engine to enqueue a single
// message for a connected node (e.g. a CANCEL emitted synchronously in
// response to a scheduler event). The frame is written on the node's next
// Tick; it returns an error if the node has no open connection.
func sendMessage(n *Node, id MessageID, payload []byte) error {
	if n.conn == nil || n.closed {
		return fmt.Errorf("torrent: no connection to %s: %w", n.Addr(), ErrSocket)
	}

	frame := AppendMessage(nil, id, payload)
	n.Enqueue(frame)

	return nil
}
