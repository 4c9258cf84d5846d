package torrent

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"
)

// peerIDPrefix identifies this client in the Azureus-style peer ID
// convention: '-', two letters, four digits, '-', then 12 more bytes.
const peerIDPrefix = "-LE0001-"

// GeneratePeerID builds a 20-byte peer ID: the fixed client prefix followed
// by the first 12 bytes of sha1(process id ∥ current time in nanoseconds).
func GeneratePeerID() [20]byte {
	var id [20]byte
	copy(id[:], peerIDPrefix)

	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], uint64(os.Getpid()))
	binary.BigEndian.PutUint64(seed[8:], uint64(time.Now().UnixNano()))

	sum := sha1.Sum(seed[:])
	copy(id[len(peerIDPrefix):], sum[:20-len(peerIDPrefix)])

	return id
}

// ListenPort probes [low, high] in order and returns the first port on
// which it can bind a TCP listener, closing the probe listener immediately.
// Returns ErrNoPortAvailable if none of them are free.
func ListenPort(low, high int) (int, error) {
	for port := low; port <= high; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}

	return 0, fmt.Errorf("torrent: no free port in [%d, %d]: %w", low, high, ErrNoPortAvailable)
}
