package torrent

import "time"

// ChunkSize is the fixed size of a wire request/transfer unit (16 KiB).
const ChunkSize = 16 * 1024

// Config holds every tunable constant named in the scheduler and
// concurrency sections of the design: activation limits, request caps,
// timeouts, and the listen-port probe range.
type Config struct {
	// MaxActivePieces bounds how many pieces can be mid-download at once.
	MaxActivePieces int

	// MaxActiveChunks bounds in-flight chunks per active piece.
	MaxActiveChunks int

	// MaxRequests bounds in-flight requests per node.
	MaxRequests int

	// EndOfGameOn is the total-pending-pieces threshold that flips the
	// scheduler into end-game mode.
	EndOfGameOn int

	// RequestTimeout is how long a Request may stay outstanding before it
	// is cancelled and its chunk reverted to EMPTY.
	RequestTimeout time.Duration

	// KeepAliveInterval is how long a node's outbox may sit idle before a
	// keep-alive message is enqueued.
	KeepAliveInterval time.Duration

	// ConnectTimeout bounds a single peer's TCP connect attempt.
	ConnectTimeout time.Duration

	// ConnectFanout bounds how many connect attempts run concurrently
	// during ConnectAll.
	ConnectFanout int

	// TickIdleSleep is how long Engine.Run sleeps after every tick; the
	// sleep is taken whether or not the tick did any work.
	TickIdleSleep time.Duration

	// PeerSetTickSleep is how long PeerSet.Tick pauses at its end to yield
	// CPU, per spec.
	PeerSetTickSleep time.Duration

	// ListenPortLow and ListenPortHigh bound the inclusive range probed
	// for a free local listen port.
	ListenPortLow  int
	ListenPortHigh int

	// RandSeed seeds the scheduler's node-selection PRNG. Zero means
	// "derive a seed from the current time," the default outside tests;
	// tests pass a fixed nonzero seed for determinism.
	RandSeed int64
}

// DefaultConfig returns the constants named in spec.md §4.4 and §5.
func DefaultConfig() Config {
	return Config{
		MaxActivePieces:   16,
		MaxActiveChunks:   16,
		MaxRequests:       4,
		EndOfGameOn:       4,
		RequestTimeout:    60 * time.Second,
		KeepAliveInterval: 100 * time.Second,
		ConnectTimeout:    2 * time.Second,
		ConnectFanout:     10,
		TickIdleSleep:     1 * time.Millisecond,
		PeerSetTickSleep:  50 * time.Millisecond,
		ListenPortLow:     6881,
		ListenPortHigh:    6889,
	}
}
