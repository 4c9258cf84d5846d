package torrent

import "errors"

// Sentinel error kinds, per spec.md §7. Where one is returned, it is wrapped
// with fmt.Errorf and a specific message at the call site so errors.Is still
// matches the taxonomy without inventing a custom error-code framework.
// ErrHashMismatch and ErrPeerTimeout name conditions that are handled where
// they arise; no function returns them.
var (
	// ErrProtocolViolation: malformed handshake/message, wrong info-hash.
	// Handled locally (close node); never surfaced to a caller.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTruncated: framing needs more bytes. Handled locally (retain
	// buffer, retry next tick); never surfaced.
	ErrTruncated = errors.New("truncated frame")

	// ErrHashMismatch: a completed piece failed verification. Handled
	// locally (reset piece); never surfaced, counted in telemetry only.
	ErrHashMismatch = errors.New("piece hash mismatch")

	// ErrPeerTimeout: a request outlived RequestTimeout. Handled locally
	// (cancel request, revert chunk); never surfaced.
	ErrPeerTimeout = errors.New("peer request timeout")

	// ErrSocket: a recv/send/connect error. Handled locally (close node);
	// never surfaced.
	ErrSocket = errors.New("socket error")

	// ErrTracker: the tracker request failed or returned an unparseable
	// body. Surfaced to the caller of Engine.Start.
	ErrTracker = errors.New("tracker request failed")

	// ErrNoPortAvailable: no free port in the configured listen range.
	// Returned by ListenPort, which the caller runs before building and
	// starting an Engine.
	ErrNoPortAvailable = errors.New("no free listen port in range")
)
