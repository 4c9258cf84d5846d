package torrent

import (
	"crypto/sha1"
	"fmt"
)

// ChunkStatus is the lifecycle state of one chunk within a piece.
type ChunkStatus int

const (
	ChunkEmpty ChunkStatus = iota
	ChunkDownloading
	ChunkComplete
)

// Piece is a contiguous fixed-size slice of the torrent payload (except
// possibly the last), independently hash-verified.
type Piece struct {
	Index        int
	ExpectedHash [20]byte
	Length       int64

	chunkStatus []ChunkStatus
	chunkData   [][]byte
	inFlight    int

	allocated bool
}

// NumChunks returns ⌈Length ÷ ChunkSize⌉.
func (p *Piece) NumChunks() int {
	return int((p.Length + ChunkSize - 1) / ChunkSize)
}

// chunkLength returns the byte length of chunk i, short for the final
// chunk of the final piece when Length isn't a multiple of ChunkSize.
func (p *Piece) chunkLength(i int) int64 {
	start := int64(i) * ChunkSize
	remaining := p.Length - start
	if remaining > ChunkSize {
		return ChunkSize
	}
	return remaining
}

// InFlight is the number of chunks currently DOWNLOADING.
func (p *Piece) InFlight() int {
	return p.inFlight
}

// Status returns the status of chunk i.
func (p *Piece) Status(chunk int) ChunkStatus {
	if !p.allocated || chunk < 0 || chunk >= len(p.chunkStatus) {
		return ChunkEmpty
	}
	return p.chunkStatus[chunk]
}

// Store owns every Piece of a torrent and performs allocation, chunk
// assembly, hash verification, and reset-on-failure.
type Store struct {
	pieces []*Piece
}

// NewStore builds a Store from piece hashes, the uniform piece length, and
// the torrent's total content length (the last piece is sized from the
// remainder).
func NewStore(hashes [][20]byte, pieceLength, totalLength int64) *Store {
	pieces := make([]*Piece, len(hashes))

	for i, h := range hashes {
		length := pieceLength
		if i == len(hashes)-1 {
			remainder := totalLength - pieceLength*int64(len(hashes)-1)
			if remainder > 0 && remainder < pieceLength {
				length = remainder
			}
		}

		pieces[i] = &Piece{
			Index:        i,
			ExpectedHash: h,
			Length:       length,
		}
	}

	return &Store{pieces: pieces}
}

// Len returns the number of pieces.
func (s *Store) Len() int { return len(s.pieces) }

// Piece returns the piece at index, or nil if out of range.
func (s *Store) Piece(index int) *Piece {
	if index < 0 || index >= len(s.pieces) {
		return nil
	}
	return s.pieces[index]
}

// Alloc zeros a piece's chunk map and allocates its chunk buffers, per
// spec.md §4.3. Called when the scheduler activates a previously-inactive
// or freshly-reset piece.
func (s *Store) Alloc(index int) {
	p := s.Piece(index)
	if p == nil {
		return
	}

	n := p.NumChunks()
	p.chunkStatus = make([]ChunkStatus, n)
	p.chunkData = make([][]byte, n)
	p.inFlight = 0
	p.allocated = true
}

// MarkDownloading transitions chunk to DOWNLOADING and increments the
// piece's in-flight counter. The caller (scheduler) is responsible for the
// corresponding node in-flight bookkeeping.
func (s *Store) MarkDownloading(index, chunk int) {
	p := s.Piece(index)
	if p == nil || !p.allocated || chunk < 0 || chunk >= len(p.chunkStatus) {
		return
	}

	if p.chunkStatus[chunk] == ChunkDownloading {
		return
	}

	p.chunkStatus[chunk] = ChunkDownloading
	p.inFlight++
}

// RevertToEmpty transitions chunk back to EMPTY (on timeout) and
// decrements the piece's in-flight counter.
func (s *Store) RevertToEmpty(index, chunk int) {
	p := s.Piece(index)
	if p == nil || !p.allocated || chunk < 0 || chunk >= len(p.chunkStatus) {
		return
	}

	if p.chunkStatus[chunk] != ChunkDownloading {
		return
	}

	p.chunkStatus[chunk] = ChunkEmpty
	p.inFlight--
}

// SetChunk transitions chunk to COMPLETE and records its data.
func (s *Store) SetChunk(index, chunk int, data []byte) error {
	p := s.Piece(index)
	if p == nil || !p.allocated || chunk < 0 || chunk >= len(p.chunkStatus) {
		return fmt.Errorf("piece: set chunk out of range (piece=%d chunk=%d)", index, chunk)
	}

	if p.chunkStatus[chunk] == ChunkDownloading {
		p.inFlight--
	}

	p.chunkStatus[chunk] = ChunkComplete
	p.chunkData[chunk] = append([]byte(nil), data...)

	return nil
}

// complete reports whether every chunk of p is COMPLETE.
func (p *Piece) complete() bool {
	if !p.allocated {
		return false
	}
	for _, st := range p.chunkStatus {
		if st != ChunkComplete {
			return false
		}
	}
	return true
}

// VerifyAndExtract returns the concatenated chunk bytes and true iff every
// chunk of the piece is COMPLETE and the concatenation's sha1 matches the
// expected hash. A hash mismatch is reported via the bool return, not an
// error: the caller (scheduler.Finish) resets the piece and continues, per
// spec — hash mismatch is not a surfaced failure.
func (s *Store) VerifyAndExtract(index int) ([]byte, bool) {
	p := s.Piece(index)
	if p == nil || !p.complete() {
		return nil, false
	}

	data := make([]byte, 0, p.Length)
	for _, chunk := range p.chunkData {
		data = append(data, chunk...)
	}

	sum := sha1.Sum(data)
	if sum != p.ExpectedHash {
		return nil, false
	}

	return data, true
}

// Reset clears a piece's chunk state back to a freshly-allocated EMPTY
// state, on hash mismatch. The piece remains active; the scheduler will
// re-request its chunks from scratch.
func (s *Store) Reset(index int) {
	s.Alloc(index)
}
