package torrent

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashOf(b []byte) [20]byte {
	return sha1.Sum(b)
}

func TestNewStoreSizesLastPieceFromRemainder(t *testing.T) {
	pieceA := make([]byte, ChunkSize)
	pieceB := make([]byte, 100) // short last piece

	hashes := [][20]byte{hashOf(pieceA), hashOf(pieceB)}
	store := NewStore(hashes, ChunkSize, ChunkSize+100)

	assert.EqualValues(t, ChunkSize, store.Piece(0).Length)
	assert.EqualValues(t, 100, store.Piece(1).Length)
}

func TestPieceNumChunksRoundsUp(t *testing.T) {
	store := NewStore([][20]byte{{}}, ChunkSize+1, ChunkSize+1)
	assert.Equal(t, 2, store.Piece(0).NumChunks())
}

func TestStoreAllocAndMarkDownloading(t *testing.T) {
	store := NewStore([][20]byte{{}}, ChunkSize*2, ChunkSize*2)
	store.Alloc(0)

	assert.Equal(t, ChunkEmpty, store.Piece(0).Status(0))

	store.MarkDownloading(0, 0)
	assert.Equal(t, ChunkDownloading, store.Piece(0).Status(0))
	assert.Equal(t, 1, store.Piece(0).InFlight())

	// Marking an already-downloading chunk again must not double count.
	store.MarkDownloading(0, 0)
	assert.Equal(t, 1, store.Piece(0).InFlight())
}

func TestStoreRevertToEmpty(t *testing.T) {
	store := NewStore([][20]byte{{}}, ChunkSize, ChunkSize)
	store.Alloc(0)
	store.MarkDownloading(0, 0)

	store.RevertToEmpty(0, 0)
	assert.Equal(t, ChunkEmpty, store.Piece(0).Status(0))
	assert.Equal(t, 0, store.Piece(0).InFlight())
}

func TestStoreVerifyAndExtractSuccess(t *testing.T) {
	data := []byte("hello world, this is piece data")
	hash := hashOf(data)

	store := NewStore([][20]byte{hash}, int64(len(data)), int64(len(data)))
	store.Alloc(0)
	store.MarkDownloading(0, 0)

	err := store.SetChunk(0, 0, data)
	require.NoError(t, err)

	got, ok := store.VerifyAndExtract(0)
	assert.True(t, ok)
	assert.Equal(t, data, got)
}

func TestStoreVerifyAndExtractMismatchThenReset(t *testing.T) {
	expected := hashOf([]byte("correct data"))
	store := NewStore([][20]byte{expected}, 12, 12)
	store.Alloc(0)
	store.MarkDownloading(0, 0)

	require.NoError(t, store.SetChunk(0, 0, []byte("wrong data!!")))

	_, ok := store.VerifyAndExtract(0)
	assert.False(t, ok)

	store.Reset(0)
	assert.Equal(t, ChunkEmpty, store.Piece(0).Status(0))
	assert.Equal(t, 0, store.Piece(0).InFlight())
}

func TestStoreSetChunkOutOfRange(t *testing.T) {
	store := NewStore([][20]byte{{}}, ChunkSize, ChunkSize)
	store.Alloc(0)

	err := store.SetChunk(0, 5, []byte("x"))
	assert.Error(t, err)
}

func TestPieceNotCompleteUntilAllChunksSet(t *testing.T) {
	store := NewStore([][20]byte{{}}, ChunkSize*2, ChunkSize*2)
	store.Alloc(0)
	store.MarkDownloading(0, 0)
	require.NoError(t, store.SetChunk(0, 0, make([]byte, ChunkSize)))

	_, ok := store.VerifyAndExtract(0)
	assert.False(t, ok, "piece with one chunk still EMPTY must not verify as complete")
}
