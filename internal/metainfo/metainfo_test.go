package metainfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackpal/bencode-go"
)

func writeTestTorrent(t *testing.T, dict map[string]interface{}) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.torrent")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, bencode.Marshal(f, dict))

	return path
}

func TestLoadSingleFile(t *testing.T) {
	path := writeTestTorrent(t, map[string]interface{}{
		"announce": "http://tracker.example/announce",
		"info": map[string]interface{}{
			"name":         "movie.mp4",
			"length":       int64(16384),
			"piece length": int64(16384),
			"pieces":       string(make([]byte, 20)),
		},
	})

	f, err := Load(path)
	require.NoError(t, err)

	assert.False(t, f.Info.IsMultiFile())
	assert.Equal(t, int64(16384), f.TotalLength())

	spans := f.FileMap(t.TempDir())
	require.Len(t, spans, 1)
	assert.Equal(t, int64(0), spans[0].Offset)
	assert.Equal(t, int64(16384), spans[0].Length)
}

func TestLoadMultiFile(t *testing.T) {
	path := writeTestTorrent(t, map[string]interface{}{
		"announce": "http://tracker.example/announce",
		"info": map[string]interface{}{
			"name":         "bundle",
			"piece length": int64(16384),
			"pieces":       string(make([]byte, 40)),
			"files": []interface{}{
				map[string]interface{}{"length": int64(100), "path": []interface{}{"a.txt"}},
				map[string]interface{}{"length": int64(200), "path": []interface{}{"sub", "b.txt"}},
			},
		},
	})

	f, err := Load(path)
	require.NoError(t, err)

	assert.True(t, f.Info.IsMultiFile())
	assert.Equal(t, int64(300), f.TotalLength())

	spans := f.FileMap("/out")
	require.Len(t, spans, 2)
	assert.Equal(t, int64(0), spans[0].Offset)
	assert.Equal(t, int64(100), spans[1].Offset)
	assert.Equal(t, filepath.Join("/out", "bundle", "sub", "b.txt"), spans[1].Path)
}

func TestPieceHashesRejectsBadLength(t *testing.T) {
	f := &File{}
	f.Info.Pieces = "short"

	_, err := f.PieceHashes()
	assert.Error(t, err)
}

func TestPieceHashesSplitsHashes(t *testing.T) {
	f := &File{}
	f.Info.Pieces = string(append(bytes20('a'), bytes20('b')...))

	hashes, err := f.PieceHashes()
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	assert.Equal(t, byte('a'), hashes[0][0])
	assert.Equal(t, byte('b'), hashes[1][0])
}

func bytes20(b byte) []byte {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = b
	}
	return buf
}
