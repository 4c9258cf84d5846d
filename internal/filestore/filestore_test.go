package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriterFansAcrossFiles(t *testing.T) {
	dir := t.TempDir()

	spans := []Span{
		{Path: filepath.Join(dir, "a.bin"), Length: 5, Offset: 0},
		{Path: filepath.Join(dir, "b.bin"), Length: 5, Offset: 5},
	}

	w := NewFileWriter(spans)
	require.NoError(t, w.CreateFiles())
	defer w.Close()

	data := []byte("0123456789")
	require.NoError(t, w.WriteAt(0, data))

	gotA, err := os.ReadFile(spans[0].Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("01234"), gotA)

	gotB, err := os.ReadFile(spans[1].Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("56789"), gotB)
}

func TestFileWriterPartialOverlap(t *testing.T) {
	dir := t.TempDir()

	spans := []Span{
		{Path: filepath.Join(dir, "a.bin"), Length: 5, Offset: 0},
		{Path: filepath.Join(dir, "b.bin"), Length: 5, Offset: 5},
	}

	w := NewFileWriter(spans)
	require.NoError(t, w.CreateFiles())
	defer w.Close()

	// Write that starts mid-way through file a and ends mid-way through b.
	require.NoError(t, w.WriteAt(3, []byte("XXXX")))

	gotA, err := os.ReadFile(spans[0].Path)
	require.NoError(t, err)
	assert.Equal(t, byte('X'), gotA[3])
	assert.Equal(t, byte('X'), gotA[4])

	gotB, err := os.ReadFile(spans[1].Path)
	require.NoError(t, err)
	assert.Equal(t, byte('X'), gotB[0])
	assert.Equal(t, byte('X'), gotB[1])
}
