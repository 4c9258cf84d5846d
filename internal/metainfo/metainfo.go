// Package metainfo decodes a .torrent file: a bencoded dictionary describing
// a torrent's files, piece layout, and announce URLs.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
)

// File is a root dictionary of a .torrent file.
type File struct {
	Announce     string                 `bencode:"announce"`
	AnnounceList [][]string             `bencode:"announce-list"`
	Comment      string                 `bencode:"comment"`
	CreatedBy    string                 `bencode:"created by"`
	CreationDate int64                  `bencode:"creation date"`
	Encoding     string                 `bencode:"encoding"`
	Info         Info                   `bencode:"info"`
	Custom       map[string]interface{} `bencode:"-"`

	// InfoHash is not a bencode field: it is computed from the raw bytes of
	// the "info" dictionary at parse time, never by re-encoding Info, so it
	// stays byte-identical to the source per spec.
	InfoHash [20]byte `bencode:"-"`
}

// Info is the "info" dictionary of a .torrent file.
type Info struct {
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"`
	Files       []FileEntry `bencode:"files"`
	Private     int        `bencode:"private"`
}

// FileEntry describes one file of a multi-file torrent.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// IsMultiFile resolves the single/multi-file ambiguity the authoritative
// source left overlapping: multi-file iff Files is present, single-file iff
// Length is present. The two are mutually exclusive per the metainfo format.
func (i Info) IsMultiFile() bool {
	return len(i.Files) > 0
}

// FileSpan is one (path, length) entry of the ordered file map the writer
// sink needs, with Offset the absolute byte offset of the file's first byte
// within the concatenated torrent content.
type FileSpan struct {
	Path   string
	Length int64
	Offset int64
}

// FileMap returns the ordered file map for this torrent, joining multi-file
// path components with the OS path separator (never the OS path-list
// separator, which an earlier draft of this system used by mistake).
func (f *File) FileMap(outputDir string) []FileSpan {
	if !f.Info.IsMultiFile() {
		return []FileSpan{{
			Path:   filepath.Join(outputDir, f.Info.Name),
			Length: f.Info.Length,
			Offset: 0,
		}}
	}

	baseDir := filepath.Join(outputDir, f.Info.Name)
	spans := make([]FileSpan, 0, len(f.Info.Files))
	var offset int64

	for _, entry := range f.Info.Files {
		parts := append([]string{baseDir}, entry.Path...)
		spans = append(spans, FileSpan{
			Path:   filepath.Join(parts...),
			Length: entry.Length,
			Offset: offset,
		})
		offset += entry.Length
	}

	return spans
}

// TotalLength returns the sum of all file lengths, which equals
// Σ piece_length with the last piece possibly short.
func (f *File) TotalLength() int64 {
	if !f.Info.IsMultiFile() {
		return f.Info.Length
	}

	var total int64
	for _, entry := range f.Info.Files {
		total += entry.Length
	}

	return total
}

// PieceHashes splits the concatenated 20-byte piece hashes out of Info.Pieces.
func (f *File) PieceHashes() ([][20]byte, error) {
	raw := []byte(f.Info.Pieces)
	if len(raw)%20 != 0 {
		return nil, fmt.Errorf("metainfo: invalid pieces length %d, not a multiple of 20", len(raw))
	}

	n := len(raw) / 20
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], raw[i*20:(i+1)*20])
	}

	return hashes, nil
}

// extractInfoBytes locates the raw bencoded span of the "info" dictionary
// inside a .torrent file's bytes. This is kept close to the teacher's
// implementation on purpose: re-decoding and re-encoding the info dictionary
// risks key reordering or integer formatting drift, and the only correct way
// to get a byte-identical span for a canonical hash is to find it in the
// original bytes.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("metainfo: no \"4:info\" prefix found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]

		switch b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--

			if depth == 0 {
				return data[start : i+1], nil
			}

		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}

			if j >= len(data) {
				return nil, fmt.Errorf("metainfo: unterminated integer at %d", i)
			}

			i = j

		default:
			if b >= '0' && b <= '9' {
				j := i
				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}

				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, fmt.Errorf("metainfo: invalid string length at %d-%d", i, j)
					}

					j++
					i = j + length - 1
				}
			}
		}
	}

	return nil, fmt.Errorf("metainfo: unterminated info dict")
}

func computeInfoHash(data []byte) ([20]byte, error) {
	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return [20]byte{}, fmt.Errorf("metainfo: extracting info bytes: %w", err)
	}

	return sha1.Sum(infoBytes), nil
}

// Load reads and parses a .torrent file at path, populating the InfoHash
// from the raw bytes of the source's "info" dictionary.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %q: %w", path, err)
	}

	var f File
	if err := unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("metainfo: decoding %q: %w", path, err)
	}

	hash, err := computeInfoHash(data)
	if err != nil {
		return nil, err
	}

	f.InfoHash = hash

	log.Printf("[INFO]\tParsed torrent %q: name=%s, pieceLength=%d, infoHash=%x\n",
		path, f.Info.Name, f.Info.PieceLength, f.InfoHash)

	return &f, nil
}
