package metainfo

import (
	"bytes"

	"github.com/jackpal/bencode-go"
)

// unmarshal decodes bencoded torrent-file bytes into f, the way the
// teacher's torrent/parse.go decodes into a TorrentFile with
// bencode.Unmarshal.
func unmarshal(data []byte, f *File) error {
	return bencode.Unmarshal(bytes.NewReader(data), f)
}
