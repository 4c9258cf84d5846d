package torrent

import (
	"encoding/binary"
	"fmt"
)

// protocolName is the fixed BitTorrent handshake protocol string. Its
// length, 19, is also the byte value the disambiguation heuristic in
// PeerSet.Tick uses to recognize a pending handshake versus a regular
// length-prefixed message at the head of an un-handshaked node's inbox.
const protocolName = "BitTorrent protocol"

// HandshakeLen is the fixed wire length of a handshake: 49 + pstrlen.
const HandshakeLen = 49 + len(protocolName)

// MessageID identifies a BitTorrent peer wire message.
type MessageID byte

const (
	MsgChoke MessageID = iota
	MsgUnchoke
	MsgInterested
	MsgNotInterested
	MsgHave
	MsgBitfield
	MsgRequest
	MsgPiece
	MsgCancel
)

// Handshake is the fixed-format 68-byte greeting that opens every peer
// connection and binds it to one torrent.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// ParseHandshake decodes a handshake from the head of buf. It requires
// buf[0] == 19 and buf[1:20] == "BitTorrent protocol"; the 8 reserved bytes
// are extracted but ignored.
func ParseHandshake(buf []byte) (Handshake, int, error) {
	if len(buf) < HandshakeLen {
		return Handshake{}, 0, fmt.Errorf("frame: handshake needs %d bytes, have %d: %w", HandshakeLen, len(buf), ErrTruncated)
	}

	if buf[0] != byte(len(protocolName)) || string(buf[1:1+len(protocolName)]) != protocolName {
		return Handshake{}, 0, fmt.Errorf("frame: unrecognized handshake protocol string: %w", ErrProtocolViolation)
	}

	var hs Handshake
	off := 1 + len(protocolName) + 8 // pstr + reserved
	copy(hs.InfoHash[:], buf[off:off+20])
	copy(hs.PeerID[:], buf[off+20:off+40])

	return hs, HandshakeLen, nil
}

// AppendHandshake appends the wire encoding of a handshake to buf.
func AppendHandshake(buf []byte, hs Handshake) []byte {
	buf = append(buf, byte(len(protocolName)))
	buf = append(buf, protocolName...)
	buf = append(buf, make([]byte, 8)...) // reserved
	buf = append(buf, hs.InfoHash[:]...)
	buf = append(buf, hs.PeerID[:]...)
	return buf
}

// Message is a parsed BitTorrent peer wire message. A keep-alive is
// represented with KeepAlive set and a nil Payload.
type Message struct {
	KeepAlive bool
	ID        MessageID
	Payload   []byte
}

// ParseMessage decodes one length-prefixed message from the head of buf.
// It requires at least 4 bytes for the length prefix; if the buffer holds
// fewer than 4+length bytes total it returns ErrTruncated. A length of 0 is
// a keep-alive.
func ParseMessage(buf []byte) (Message, int, error) {
	if len(buf) < 4 {
		return Message{}, 0, fmt.Errorf("frame: need 4 bytes for length prefix, have %d: %w", len(buf), ErrTruncated)
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if length == 0 {
		return Message{KeepAlive: true}, 4, nil
	}

	total := 4 + int(length)
	if len(buf) < total {
		return Message{}, 0, fmt.Errorf("frame: need %d bytes for message, have %d: %w", total, len(buf), ErrTruncated)
	}

	id := MessageID(buf[4])
	payload := append([]byte(nil), buf[5:total]...)

	return Message{ID: id, Payload: payload}, total, nil
}

// AppendMessage appends the wire encoding of id+payload to buf.
func AppendMessage(buf []byte, id MessageID, payload []byte) []byte {
	length := uint32(1 + len(payload))

	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], length)

	buf = append(buf, lenBytes[:]...)
	buf = append(buf, byte(id))
	buf = append(buf, payload...)

	return buf
}

// AppendKeepAlive appends a 4-byte zero length prefix keep-alive to buf.
func AppendKeepAlive(buf []byte) []byte {
	return append(buf, 0, 0, 0, 0)
}

// AppendRequest appends a REQUEST/CANCEL-shaped payload: index, begin,
// length, each a 4-byte big-endian integer.
func AppendRequest(buf []byte, id MessageID, index, begin, length uint32) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], index)
	binary.BigEndian.PutUint32(payload[4:8], begin)
	binary.BigEndian.PutUint32(payload[8:12], length)

	return AppendMessage(buf, id, payload)
}

// AppendHave appends a HAVE(index) message.
func AppendHave(buf []byte, index uint32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, index)

	return AppendMessage(buf, MsgHave, payload)
}

// ParseRequestPayload decodes a REQUEST/CANCEL payload into its three
// big-endian uint32 fields.
func ParseRequestPayload(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) < 12 {
		return 0, 0, 0, fmt.Errorf("frame: request payload too short (%d bytes): %w", len(payload), ErrProtocolViolation)
	}

	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])

	return index, begin, length, nil
}

// ParsePiecePayload decodes a PIECE payload into its index, begin, and
// block bytes.
func ParsePiecePayload(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("frame: piece payload too short (%d bytes): %w", len(payload), ErrProtocolViolation)
	}

	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	block = payload[8:]

	return index, begin, block, nil
}

// DecodeBitfield expands a BITFIELD payload into one bool per piece index,
// MSB-first per byte, per spec.md §4.5.
func DecodeBitfield(payload []byte, numPieces int) []bool {
	out := make([]bool, numPieces)

	for i := 0; i < numPieces; i++ {
		byteIdx := i / 8
		bitIdx := i % 8

		if byteIdx >= len(payload) {
			break
		}

		out[i] = (payload[byteIdx]>>(7-bitIdx))&1 == 1
	}

	return out
}

// EncodeBitfield packs a []bool into a BITFIELD payload, MSB-first per byte.
func EncodeBitfield(have []bool) []byte {
	out := make([]byte, (len(have)+7)/8)

	for i, h := range have {
		if !h {
			continue
		}
		out[i/8] |= 1 << (7 - uint(i%8))
	}

	return out
}
