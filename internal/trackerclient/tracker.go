// Package trackerclient implements the tracker HTTP GET + bencoded response
// protocol the engine consumes to discover peer addresses.
package trackerclient

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/jackpal/bencode-go"
)

// Event is a tracker announce event.
type Event string

const (
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
	EventNone      Event = ""
)

// rawResponse mirrors the bencoded dictionary a tracker returns.
type rawResponse struct {
	Failure     string `bencode:"failure reason"`
	Interval    int    `bencode:"interval"`
	MinInterval int    `bencode:"min interval"`
	Peers       string `bencode:"peers"`
}

// Response is the decoded, compact-form tracker response the engine
// consumes. Dictionary-list peers are not supported in this version, per
// spec: the engine consumes only the compact form.
type Response struct {
	Interval    time.Duration
	MinInterval time.Duration
	Peers       []PeerAddr
}

// PeerAddr is one (ip, port) pair extracted from a compact peer list.
type PeerAddr struct {
	IP   string
	Port uint16
}

// Client announces to a single HTTP tracker.
type Client struct {
	AnnounceURL string
	InfoHash    [20]byte
	PeerID      [20]byte
	Port        uint16

	HTTPClient *http.Client
}

// NewClient builds a Client with the teacher's 15s HTTP timeout default.
func NewClient(announceURL string, infoHash, peerID [20]byte, port uint16) *Client {
	return &Client{
		AnnounceURL: announceURL,
		InfoHash:    infoHash,
		PeerID:      peerID,
		Port:        port,
		HTTPClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Announce sends a single tracker request: GET with info_hash, peer_id,
// port, uploaded, downloaded, left, compact=1, and the given event.
func (c *Client) Announce(ctx context.Context, uploaded, downloaded, left int64, event Event) (*Response, error) {
	u, err := url.Parse(c.AnnounceURL)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: parsing announce URL %q: %w", c.AnnounceURL, err)
	}

	params := url.Values{}
	params.Set("info_hash", string(c.InfoHash[:]))
	params.Set("peer_id", string(c.PeerID[:]))
	params.Set("port", fmt.Sprintf("%d", c.Port))
	params.Set("uploaded", fmt.Sprintf("%d", uploaded))
	params.Set("downloaded", fmt.Sprintf("%d", downloaded))
	params.Set("left", fmt.Sprintf("%d", left))
	params.Set("compact", "1")

	if event != EventNone {
		params.Set("event", string(event))
	}

	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: building request: %w", err)
	}

	req.Header.Set("User-Agent", "leech/1.0")

	log.Printf("[INFO]\tTracker request: %s event=%s\n", u.String(), event)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("trackerclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trackerclient: tracker returned status %d", resp.StatusCode)
	}

	var raw rawResponse
	if err := bencode.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("trackerclient: decoding response: %w", err)
	}

	if raw.Failure != "" {
		return nil, fmt.Errorf("trackerclient: tracker failure: %s", raw.Failure)
	}

	peers, err := parseCompactPeers(raw.Peers)
	if err != nil {
		return nil, err
	}

	interval := raw.Interval
	if interval <= 0 {
		interval = 1800
	}

	out := &Response{
		Interval: time.Duration(interval) * time.Second,
		Peers:    peers,
	}

	if raw.MinInterval > 0 {
		out.MinInterval = time.Duration(raw.MinInterval) * time.Second
	}

	log.Printf("[INFO]\tTracker response: %d peers, interval=%s\n", len(peers), out.Interval)

	return out, nil
}

// parseCompactPeers decodes the compact peer list: a byte string of 6-byte
// records, 4-byte big-endian IPv4 followed by a 2-byte big-endian port.
func parseCompactPeers(raw string) ([]PeerAddr, error) {
	b := []byte(raw)
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("trackerclient: invalid compact peers length %d", len(b))
	}

	peers := make([]PeerAddr, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := fmt.Sprintf("%d.%d.%d.%d", b[i], b[i+1], b[i+2], b[i+3])
		port := uint16(b[i+4])<<8 | uint16(b[i+5])
		peers = append(peers, PeerAddr{IP: ip, Port: port})
	}

	return peers, nil
}
