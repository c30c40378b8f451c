package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Feed is a source of remote changes.
type Feed interface {
	// Changes returns the documents changed after since, oldest first,
	// and the sequence to resume from. An empty since starts from the
	// beginning of the feed.
	Changes(ctx context.Context, since string) ([]Doc, string, error)
}

// ParseSeq parses a feed sequence. An empty string is sequence zero.
func ParseSeq(since string) (int64, error) {
	if since == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(since, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid feed sequence %q: %w", since, err)
	}
	return seq, nil
}

// FileFeed is a Feed backed by a JSON-lines file, one Doc per line. It
// replays captures of a real feed and serves as the feed of a remote
// replica living on a shared filesystem.
type FileFeed struct {
	path string
	mu   sync.Mutex
}

// NewFileFeed creates a feed reading path. The file does not have to
// exist yet.
func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

// Changes implements Feed.
func (f *FileFeed) Changes(ctx context.Context, since string) ([]Doc, string, error) {
	after, err := ParseSeq(since)
	if err != nil {
		return nil, since, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, since, nil
	}
	if err != nil {
		return nil, since, fmt.Errorf("failed to open feed %s: %w", f.path, err)
	}
	defer file.Close()

	var docs []Doc
	last := after
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, since, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var doc Doc
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			return nil, since, fmt.Errorf("failed to parse feed line %d: %w", line, err)
		}
		if doc.Seq <= after {
			continue
		}
		docs = append(docs, doc)
		if doc.Seq > last {
			last = doc.Seq
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, since, fmt.Errorf("failed to scan feed: %w", err)
	}
	return docs, strconv.FormatInt(last, 10), nil
}

// Append writes docs to the end of the feed file, assigning sequence
// numbers to docs that have none.
func (f *FileFeed) Append(docs ...Doc) error {
	_, last, err := f.Changes(context.Background(), "")
	if err != nil {
		return err
	}
	seq, _ := ParseSeq(last)

	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open feed %s: %w", f.path, err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, doc := range docs {
		if doc.Seq <= seq {
			seq++
			doc.Seq = seq
		} else {
			seq = doc.Seq
		}
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to append to feed: %w", err)
		}
	}
	return nil
}

// ChangesRequest is what a WebSocketFeed sends to ask for changes.
type ChangesRequest struct {
	Since string `json:"since"`
}

// ChangesResponse is the answer to a ChangesRequest.
type ChangesResponse struct {
	Results []Doc  `json:"results"`
	LastSeq string `json:"last_seq"`
	Error   string `json:"error,omitempty"`
}

// WebSocketFeed reads the changes feed of a remote server over a
// WebSocket connection, one request per poll. The connection is opened
// on first use and reopened after an error.
type WebSocketFeed struct {
	url     string
	timeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketFeed creates a feed talking to the server at url
// (ws:// or wss://).
func NewWebSocketFeed(url string) *WebSocketFeed {
	return &WebSocketFeed{url: url, timeout: 30 * time.Second}
}

// Changes implements Feed.
func (f *WebSocketFeed) Changes(ctx context.Context, since string) ([]Doc, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if f.conn == nil {
		conn, _, err := websocket.Dial(ctx, f.url, nil)
		if err != nil {
			return nil, since, fmt.Errorf("failed to connect to %s: %w", f.url, err)
		}
		conn.SetReadLimit(16 * 1024 * 1024)
		f.conn = conn
	}

	resp, err := f.roundTrip(ctx, since)
	if err != nil {
		_ = f.conn.Close(websocket.StatusInternalError, "request failed")
		f.conn = nil
		return nil, since, err
	}
	if resp.Error != "" {
		return nil, since, fmt.Errorf("remote feed error: %s", resp.Error)
	}
	if resp.LastSeq == "" {
		resp.LastSeq = since
	}
	return resp.Results, resp.LastSeq, nil
}

func (f *WebSocketFeed) roundTrip(ctx context.Context, since string) (*ChangesResponse, error) {
	req, err := json.Marshal(ChangesRequest{Since: since})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal changes request: %w", err)
	}
	if err := f.conn.Write(ctx, websocket.MessageText, req); err != nil {
		return nil, fmt.Errorf("failed to send changes request: %w", err)
	}

	_, data, err := f.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read changes response: %w", err)
	}
	var resp ChangesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse changes response: %w", err)
	}
	return &resp, nil
}

// Close closes the connection, if open.
func (f *WebSocketFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close(websocket.StatusNormalClosure, "")
	f.conn = nil
	return err
}
