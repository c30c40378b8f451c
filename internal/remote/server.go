package remote

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"
)

// FeedHandler serves feed over WebSocket: every ChangesRequest received
// on a connection is answered with one ChangesResponse.
type FeedHandler struct {
	feed   Feed
	logger *log.Logger
}

// NewFeedHandler creates a handler serving feed. logger may be nil.
func NewFeedHandler(feed Feed, logger *log.Logger) *FeedHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &FeedHandler{feed: feed, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *FeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		resp := h.answer(ctx, data)
		out, err := json.Marshal(resp)
		if err != nil {
			h.logger.Printf("Failed to marshal changes response: %v", err)
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, out); err != nil {
			return
		}
	}
}

func (h *FeedHandler) answer(ctx context.Context, data []byte) ChangesResponse {
	var req ChangesRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChangesResponse{Error: "malformed request: " + err.Error()}
	}
	docs, last, err := h.feed.Changes(ctx, req.Since)
	if err != nil {
		return ChangesResponse{LastSeq: req.Since, Error: err.Error()}
	}
	return ChangesResponse{Results: docs, LastSeq: last}
}
