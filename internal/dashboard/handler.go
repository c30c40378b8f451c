package dashboard

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// RunCompleteData summarizes one applied reconcile run
type RunCompleteData struct {
	Side     string        `json:"side"`
	Events   int           `json:"events"`
	Changes  int           `json:"changes"`
	Failed   int           `json:"failed"`
	Pending  int           `json:"pending"`
	Duration time.Duration `json:"duration"`
}

// ChangeData describes the outcome of one applied change
type ChangeData struct {
	Side    string `json:"side"`
	Kind    string `json:"kind"`
	DocType string `json:"doc_type"`
	Path    string `json:"path"`
	Source  string `json:"source,omitempty"`
	Status  string `json:"status"` // applied, failed, ignored
	Error   string `json:"error,omitempty"`
}

// PendingData lists the changes a side deferred to its next run
type PendingData struct {
	Side  string   `json:"side"`
	Count int      `json:"count"`
	Paths []string `json:"paths,omitempty"`
}

// StatsData contains daemon statistics
type StatsData struct {
	Runs    map[string]int `json:"runs"`
	Applied int            `json:"applied"`
	Failed  int            `json:"failed"`
	Ignored int            `json:"ignored"`
	Pending map[string]int `json:"pending"`
}

// Handler turns daemon activity into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		stats: StatsData{
			Runs:    make(map[string]int),
			Pending: make(map[string]int),
		},
	}
}

// OnChangeApplied reports the outcome of one change. It has the signature
// of the applier's OnApplied hook.
func (h *Handler) OnChangeApplied(side reconcile.Side, c reconcile.Change, err error) {
	data := ChangeData{
		Side:    side.String(),
		Kind:    c.Kind.String(),
		DocType: c.DocType.String(),
		Path:    c.Path,
		Source:  c.SourcePath(),
		Status:  "applied",
	}

	h.mu.Lock()
	switch {
	case err != nil:
		data.Status = "failed"
		data.Error = err.Error()
		h.stats.Failed++
	case c.Kind == reconcile.KindIgnored:
		data.Status = "ignored"
		h.stats.Ignored++
	default:
		h.stats.Applied++
	}
	h.mu.Unlock()

	h.send(MessageTypeChange, data)
}

// OnRunComplete reports a finished run and the changes it deferred.
func (h *Handler) OnRunComplete(side reconcile.Side, events, changes, failed int, pending []reconcile.Change, duration time.Duration) {
	h.logger.Printf("%s run complete: %d events, %d changes, %d failed, %d pending in %v",
		side, events, changes, failed, len(pending), duration)

	h.mu.Lock()
	h.stats.Runs[side.String()]++
	h.stats.Pending[side.String()] = len(pending)
	h.mu.Unlock()

	h.send(MessageTypeRunComplete, RunCompleteData{
		Side:     side.String(),
		Events:   events,
		Changes:  changes,
		Failed:   failed,
		Pending:  len(pending),
		Duration: duration,
	})

	paths := make([]string, 0, len(pending))
	for _, c := range pending {
		paths = append(paths, c.Path)
	}
	h.send(MessageTypePending, PendingData{Side: side.String(), Count: len(pending), Paths: paths})

	h.broadcastStats()
}

func (h *Handler) broadcastStats() {
	h.send(MessageTypeStats, h.GetStats())
}

func (h *Handler) send(typ MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// GetStats returns a copy of the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := h.stats
	out.Runs = make(map[string]int, len(h.stats.Runs))
	for k, v := range h.stats.Runs {
		out.Runs[k] = v
	}
	out.Pending = make(map[string]int, len(h.stats.Pending))
	for k, v := range h.stats.Pending {
		out.Pending[k] = v
	}
	return out
}
