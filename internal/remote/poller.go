package remote

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

// PollerConfig configures the feed poller.
type PollerConfig struct {
	// Interval is how often to check the feed for new changes (default: 1s)
	Interval time.Duration

	// Since is the feed sequence to resume from. Empty starts from the
	// beginning of the feed.
	Since string

	// Logger for poller activity
	Logger *log.Logger
}

// DefaultPollerConfig returns sensible defaults.
func DefaultPollerConfig() *PollerConfig {
	return &PollerConfig{
		Interval: time.Second,
		Logger:   log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Callback receives the events of one page of the feed. The poller only
// moves past the page once the callback returned nil.
type Callback func(events []reconcile.Event) error

// Poller reads the changes feed and converts it into reconcile events.
type Poller struct {
	feed   Feed
	lookup Lookup
	config *PollerConfig

	mu    sync.Mutex
	since string
}

// NewPoller creates a poller. lookup may be nil, in which case every
// document is reported as new.
func NewPoller(feed Feed, lookup Lookup, config *PollerConfig) *Poller {
	if config == nil {
		config = DefaultPollerConfig()
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Logger == nil {
		config.Logger = DefaultPollerConfig().Logger
	}
	return &Poller{feed: feed, lookup: lookup, config: config, since: config.Since}
}

// Since returns the sequence the next poll resumes from.
func (p *Poller) Since() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.since
}

// Fetch reads the next page of the feed without consuming it. Pass the
// returned sequence to Advance once the events have been handled.
func (p *Poller) Fetch(ctx context.Context) ([]reconcile.Event, string, error) {
	since := p.Since()
	docs, next, err := p.feed.Changes(ctx, since)
	if err != nil {
		return nil, since, fmt.Errorf("failed to read changes feed: %w", err)
	}
	events, err := Events(ctx, p.lookup, docs)
	if err != nil {
		return nil, since, err
	}
	if len(docs) > 0 {
		p.config.Logger.Printf("Feed page %s..%s: %d docs, %d events", since, next, len(docs), len(events))
	}
	return events, next, nil
}

// Advance moves the poller past everything up to seq.
func (p *Poller) Advance(seq string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.since = seq
}

// Poll fetches one page, hands it to callback and advances on success.
func (p *Poller) Poll(ctx context.Context, callback Callback) error {
	events, next, err := p.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		if err := callback(events); err != nil {
			return fmt.Errorf("failed to handle feed page: %w", err)
		}
	}
	p.Advance(next)
	return nil
}

// Watch polls the feed at the configured interval until ctx is cancelled.
// Errors are logged and the page is retried on the next tick.
func (p *Poller) Watch(ctx context.Context, callback Callback) error {
	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			if err := p.Poll(ctx, callback); err != nil {
				p.config.Logger.Printf("Warning: %v", err)
			}
		}
	}
}
