package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels"
)

// DedupConfig holds the dedup filter configuration.
type DedupConfig struct {
	// Window is how long a message ID is remembered. Within the window,
	// a repeated ID is never reprocessed.
	Window time.Duration `yaml:"window"`

	// Grace widens the staleness cutoff after a reconnect: envelopes
	// older than lastConnectedAt minus Grace are treated as backlog
	// replay and dropped.
	Grace time.Duration `yaml:"grace"`
}

// DefaultDedupConfig returns the default dedup configuration.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Window: 30 * time.Second,
		Grace:  60 * time.Second,
	}
}

// Dedup rejects duplicate or too-old envelopes before any other
// processing, guaranteeing at-most-once downstream handling per message
// ID within the dedup horizon. Memory is bounded by the window: entries
// are dropped lazily on access plus a periodic purge.
type Dedup struct {
	cfg    DedupConfig
	logger *slog.Logger

	// selfID and lastConnectedAt are supplied by the lifecycle manager.
	selfID          func() string
	lastConnectedAt func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // message ID → entry expiry

	now func() time.Time
}

// NewDedup creates the filter. selfID and lastConnectedAt come from the
// connection lifecycle manager and may return zero values before the
// first successful connect.
func NewDedup(cfg DedupConfig, selfID func() string, lastConnectedAt func() time.Time, logger *slog.Logger) *Dedup {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 60 * time.Second
	}
	return &Dedup{
		cfg:             cfg,
		logger:          logger.With("component", "dedup"),
		selfID:          selfID,
		lastConnectedAt: lastConnectedAt,
		seen:            make(map[string]time.Time),
		now:             time.Now,
	}
}

// Admit decides whether the envelope enters the pipeline. On admission
// the ID is remembered for the dedup window.
func (d *Dedup) Admit(env *channels.Envelope) bool {
	if env == nil || env.ID == "" {
		return false
	}

	// Never process the bot's own messages.
	if self := d.selfID(); self != "" && env.SenderID == self {
		return false
	}

	// Empty content carries nothing to process.
	if env.Text == "" {
		return false
	}

	now := d.now()

	// Backlog replay from before the current session (minus grace).
	if connectedAt := d.lastConnectedAt(); !connectedAt.IsZero() {
		if env.Timestamp.Before(connectedAt.Add(-d.cfg.Grace)) {
			d.logger.Debug("dropping stale envelope",
				"id", env.ID, "timestamp", env.Timestamp)
			return false
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.seen[env.ID]; ok {
		if now.Before(expiry) {
			return false
		}
		// Expired entry: the ID may be admitted again.
	}

	d.seen[env.ID] = now.Add(d.cfg.Window)
	return true
}

// Purge evicts expired dedup entries. Returns the number evicted.
func (d *Dedup) Purge() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	evicted := 0
	for id, expiry := range d.seen {
		if now.After(expiry) {
			delete(d.seen, id)
			evicted++
		}
	}
	if evicted > 0 {
		d.logger.Debug("purged dedup entries", "evicted", evicted)
	}
	return evicted
}
