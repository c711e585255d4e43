// Package moderation holds GateClaw's policy decision functions. They only
// decide; the pipeline performs the side-effecting gateway calls (remove
// participant, post notice), so policy stays testable and decoupled from
// the transport.
package moderation

import (
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// GroupPolicy is the externally supplied per-group moderation policy.
type GroupPolicy struct {
	// AntiLink removes messages (and senders) posting links.
	AntiLink bool `yaml:"anti_link"`

	// AutoPromote enables auto-promotion for the leveling engine.
	AutoPromote bool `yaml:"auto_promote"`

	// Muted lists user IDs whose messages are dropped in this group.
	Muted []string `yaml:"muted"`
}

// Config holds the moderation configuration.
type Config struct {
	// SpamLimit is the number of messages within SpamWindow that trips
	// the burst heuristic. This is deliberately tighter and shorter than
	// the hourly rate limiter.
	SpamLimit int `yaml:"spam_limit"`

	// SpamWindow is the burst detection window.
	SpamWindow time.Duration `yaml:"spam_window"`

	// Groups maps group IDs to their policies.
	Groups map[string]GroupPolicy `yaml:"groups"`
}

// DefaultConfig returns the default moderation configuration.
func DefaultConfig() Config {
	return Config{
		SpamLimit:  8,
		SpamWindow: 10 * time.Second,
	}
}

// linkPattern matches the URL shapes worth moderating in chat: bare
// http(s) links, www-prefixed hosts, and WhatsApp invite links.
var linkPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.|wa\.me/|chat\.whatsapp\.com/)\S+`)

// ContainsLink reports whether text contains a link.
func ContainsLink(text string) bool {
	return linkPattern.MatchString(text)
}

// Moderator evaluates moderation policy for the pipeline.
type Moderator struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	bursts map[string][]time.Time

	now func() time.Time
}

// New creates a Moderator.
func New(cfg Config, logger *slog.Logger) *Moderator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpamLimit <= 0 {
		cfg.SpamLimit = 8
	}
	if cfg.SpamWindow <= 0 {
		cfg.SpamWindow = 10 * time.Second
	}
	return &Moderator{
		cfg:    cfg,
		logger: logger.With("component", "moderation"),
		bursts: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// IsUserMuted reports whether userID is muted in groupID.
func (m *Moderator) IsUserMuted(groupID, userID string) bool {
	policy, ok := m.cfg.Groups[groupID]
	if !ok {
		return false
	}
	for _, muted := range policy.Muted {
		if muted == userID {
			return true
		}
	}
	return false
}

// IsAntiLinkActive reports whether link moderation is on for groupID.
func (m *Moderator) IsAntiLinkActive(groupID string) bool {
	return m.cfg.Groups[groupID].AntiLink
}

// IsAutoPromoteEnabled reports the per-group auto-promotion flag, consumed
// by the leveling engine.
func (m *Moderator) IsAutoPromoteEnabled(groupID string) bool {
	return m.cfg.Groups[groupID].AutoPromote
}

// CheckSpam records one message from userID and reports whether the user
// is bursting: SpamLimit or more messages within SpamWindow. The window
// is pruned on every call, so memory stays bounded to active senders.
func (m *Moderator) CheckSpam(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.cfg.SpamWindow)

	recent := m.bursts[userID][:0]
	for _, ts := range m.bursts[userID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	m.bursts[userID] = recent

	if len(recent) >= m.cfg.SpamLimit {
		m.logger.Warn("spam burst detected",
			"user", userID, "messages", len(recent), "window", m.cfg.SpamWindow)
		return true
	}
	return false
}
