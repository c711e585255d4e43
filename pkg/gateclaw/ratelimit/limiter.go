// Package ratelimit implements GateClaw's per-user abuse containment:
// sliding-window message counters, a violation counter, and a persisted
// blacklist. Policy denials are plain results, never errors; the caller
// turns them into user-facing messages.
package ratelimit

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/store"
)

// Reason explains why a check was denied.
type Reason string

const (
	ReasonBlacklisted Reason = "BLACKLISTED"
	ReasonRateLimited Reason = "RATE_LIMIT_EXCEEDED"
)

// Config holds the rate limiter configuration.
type Config struct {
	// HourlyLimit is the number of messages a user may send per window.
	HourlyLimit int `yaml:"hourly_limit"`

	// HourlyWindow is the sliding window duration.
	HourlyWindow time.Duration `yaml:"hourly_window"`

	// MaxViolations is how many windows a user may blow through before
	// being blacklisted.
	MaxViolations int `yaml:"max_violations"`

	// SweepInterval is how often expired windows are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the default limiter configuration.
func DefaultConfig() Config {
	return Config{
		HourlyLimit:   100,
		HourlyWindow:  time.Hour,
		MaxViolations: 3,
		SweepInterval: 10 * time.Minute,
	}
}

// Result is the outcome of a rate-limit check.
type Result struct {
	// Allowed reports whether the message may proceed.
	Allowed bool

	// Reason is set when Allowed is false.
	Reason Reason

	// WaitMinutes is the time until the user's window resets
	// (only for ReasonRateLimited).
	WaitMinutes int

	// Remaining is the quota left in the current window when allowed.
	Remaining int
}

// rateWindow is one user's counter within the current window.
type rateWindow struct {
	count       int
	windowStart time.Time
}

const blacklistDoc = "blacklist.json"

// Limiter tracks per-user windows, violations, and the blacklist.
// All read-modify-write sequences run under one mutex so interleaved
// message handlers cannot race on the same user's counter.
type Limiter struct {
	cfg    Config
	store  *store.Store
	audit  *store.AuditLog
	logger *slog.Logger

	mu         sync.Mutex
	windows    map[string]*rateWindow
	violations map[string]int
	blacklist  map[string]bool

	now func() time.Time
}

// New creates a Limiter and restores the blacklist from disk.
func New(cfg Config, st *store.Store, audit *store.AuditLog, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HourlyLimit <= 0 {
		cfg.HourlyLimit = 100
	}
	if cfg.HourlyWindow <= 0 {
		cfg.HourlyWindow = time.Hour
	}
	if cfg.MaxViolations <= 0 {
		cfg.MaxViolations = 3
	}

	l := &Limiter{
		cfg:        cfg,
		store:      st,
		audit:      audit,
		logger:     logger.With("component", "ratelimit"),
		windows:    make(map[string]*rateWindow),
		violations: make(map[string]int),
		blacklist:  make(map[string]bool),
		now:        time.Now,
	}

	var banned []string
	if err := st.Load(blacklistDoc, &banned); err != nil {
		l.logger.Warn("loading blacklist failed, starting empty", "error", err)
	}
	for _, id := range banned {
		l.blacklist[id] = true
	}
	if len(banned) > 0 {
		l.logger.Info("blacklist restored", "users", len(banned))
	}

	return l
}

// Check applies the rate-limit policy to one message from userID.
// The owner always passes, bypassing every counter.
func (l *Limiter) Check(userID string, isOwner bool) Result {
	if isOwner {
		return Result{Allowed: true, Remaining: l.cfg.HourlyLimit}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blacklist[userID] {
		return Result{Allowed: false, Reason: ReasonBlacklisted}
	}

	now := l.now()
	w, ok := l.windows[userID]
	if !ok {
		w = &rateWindow{windowStart: now}
		l.windows[userID] = w
	}

	// Expired window: fresh start.
	if now.Sub(w.windowStart) > l.cfg.HourlyWindow {
		w.count = 0
		w.windowStart = now
	}

	w.count++
	if w.count > l.cfg.HourlyLimit {
		l.handleViolation(userID)
		remaining := l.cfg.HourlyWindow - now.Sub(w.windowStart)
		wait := int(math.Ceil(remaining.Minutes()))
		if wait < 1 {
			wait = 1
		}
		return Result{Allowed: false, Reason: ReasonRateLimited, WaitMinutes: wait}
	}

	return Result{Allowed: true, Remaining: l.cfg.HourlyLimit - w.count}
}

// handleViolation bumps the violation counter and blacklists the user
// once it reaches the configured maximum. Callers hold l.mu.
func (l *Limiter) handleViolation(userID string) {
	l.violations[userID]++
	n := l.violations[userID]

	l.logger.Warn("rate limit violation",
		"user", userID, "violations", n, "max", l.cfg.MaxViolations)
	l.audit.Append(store.AuditViolation, userID, "exceeded hourly limit")

	if n >= l.cfg.MaxViolations && !l.blacklist[userID] {
		l.blacklist[userID] = true
		l.persistBlacklist()
		l.logger.Warn("user blacklisted", "user", userID)
		l.audit.Append(store.AuditBlacklisted, userID, "reached max violations")
	}
}

// IsBlacklisted reports whether userID is on the blacklist.
func (l *Limiter) IsBlacklisted(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blacklist[userID]
}

// Violations returns the current violation count for userID.
func (l *Limiter) Violations(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.violations[userID]
}

// BanUser adds userID to the blacklist directly (admin operation).
func (l *Limiter) BanUser(userID, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blacklist[userID] {
		return
	}
	l.blacklist[userID] = true
	l.persistBlacklist()
	l.logger.Info("user banned", "user", userID, "reason", reason)
	l.audit.Append(store.AuditBanned, userID, reason)
}

// UnbanUser removes userID from the blacklist and clears its violation
// history so the user starts fresh.
func (l *Limiter) UnbanUser(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.blacklist, userID)
	delete(l.violations, userID)
	delete(l.windows, userID)
	l.persistBlacklist()
	l.logger.Info("user unbanned", "user", userID)
	l.audit.Append(store.AuditUnbanned, userID, "manual unban")
}

// Blacklisted returns a snapshot of the blacklist.
func (l *Limiter) Blacklisted() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.blacklist))
	for id := range l.blacklist {
		out = append(out, id)
	}
	return out
}

// Sweep evicts rate windows that have fully expired, bounding memory to
// users active within the last window. Returns the number evicted.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for id, w := range l.windows {
		if now.Sub(w.windowStart) > l.cfg.HourlyWindow {
			delete(l.windows, id)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.Debug("swept expired rate windows", "evicted", evicted)
	}
	return evicted
}

// persistBlacklist rewrites the blacklist document. Callers hold l.mu.
// Persistence failures are best-effort; the in-memory set stays
// authoritative and is rewritten on the next mutation.
func (l *Limiter) persistBlacklist() {
	banned := make([]string, 0, len(l.blacklist))
	for id := range l.blacklist {
		banned = append(banned, id)
	}
	if err := l.store.Save(blacklistDoc, banned); err != nil {
		l.logger.Warn("persisting blacklist failed", "error", err)
	}
}
