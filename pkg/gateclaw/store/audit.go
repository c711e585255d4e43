package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditAction identifies the kind of audit event.
type AuditAction string

const (
	AuditViolation   AuditAction = "VIOLATION"
	AuditBlacklisted AuditAction = "BLACKLISTED"
	AuditBanned      AuditAction = "BANNED"
	AuditUnbanned    AuditAction = "UNBANNED"
	AuditPromoted    AuditAction = "PROMOTED"
)

// auditIcons give each action a visual marker in the log file.
var auditIcons = map[AuditAction]string{
	AuditViolation:   "⚠️",
	AuditBlacklisted: "⛔",
	AuditBanned:      "🔨",
	AuditUnbanned:    "✅",
	AuditPromoted:    "👑",
}

// AuditLog is the append-only abuse-containment log. Unlike the JSON
// documents, entries are plain text lines and are never rewritten.
// Append failures are best-effort: logged and swallowed, the in-memory
// state is authoritative until the next write succeeds.
type AuditLog struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewAuditLog creates an audit log writing to the given file.
func NewAuditLog(dir, name string, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{
		path:   filepath.Join(dir, name),
		logger: logger.With("component", "audit"),
	}
}

// Append records one audit entry. The line format is stable so the file
// can be read by humans and grepped by tooling:
//
//	[2026-01-02T15:04:05Z] ⛔ BLACKLISTED | User: 5511999999999 | reached max violations
func (a *AuditLog) Append(action AuditAction, userID, details string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	icon, ok := auditIcons[action]
	if !ok {
		icon = "•"
	}
	line := fmt.Sprintf("[%s] %s %s | User: %s | %s\n",
		time.Now().UTC().Format(time.RFC3339), icon, action, userID, details)

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Warn("audit append failed", "error", err,
			"action", action, "user", userID)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		a.logger.Warn("audit write failed", "error", err,
			"action", action, "user", userID)
	}
}
