// Package leveling implements the per-(group,user) XP ledger and the
// per-group auto-promotion window. XP requirements double each level, so
// the curve is deliberately harsh; the first users in a group to reach
// the maximum level compete for a fixed number of promotion slots.
package leveling

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/store"
)

// Config holds the leveling engine configuration.
type Config struct {
	// BaseXP is the XP required to clear level 0.
	BaseXP int `yaml:"base_xp"`

	// GrowthFactor multiplies the requirement per level.
	GrowthFactor float64 `yaml:"growth_factor"`

	// MaxLevel is the level cap.
	MaxLevel int `yaml:"max_level"`

	// XPPerMessage is the XP awarded for each admitted group message.
	XPPerMessage int `yaml:"xp_per_message"`

	// TopK is how many max-level users per window are auto-promoted.
	TopK int `yaml:"top_k"`

	// WindowDuration is the promotion window length, measured from the
	// first max-level achiever in the window.
	WindowDuration time.Duration `yaml:"window_duration"`
}

// DefaultConfig returns the default leveling configuration.
func DefaultConfig() Config {
	return Config{
		BaseXP:         100,
		GrowthFactor:   2,
		MaxLevel:       10,
		XPPerMessage:   5,
		TopK:           3,
		WindowDuration: 72 * time.Hour,
	}
}

// Record is one user's progress in one group.
type Record struct {
	GroupID string `json:"gid"`
	UserID  string `json:"uid"`
	Level   int    `json:"level"`
	XP      int    `json:"xp"`
}

const (
	levelsDoc  = "levels.json"
	windowsDoc = "promotions.json"
)

// Engine owns the level ledger and the promotion windows. A single mutex
// guards every read-modify-write so two rapid messages from the same user
// cannot both read a stale record.
type Engine struct {
	cfg    Config
	store  *store.Store
	audit  *store.AuditLog
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*Record // composite groupID|userID key
	windows map[string]*Window // groupID key

	// promoter and autoPromote are external collaborators: the gateway
	// action and the per-group configuration flag.
	promoter    Promoter
	autoPromote func(groupID string) bool

	now func() time.Time
}

// New creates an Engine and restores the ledger and windows from disk.
func New(cfg Config, st *store.Store, audit *store.AuditLog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseXP <= 0 {
		cfg.BaseXP = 100
	}
	if cfg.GrowthFactor <= 1 {
		cfg.GrowthFactor = 2
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = 10
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 72 * time.Hour
	}

	e := &Engine{
		cfg:     cfg,
		store:   st,
		audit:   audit,
		logger:  logger.With("component", "leveling"),
		records: make(map[string]*Record),
		windows: make(map[string]*Window),
		now:     time.Now,
	}

	var ledger []Record
	if err := st.Load(levelsDoc, &ledger); err != nil {
		e.logger.Warn("loading level ledger failed, starting empty", "error", err)
	}
	for i := range ledger {
		rec := ledger[i]
		e.records[rec.GroupID+"|"+rec.UserID] = &rec
	}

	if err := st.Load(windowsDoc, &e.windows); err != nil {
		e.logger.Warn("loading promotion windows failed, starting empty", "error", err)
	}

	if len(e.records) > 0 || len(e.windows) > 0 {
		e.logger.Info("leveling state restored",
			"records", len(e.records), "windows", len(e.windows))
	}

	return e
}

// RequiredXP returns the XP needed to clear the given level.
func (e *Engine) RequiredXP(level int) int {
	return int(math.Floor(float64(e.cfg.BaseXP) * math.Pow(e.cfg.GrowthFactor, float64(level))))
}

// MaxLevel returns the configured level cap.
func (e *Engine) MaxLevel() int { return e.cfg.MaxLevel }

// XPPerMessage returns the per-message award amount.
func (e *Engine) XPPerMessage() int { return e.cfg.XPPerMessage }

// AwardXP grants amount XP to (groupID, userID) and drains every level-up
// the new total affords, carrying the remainder forward. A single large
// grant can therefore produce several level-ups at once. On reaching the
// cap any surplus is discarded and XP stays pinned at 0.
func (e *Engine) AwardXP(groupID, userID string, amount int) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := groupID + "|" + userID
	rec, ok := e.records[key]
	if !ok {
		rec = &Record{GroupID: groupID, UserID: userID}
		e.records[key] = rec
	}

	if rec.Level >= e.cfg.MaxLevel {
		rec.XP = 0
		return *rec, false
	}

	rec.XP += amount
	leveledUp := false
	for rec.Level < e.cfg.MaxLevel && rec.XP >= e.RequiredXP(rec.Level) {
		rec.XP -= e.RequiredXP(rec.Level)
		rec.Level++
		leveledUp = true
	}
	if rec.Level >= e.cfg.MaxLevel {
		rec.XP = 0
	}

	if leveledUp {
		e.logger.Info("level up",
			"group", groupID, "user", userID, "level", rec.Level, "xp", rec.XP)
	}

	e.persistLedger()
	return *rec, leveledUp
}

// GetRecord returns the current record for (groupID, userID).
func (e *Engine) GetRecord(groupID, userID string) Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.records[groupID+"|"+userID]; ok {
		return *rec
	}
	return Record{GroupID: groupID, UserID: userID}
}

// persistLedger rewrites the level ledger document. Callers hold e.mu.
func (e *Engine) persistLedger() {
	ledger := make([]Record, 0, len(e.records))
	for _, rec := range e.records {
		ledger = append(ledger, *rec)
	}
	if err := e.store.Save(levelsDoc, ledger); err != nil {
		e.logger.Warn("persisting level ledger failed", "error", err)
	}
}

// persistWindows rewrites the promotion-window document. Callers hold e.mu.
func (e *Engine) persistWindows() {
	if err := e.store.Save(windowsDoc, e.windows); err != nil {
		e.logger.Warn("persisting promotion windows failed", "error", err)
	}
}
