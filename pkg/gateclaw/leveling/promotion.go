package leveling

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/store"
)

// Promoter performs the group-administration side effect of a promotion.
// The gateway implements this; failures are logged and not retried.
type Promoter interface {
	PromoteParticipant(ctx context.Context, groupID, userID string) error
}

// RankedUser is one max-level achiever in arrival order.
type RankedUser struct {
	UserID    string    `json:"uid"`
	Name      string    `json:"name"`
	ReachedAt time.Time `json:"reached_at"`
}

// Window is one group's active promotion window. Exactly one window is
// active per group; a new one is created lazily on the first max-level
// achievement and replaces the old one once it has ended.
type Window struct {
	ID          string       `json:"id"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Ranked      []RankedUser `json:"ranked"`
	Promoted    []string     `json:"promoted"`
	Failed      []string     `json:"failed"`
}

// RegisterResult is the outcome of a max-level registration.
type RegisterResult struct {
	Success  bool
	Promoted bool
	Position int
	Message  string
}

// SetPromoter attaches the gateway-side promotion action. May be nil
// (e.g. in tests), in which case promotions are recorded but the group
// metadata is not touched.
func (e *Engine) SetPromoter(p Promoter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promoter = p
}

// SetAutoPromote supplies the external per-group auto-promotion flag.
func (e *Engine) SetAutoPromote(fn func(groupID string) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoPromote = fn
}

// RegisterMaxLevel records a user's arrival at the maximum level and, when
// the group has auto-promotion enabled and the user ranks within the top-K
// for the active window, promotes them. The call is idempotent: repeating
// it for an already-promoted user short-circuits, and a user who missed
// the top-K stays rejected for the remainder of the window. Each new
// window is a clean slate.
func (e *Engine) RegisterMaxLevel(ctx context.Context, groupID, userID, name string) RegisterResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	win, ok := e.windows[groupID]
	if !ok || now.After(win.WindowEnd) {
		win = &Window{
			ID:          uuid.NewString(),
			WindowStart: now,
			WindowEnd:   now.Add(e.cfg.WindowDuration),
		}
		e.windows[groupID] = win
		e.logger.Info("promotion window opened",
			"group", groupID, "window", win.ID, "ends", win.WindowEnd)
	}

	if slices.Contains(win.Failed, userID) {
		return RegisterResult{
			Success: false,
			Message: "already registered, not promoted this window",
		}
	}
	if slices.Contains(win.Promoted, userID) {
		return RegisterResult{
			Success:  false,
			Promoted: true,
			Message:  "already promoted",
		}
	}

	position := rankOf(win.Ranked, userID)
	if position == 0 {
		win.Ranked = append(win.Ranked, RankedUser{
			UserID:    userID,
			Name:      name,
			ReachedAt: now,
		})
		position = len(win.Ranked)
	}

	enabled := e.autoPromote != nil && e.autoPromote(groupID)
	switch {
	case enabled && position <= e.cfg.TopK:
		win.Promoted = append(win.Promoted, userID)
		e.persistWindows()
		e.logger.Info("user promoted",
			"group", groupID, "user", userID, "position", position, "window", win.ID)
		e.audit.Append(store.AuditPromoted, userID,
			fmt.Sprintf("rank %d in group %s", position, groupID))
		e.triggerPromotion(ctx, groupID, userID)
		return RegisterResult{
			Success:  true,
			Promoted: true,
			Position: position,
			Message:  fmt.Sprintf("promoted (rank %d)", position),
		}

	case enabled:
		// Registered too late for this window's slots.
		win.Failed = append(win.Failed, userID)
		e.persistWindows()
		return RegisterResult{
			Success:  true,
			Position: position,
			Message:  fmt.Sprintf("registered at rank %d, promotion slots taken", position),
		}

	default:
		// Auto-promotion disabled: registration counts, promotion withheld.
		e.persistWindows()
		return RegisterResult{
			Success:  true,
			Position: position,
			Message:  fmt.Sprintf("registered at rank %d", position),
		}
	}
}

// ActiveWindow returns a copy of the group's window, if one exists.
func (e *Engine) ActiveWindow(groupID string) (Window, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	win, ok := e.windows[groupID]
	if !ok {
		return Window{}, false
	}
	return *win, true
}

// triggerPromotion performs the gateway call. Callers hold e.mu; the call
// itself runs inline and its failure does not undo the recorded promotion.
func (e *Engine) triggerPromotion(ctx context.Context, groupID, userID string) {
	if e.promoter == nil {
		return
	}
	if err := e.promoter.PromoteParticipant(ctx, groupID, userID); err != nil {
		e.logger.Warn("gateway promotion failed",
			"group", groupID, "user", userID, "error", err)
	}
}

// rankOf returns the 1-based position of userID in the ranked list, or 0.
func rankOf(ranked []RankedUser, userID string) int {
	for i, r := range ranked {
		if r.UserID == userID {
			return i + 1
		}
	}
	return 0
}
