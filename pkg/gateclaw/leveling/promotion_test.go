package leveling

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakePromoter struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (p *fakePromoter) PromoteParticipant(_ context.Context, groupID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, groupID+"/"+userID)
	if p.fail {
		return fmt.Errorf("gateway unavailable")
	}
	return nil
}

func autoPromoteAll(string) bool  { return true }
func autoPromoteNone(string) bool { return false }

func TestRegisterMaxLevel(t *testing.T) {
	ctx := context.Background()

	t.Run("top-K promoted in arrival order, rest registered only", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TopK = 2
		e := newTestEngine(t, cfg)
		p := &fakePromoter{}
		e.SetPromoter(p)
		e.SetAutoPromote(autoPromoteAll)

		resA := e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		resB := e.RegisterMaxLevel(ctx, "g1", "userB", "B")
		resC := e.RegisterMaxLevel(ctx, "g1", "userC", "C")

		if !resA.Success || !resA.Promoted || resA.Position != 1 {
			t.Errorf("A: %+v", resA)
		}
		if !resB.Success || !resB.Promoted || resB.Position != 2 {
			t.Errorf("B: %+v", resB)
		}
		if !resC.Success || resC.Promoted {
			t.Errorf("C should be registered but not promoted: %+v", resC)
		}
		if resC.Position != 3 {
			t.Errorf("C position = %d, want 3", resC.Position)
		}

		if len(p.calls) != 2 || p.calls[0] != "g1/userA" || p.calls[1] != "g1/userB" {
			t.Errorf("gateway calls = %v", p.calls)
		}
	})

	t.Run("repeat call for missed user is rejected without promotion", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TopK = 2
		e := newTestEngine(t, cfg)
		e.SetAutoPromote(autoPromoteAll)

		e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		e.RegisterMaxLevel(ctx, "g1", "userB", "B")
		e.RegisterMaxLevel(ctx, "g1", "userC", "C")

		again := e.RegisterMaxLevel(ctx, "g1", "userC", "C")
		if again.Success || again.Promoted {
			t.Errorf("repeat registration should fail without promotion: %+v", again)
		}
		if again.Message != "already registered, not promoted this window" {
			t.Errorf("unexpected message: %q", again.Message)
		}
	})

	t.Run("repeat call for promoted user short-circuits", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig())
		p := &fakePromoter{}
		e.SetPromoter(p)
		e.SetAutoPromote(autoPromoteAll)

		e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		again := e.RegisterMaxLevel(ctx, "g1", "userA", "A")

		if again.Success || !again.Promoted {
			t.Errorf("expected already-promoted short-circuit: %+v", again)
		}
		if len(p.calls) != 1 {
			t.Errorf("gateway must be called once, got %d", len(p.calls))
		}
	})

	t.Run("auto-promotion disabled withholds promotion", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig())
		p := &fakePromoter{}
		e.SetPromoter(p)
		e.SetAutoPromote(autoPromoteNone)

		res := e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		if !res.Success || res.Promoted {
			t.Errorf("expected registration without promotion: %+v", res)
		}
		if len(p.calls) != 0 {
			t.Errorf("gateway must not be called, got %v", p.calls)
		}
	})

	t.Run("gateway failure does not undo promotion", func(t *testing.T) {
		e := newTestEngine(t, DefaultConfig())
		p := &fakePromoter{fail: true}
		e.SetPromoter(p)
		e.SetAutoPromote(autoPromoteAll)

		res := e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		if !res.Promoted {
			t.Errorf("promotion must be recorded despite gateway error: %+v", res)
		}

		win, ok := e.ActiveWindow("g1")
		if !ok || len(win.Promoted) != 1 {
			t.Errorf("window = %+v", win)
		}
	})

	t.Run("window rollover is a clean slate", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TopK = 1
		e := newTestEngine(t, cfg)
		e.SetAutoPromote(autoPromoteAll)

		base := time.Now()
		e.now = func() time.Time { return base }

		e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		resB := e.RegisterMaxLevel(ctx, "g1", "userB", "B")
		if resB.Promoted {
			t.Fatalf("B should have missed the slot: %+v", resB)
		}

		// Advance past the window end; B gets a fresh chance.
		e.now = func() time.Time { return base.Add(cfg.WindowDuration + time.Hour) }
		resB2 := e.RegisterMaxLevel(ctx, "g1", "userB", "B")
		if !resB2.Success || !resB2.Promoted || resB2.Position != 1 {
			t.Errorf("B after rollover: %+v", resB2)
		}

		win, _ := e.ActiveWindow("g1")
		if len(win.Ranked) != 1 {
			t.Errorf("new window should start empty, ranked = %v", win.Ranked)
		}
	})

	t.Run("ranking preserves arrival order per window", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TopK = 5
		e := newTestEngine(t, cfg)
		e.SetAutoPromote(autoPromoteNone)

		for i, u := range []string{"u1", "u2", "u3"} {
			res := e.RegisterMaxLevel(ctx, "g1", u, u)
			if res.Position != i+1 {
				t.Errorf("%s position = %d, want %d", u, res.Position, i+1)
			}
		}

		win, _ := e.ActiveWindow("g1")
		if len(win.Ranked) != 3 || win.Ranked[0].UserID != "u1" || win.Ranked[2].UserID != "u3" {
			t.Errorf("ranked = %v", win.Ranked)
		}
	})

	t.Run("windows are independent per group", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TopK = 1
		e := newTestEngine(t, cfg)
		e.SetAutoPromote(autoPromoteAll)

		r1 := e.RegisterMaxLevel(ctx, "g1", "userA", "A")
		r2 := e.RegisterMaxLevel(ctx, "g2", "userA", "A")
		if !r1.Promoted || !r2.Promoted {
			t.Errorf("same user should win rank 1 in both groups: %+v %+v", r1, r2)
		}
	})
}
