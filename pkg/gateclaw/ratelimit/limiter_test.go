package ratelimit

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/store"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	dir := t.TempDir()
	st, err := store.New(dir, logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	audit := store.NewAuditLog(dir, "audit.log", logger)
	return New(cfg, st, audit, logger)
}

func TestCheck(t *testing.T) {
	t.Run("owner always allowed", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HourlyLimit = 1
		l := newTestLimiter(t, cfg)

		for i := 0; i < 10; i++ {
			res := l.Check("owner", true)
			if !res.Allowed {
				t.Fatalf("call %d: owner denied: %+v", i, res)
			}
		}
	})

	t.Run("limit of 2 denies third call", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HourlyLimit = 2
		l := newTestLimiter(t, cfg)

		r1 := l.Check("u1", false)
		r2 := l.Check("u1", false)
		r3 := l.Check("u1", false)

		if !r1.Allowed || !r2.Allowed {
			t.Errorf("first two calls should be allowed: %+v %+v", r1, r2)
		}
		if r1.Remaining != 1 || r2.Remaining != 0 {
			t.Errorf("remaining quota wrong: %d, %d", r1.Remaining, r2.Remaining)
		}
		if r3.Allowed {
			t.Fatalf("third call should be denied: %+v", r3)
		}
		if r3.Reason != ReasonRateLimited {
			t.Errorf("expected RATE_LIMIT_EXCEEDED, got %s", r3.Reason)
		}
		if r3.WaitMinutes <= 0 {
			t.Errorf("expected positive wait minutes, got %d", r3.WaitMinutes)
		}
	})

	t.Run("window reset restores quota", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HourlyLimit = 1
		l := newTestLimiter(t, cfg)

		base := time.Now()
		l.now = func() time.Time { return base }

		if res := l.Check("u1", false); !res.Allowed {
			t.Fatalf("first call denied: %+v", res)
		}
		if res := l.Check("u1", false); res.Allowed {
			t.Fatalf("second call should be denied")
		}

		// Jump past the window.
		l.now = func() time.Time { return base.Add(cfg.HourlyWindow + time.Minute) }
		if res := l.Check("u1", false); !res.Allowed {
			t.Fatalf("call after window reset denied: %+v", res)
		}
	})
}

func TestViolationsAndBlacklist(t *testing.T) {
	t.Run("max violations blacklists user", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HourlyLimit = 1
		cfg.MaxViolations = 3
		l := newTestLimiter(t, cfg)

		base := time.Now()
		for i := 0; i < 3; i++ {
			window := base.Add(time.Duration(i) * 2 * time.Hour)
			l.now = func() time.Time { return window }
			l.Check("u1", false) // allowed, fills the window
			res := l.Check("u1", false)
			if res.Allowed {
				t.Fatalf("violation %d: expected denial", i+1)
			}
		}

		if !l.IsBlacklisted("u1") {
			t.Fatal("expected user to be blacklisted after max violations")
		}

		res := l.Check("u1", false)
		if res.Allowed || res.Reason != ReasonBlacklisted {
			t.Errorf("expected BLACKLISTED denial, got %+v", res)
		}
	})

	t.Run("unban clears violations", func(t *testing.T) {
		l := newTestLimiter(t, DefaultConfig())
		l.BanUser("u2", "spam")

		if !l.IsBlacklisted("u2") {
			t.Fatal("expected u2 banned")
		}

		l.UnbanUser("u2")
		if l.IsBlacklisted("u2") {
			t.Error("expected u2 unbanned")
		}
		if l.Violations("u2") != 0 {
			t.Errorf("expected violations reset, got %d", l.Violations("u2"))
		}
		if res := l.Check("u2", false); !res.Allowed {
			t.Errorf("expected fresh start after unban: %+v", res)
		}
	})

	t.Run("blacklist survives restart", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
		dir := t.TempDir()
		st, _ := store.New(dir, logger)
		audit := store.NewAuditLog(dir, "audit.log", logger)

		l1 := New(DefaultConfig(), st, audit, logger)
		l1.BanUser("u3", "manual")

		l2 := New(DefaultConfig(), st, audit, logger)
		if !l2.IsBlacklisted("u3") {
			t.Error("expected blacklist to be restored from disk")
		}
	})
}

func TestSweep(t *testing.T) {
	cfg := DefaultConfig()
	l := newTestLimiter(t, cfg)

	base := time.Now()
	l.now = func() time.Time { return base }
	l.Check("u1", false)
	l.Check("u2", false)

	// Nothing expired yet.
	if n := l.Sweep(); n != 0 {
		t.Errorf("expected 0 evicted, got %d", n)
	}

	l.now = func() time.Time { return base.Add(cfg.HourlyWindow + time.Minute) }
	if n := l.Sweep(); n != 2 {
		t.Errorf("expected 2 evicted, got %d", n)
	}
}
