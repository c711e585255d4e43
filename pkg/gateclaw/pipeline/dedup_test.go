package pipeline

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels"
)

func newTestDedup(t *testing.T, cfg DedupConfig, selfID string, connectedAt time.Time) *Dedup {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewDedup(cfg,
		func() string { return selfID },
		func() time.Time { return connectedAt },
		logger)
}

func envelope(id, sender, text string, ts time.Time) *channels.Envelope {
	return &channels.Envelope{
		ID:        id,
		ChatID:    "g1@g.us",
		SenderID:  sender,
		Kind:      channels.ContentText,
		Text:      text,
		Timestamp: ts,
	}
}

func TestAdmit(t *testing.T) {
	connectedAt := time.Now().Add(-time.Minute)

	t.Run("same id admitted exactly once within window", func(t *testing.T) {
		d := newTestDedup(t, DefaultDedupConfig(), "bot@s.whatsapp.net", connectedAt)
		env := envelope("m1", "u1@s.whatsapp.net", "hello", time.Now())

		if !d.Admit(env) {
			t.Fatal("first submission must be admitted")
		}
		if d.Admit(env) {
			t.Fatal("duplicate within window must be rejected")
		}
	})

	t.Run("id admitted again after window expiry", func(t *testing.T) {
		cfg := DefaultDedupConfig()
		d := newTestDedup(t, cfg, "bot@s.whatsapp.net", connectedAt)

		base := time.Now()
		d.now = func() time.Time { return base }
		env := envelope("m1", "u1@s.whatsapp.net", "hello", base)
		if !d.Admit(env) {
			t.Fatal("first submission must be admitted")
		}

		d.now = func() time.Time { return base.Add(cfg.Window + time.Second) }
		env2 := envelope("m1", "u1@s.whatsapp.net", "hello again", base.Add(cfg.Window+time.Second))
		if !d.Admit(env2) {
			t.Fatal("expired id must be admissible again")
		}
	})

	t.Run("own messages rejected", func(t *testing.T) {
		d := newTestDedup(t, DefaultDedupConfig(), "bot@s.whatsapp.net", connectedAt)
		env := envelope("m1", "bot@s.whatsapp.net", "echo", time.Now())
		if d.Admit(env) {
			t.Fatal("own message must be rejected")
		}
	})

	t.Run("empty content rejected", func(t *testing.T) {
		d := newTestDedup(t, DefaultDedupConfig(), "bot@s.whatsapp.net", connectedAt)
		env := envelope("m1", "u1@s.whatsapp.net", "", time.Now())
		if d.Admit(env) {
			t.Fatal("empty content must be rejected")
		}
	})

	t.Run("backlog replay before reconnect rejected", func(t *testing.T) {
		cfg := DefaultDedupConfig()
		connected := time.Now()
		d := newTestDedup(t, cfg, "bot@s.whatsapp.net", connected)

		old := envelope("m1", "u1@s.whatsapp.net", "old news",
			connected.Add(-cfg.Grace-time.Minute))
		if d.Admit(old) {
			t.Fatal("pre-reconnect backlog must be rejected")
		}

		fresh := envelope("m2", "u1@s.whatsapp.net", "recent",
			connected.Add(-cfg.Grace/2))
		if !d.Admit(fresh) {
			t.Fatal("envelope within the grace period must be admitted")
		}
	})

	t.Run("zero lastConnectedAt skips staleness check", func(t *testing.T) {
		d := newTestDedup(t, DefaultDedupConfig(), "bot@s.whatsapp.net", time.Time{})
		env := envelope("m1", "u1@s.whatsapp.net", "hello", time.Now().Add(-24*time.Hour))
		if !d.Admit(env) {
			t.Fatal("staleness check requires a connect timestamp")
		}
	})
}

func TestPurge(t *testing.T) {
	cfg := DefaultDedupConfig()
	d := newTestDedup(t, cfg, "bot@s.whatsapp.net", time.Now().Add(-time.Minute))

	base := time.Now()
	d.now = func() time.Time { return base }
	d.Admit(envelope("m1", "u1@s.whatsapp.net", "a", base))
	d.Admit(envelope("m2", "u1@s.whatsapp.net", "b", base))

	if n := d.Purge(); n != 0 {
		t.Errorf("nothing should be evicted yet, got %d", n)
	}

	d.now = func() time.Time { return base.Add(cfg.Window + time.Second) }
	if n := d.Purge(); n != 2 {
		t.Errorf("expected 2 evicted, got %d", n)
	}
}
