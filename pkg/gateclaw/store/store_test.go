package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testDoc struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

func TestStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("save and load round-trip", func(t *testing.T) {
		s, err := New(t.TempDir(), logger)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := testDoc{Users: []string{"a", "b"}, Count: 2}
		if err := s.Save("doc.json", want); err != nil {
			t.Fatalf("save: %v", err)
		}

		var got testDoc
		if err := s.Load("doc.json", &got); err != nil {
			t.Fatalf("load: %v", err)
		}
		if got.Count != 2 || len(got.Users) != 2 || got.Users[0] != "a" {
			t.Errorf("round-trip mismatch: %+v", got)
		}
	})

	t.Run("missing file loads as zero value", func(t *testing.T) {
		s, _ := New(t.TempDir(), logger)

		var got testDoc
		if err := s.Load("nope.json", &got); err != nil {
			t.Fatalf("expected nil error for missing file, got %v", err)
		}
		if got.Count != 0 || got.Users != nil {
			t.Errorf("expected zero value, got %+v", got)
		}
	})

	t.Run("corrupt file loads as zero value", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := New(dir, logger)

		if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}

		var got testDoc
		if err := s.Load("bad.json", &got); err != nil {
			t.Fatalf("expected nil error for corrupt file, got %v", err)
		}
		if got.Count != 0 {
			t.Errorf("expected zero value, got %+v", got)
		}
	})

	t.Run("save replaces whole document", func(t *testing.T) {
		s, _ := New(t.TempDir(), logger)

		_ = s.Save("doc.json", testDoc{Users: []string{"a", "b", "c"}, Count: 3})
		_ = s.Save("doc.json", testDoc{Users: []string{"x"}, Count: 1})

		var got testDoc
		_ = s.Load("doc.json", &got)
		if got.Count != 1 || len(got.Users) != 1 {
			t.Errorf("expected replaced document, got %+v", got)
		}
	})

	t.Run("no temp file left behind", func(t *testing.T) {
		dir := t.TempDir()
		s, _ := New(dir, logger)
		_ = s.Save("doc.json", testDoc{})

		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), ".tmp") {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})
}

func TestAuditLog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("appends formatted lines", func(t *testing.T) {
		dir := t.TempDir()
		a := NewAuditLog(dir, "audit.log", logger)

		a.Append(AuditViolation, "5511999999999", "exceeded hourly limit")
		a.Append(AuditBlacklisted, "5511999999999", "reached max violations")

		data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
		if err != nil {
			t.Fatalf("reading audit log: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) != 2 {
			t.Fatalf("expected 2 lines, got %d", len(lines))
		}
		if !strings.Contains(lines[0], "VIOLATION | User: 5511999999999 | exceeded hourly limit") {
			t.Errorf("unexpected line format: %s", lines[0])
		}
		if !strings.HasPrefix(lines[1], "[") {
			t.Errorf("expected timestamp prefix: %s", lines[1])
		}
		if !strings.Contains(lines[1], "BLACKLISTED") {
			t.Errorf("expected BLACKLISTED action: %s", lines[1])
		}
	})

	t.Run("append is best-effort on bad path", func(t *testing.T) {
		a := NewAuditLog("/nonexistent/dir", "audit.log", logger)
		// Must not panic or error out.
		a.Append(AuditBanned, "u1", "manual ban")
	})
}
