package bot

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Name != "GateClaw" {
		t.Errorf("expected name 'GateClaw', got %q", cfg.Name)
	}
	if cfg.Pipeline.Trigger != "@gateclaw" {
		t.Errorf("expected trigger '@gateclaw', got %q", cfg.Pipeline.Trigger)
	}
	if cfg.RateLimit.HourlyLimit != 100 {
		t.Errorf("expected hourly limit 100, got %d", cfg.RateLimit.HourlyLimit)
	}
	if cfg.Leveling.MaxLevel != 10 {
		t.Errorf("expected max level 10, got %d", cfg.Leveling.MaxLevel)
	}
	if cfg.Maintenance.SweepSchedule == "" {
		t.Error("expected a default sweep schedule")
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("overlays values onto defaults", func(t *testing.T) {
		yaml := `
name: TestBot
pipeline:
  owner: "5511999999999@s.whatsapp.net"
rate_limit:
  hourly_limit: 50
`
		cfg, err := ParseConfig([]byte(yaml))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Name != "TestBot" {
			t.Errorf("expected name 'TestBot', got %q", cfg.Name)
		}
		if cfg.Pipeline.Owner != "5511999999999@s.whatsapp.net" {
			t.Errorf("unexpected owner %q", cfg.Pipeline.Owner)
		}
		if cfg.RateLimit.HourlyLimit != 50 {
			t.Errorf("expected hourly limit 50, got %d", cfg.RateLimit.HourlyLimit)
		}
		// Untouched sections keep their defaults.
		if cfg.Leveling.BaseXP != 100 {
			t.Errorf("expected default base XP 100, got %d", cfg.Leveling.BaseXP)
		}
	})

	t.Run("rejects invalid YAML", func(t *testing.T) {
		if _, err := ParseConfig([]byte("name: [unclosed")); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GATECLAW_TEST_VAR", "resolved")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"braced variable", "key: ${GATECLAW_TEST_VAR}", "key: resolved"},
		{"bare variable", "key: $GATECLAW_TEST_VAR", "key: resolved"},
		{"default used when unset", "key: ${GATECLAW_UNSET_VAR:-fallback}", "key: fallback"},
		{"default ignored when set", "key: ${GATECLAW_TEST_VAR:-fallback}", "key: resolved"},
		{"unset without modifier keeps placeholder", "key: ${GATECLAW_UNSET_VAR}", "key: ${GATECLAW_UNSET_VAR}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("required variable errors when unset", func(t *testing.T) {
		_, err := expandEnvVarsWithValidation("key: ${GATECLAW_UNSET_VAR:?api key required}")
		if err == nil {
			t.Fatal("expected error for unset required variable")
		}
		if !strings.Contains(err.Error(), "GATECLAW_UNSET_VAR") {
			t.Errorf("expected variable name in error, got %v", err)
		}
	})
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
name: FileBot
data_dir: ./state
whatsapp:
  database_path: ./state/wa.db
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Name != "FileBot" {
		t.Errorf("expected name 'FileBot', got %q", cfg.Name)
	}

	t.Run("relative paths anchored to config dir", func(t *testing.T) {
		want := filepath.Join(dir, "state")
		if cfg.DataDir != want {
			t.Errorf("expected data dir %q, got %q", want, cfg.DataDir)
		}
		if !filepath.IsAbs(cfg.WhatsApp.DatabasePath) {
			t.Errorf("expected absolute database path, got %q", cfg.WhatsApp.DatabasePath)
		}
	})

	t.Run("missing file errors", func(t *testing.T) {
		if _, err := LoadConfigFromFile(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestResolveSecrets(t *testing.T) {
	t.Run("env fills empty key", func(t *testing.T) {
		t.Setenv("GATECLAW_API_KEY", "sk-from-env")
		cfg := DefaultConfig()
		resolveSecrets(cfg)

		if cfg.Responder.APIKey != "sk-from-env" {
			t.Errorf("expected key from env, got %q", cfg.Responder.APIKey)
		}
	})

	t.Run("explicit config value wins", func(t *testing.T) {
		t.Setenv("GATECLAW_API_KEY", "sk-from-env")
		cfg := DefaultConfig()
		cfg.Responder.APIKey = "sk-explicit"
		resolveSecrets(cfg)

		if cfg.Responder.APIKey != "sk-explicit" {
			t.Errorf("expected explicit key kept, got %q", cfg.Responder.APIKey)
		}
	})
}

func TestSaveConfigToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	if err := SaveConfigToFile(cfg, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("written with restricted permissions", func(t *testing.T) {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if info.Mode().Perm()&0o077 != 0 {
			t.Errorf("expected 0600 permissions, got %04o", info.Mode().Perm())
		}
	})

	t.Run("backs up existing file", func(t *testing.T) {
		cfg.Name = "Changed"
		if err := SaveConfigToFile(cfg, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := os.Stat(path + ".bak"); err != nil {
			t.Errorf("expected backup file, got %v", err)
		}
	})

	t.Run("matching env value is sanitized to a reference", func(t *testing.T) {
		t.Setenv("GATECLAW_API_KEY", "sk-secret-value")
		cfg.Responder.APIKey = "sk-secret-value"
		if err := SaveConfigToFile(cfg, path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading config: %v", err)
		}
		if strings.Contains(string(data), "sk-secret-value") {
			t.Error("expected secret to be replaced with env reference")
		}
		if !strings.Contains(string(data), "${GATECLAW_API_KEY}") {
			t.Error("expected env reference in saved config")
		}
	})
}

func TestIsEnvReference(t *testing.T) {
	if !IsEnvReference("${VAR}") || !IsEnvReference("$VAR") {
		t.Error("expected env references to be detected")
	}
	if IsEnvReference("sk-real-key") {
		t.Error("expected plain value to not be an env reference")
	}
}

func TestLooksLikeRealKey(t *testing.T) {
	if !looksLikeRealKey("sk-abc123") {
		t.Error("expected sk- prefix to look like a key")
	}
	if looksLikeRealKey("${GATECLAW_API_KEY}") {
		t.Error("expected env reference to not look like a key")
	}
	if looksLikeRealKey("short") {
		t.Error("expected short string to not look like a key")
	}
}
