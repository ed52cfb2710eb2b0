package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("AERO_REALTIME_DOTENV_TEST=from-file\nAERO_REALTIME_DOTENV_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("AERO_REALTIME_DOTENV_KEEP", "from-env")
	t.Setenv("AERO_REALTIME_DOTENV_TEST", "")
	os.Unsetenv("AERO_REALTIME_DOTENV_TEST")

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if !loaded {
		t.Fatalf("expected loaded=true")
	}
	if got := os.Getenv("AERO_REALTIME_DOTENV_TEST"); got != "from-file" {
		t.Fatalf("AERO_REALTIME_DOTENV_TEST=%q, want from-file", got)
	}
	if got := os.Getenv("AERO_REALTIME_DOTENV_KEEP"); got != "from-env" {
		t.Fatalf("AERO_REALTIME_DOTENV_KEEP=%q, want from-env", got)
	}
}

func TestLoadDotEnv_MissingIsNotAnError(t *testing.T) {
	loaded, err := LoadDotEnv(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if loaded {
		t.Fatalf("expected loaded=false")
	}
}
