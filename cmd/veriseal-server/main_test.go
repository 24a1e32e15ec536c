package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestSeedDev_MemoryStore(t *testing.T) {
	t.Setenv("VERISEAL_STORE", "memory")
	t.Setenv("VERISEAL_ENV", "dev")
	t.Setenv("VERISEAL_REDIS_ADDR", "")
	t.Setenv("VERISEAL_REGISTRY_PATH", "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"seed-dev", "--env-file", filepath.Join(t.TempDir(), "none.env")})

	if err := root.Execute(); err != nil {
		t.Fatalf("seed-dev: %v", err)
	}
	for _, tok := range []string{"electronics_001", "tampered_003", "fashion_004"} {
		if !strings.Contains(out.String(), tok) {
			t.Errorf("expected %s in output:\n%s", tok, out.String())
		}
	}
}

func TestSeedDev_RefusesProd(t *testing.T) {
	t.Setenv("VERISEAL_ENV", "prod")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"seed-dev", "--env-file", filepath.Join(t.TempDir(), "none.env")})

	if err := root.Execute(); err == nil {
		t.Fatal("expected seed-dev to refuse a prod environment")
	}
}

func TestMigrate_SQLiteFile(t *testing.T) {
	t.Setenv("VERISEAL_DB_DRIVER", "sqlite")
	t.Setenv("VERISEAL_DB_PATH", filepath.Join(t.TempDir(), "data", "veriseal.db"))

	root := newRootCmd()
	root.SetArgs([]string{"migrate", "--env-file", filepath.Join(t.TempDir(), "none.env")})

	if err := root.Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestRun_PrintsFailure(t *testing.T) {
	t.Setenv("VERISEAL_ENV", "prod")

	var stderr bytes.Buffer
	code := run([]string{"seed-dev", "--env-file", filepath.Join(t.TempDir(), "none.env")}, &stderr)
	if code != 1 {
		t.Fatalf("exit code: got %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "VERISEAL_ENV=prod") {
		t.Errorf("stderr should name the failure, got %q", stderr.String())
	}
}

func TestRun_MissingRegistryFileIsReported(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "checkpoints.yaml")
	t.Setenv("VERISEAL_ENV", "dev")
	t.Setenv("VERISEAL_STORE", "memory")
	t.Setenv("VERISEAL_REDIS_ADDR", "")
	t.Setenv("VERISEAL_REGISTRY_PATH", missing)

	var stderr bytes.Buffer
	code := run([]string{"seed-dev", "--env-file", filepath.Join(t.TempDir(), "none.env")}, &stderr)
	if code != 1 {
		t.Fatalf("exit code: got %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "checkpoints.yaml") {
		t.Errorf("stderr should name the missing file, got %q", stderr.String())
	}
}
