package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnv(t *testing.T) {
	unsetEnv(t, "FP_TEST_FOO")
	unsetEnv(t, "FP_TEST_QUOTED")
	unsetEnv(t, "FP_TEST_SINGLE")
	unsetEnv(t, "FP_TEST_EMPTY")
	unsetEnv(t, "FP_TEST_EXPORTED")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "" +
		"# comment\n" +
		"FP_TEST_FOO=bar\n" +
		"FP_TEST_QUOTED=\"baz\"\n" +
		"FP_TEST_SINGLE='qux'\n" +
		"FP_TEST_EMPTY=\n" +
		"export FP_TEST_EXPORTED=1\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("FP_TEST_FOO"); got != "bar" {
		t.Fatalf("FP_TEST_FP_TEST_FOO expected bar, got %q", got)
	}
	if got := os.Getenv("FP_TEST_QUOTED"); got != "baz" {
		t.Fatalf("FP_TEST_FP_TEST_QUOTED expected baz, got %q", got)
	}
	if got := os.Getenv("FP_TEST_SINGLE"); got != "qux" {
		t.Fatalf("FP_TEST_FP_TEST_SINGLE expected qux, got %q", got)
	}
	if got := os.Getenv("FP_TEST_EMPTY"); got != "" {
		t.Fatalf("FP_TEST_FP_TEST_EMPTY expected empty, got %q", got)
	}
}

func TestLoadEnvDoesNotOverrideExisting(t *testing.T) {
	t.Setenv("FP_TEST_FOO", "existing")
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FP_TEST_FOO=bar\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := LoadEnv(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("FP_TEST_FOO"); got != "existing" {
		t.Fatalf("FP_TEST_FP_TEST_FOO expected existing, got %q", got)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if old, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { _ = os.Setenv(key, old) })
	} else {
		t.Cleanup(func() { _ = os.Unsetenv(key) })
	}
	_ = os.Unsetenv(key)
}
