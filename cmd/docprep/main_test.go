package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	content := fmt.Sprintf(`[paths]
raw_dir = %q
processing_dir = %q
log_dir = %q
temp_dir = %q
catalog_path = %q

[workers]
count = 2

[logging]
format = "json"
level = "error"
`,
		filepath.Join(base, "raw"),
		filepath.Join(base, "processing"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "tmp"),
		filepath.Join(base, "catalog", "units.db"),
	)
	path := filepath.Join(base, "docprep.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args []string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("output %q does not contain %q", haystack, needle)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, []string{"version"})
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, "docprep")
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("second init without --overwrite should fail")
	}
	if _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("init with --overwrite: %v", err)
	}
}

func TestConfigShow(t *testing.T) {
	path := writeTestConfig(t)
	out, err := runCLI(t, []string{"config", "show", "--config", path})
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "processing_dir")
	requireContains(t, out, path)
}

func TestRunCommandDrainsIntake(t *testing.T) {
	path := writeTestConfig(t)
	rawDir := filepath.Join(filepath.Dir(path), "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		t.Fatalf("mkdir raw: %v", err)
	}
	if err := os.WriteFile(filepath.Join(rawDir, "offer.pdf"), []byte("%PDF-1.4 body"), 0o644); err != nil {
		t.Fatalf("write raw file: %v", err)
	}

	out, err := runCLI(t, []string{"run", "--config", path})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Processed:  1")
	requireContains(t, out, "Ready:      1")
}

func TestStatsCommand(t *testing.T) {
	path := writeTestConfig(t)
	out, err := runCLI(t, []string{"stats", "--config", path})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "Exceptions")
}

func TestProcessCommandUnknownUnit(t *testing.T) {
	path := writeTestConfig(t)
	if _, err := runCLI(t, []string{"process", "no-such-unit", "--config", path}); err == nil {
		t.Fatal("processing a missing unit should fail")
	}
}
