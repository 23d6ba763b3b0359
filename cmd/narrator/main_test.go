package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/manuscript"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	creds := filepath.Join(dir, "credentials.yaml")
	cfg := "catalog:\n  path: " + filepath.Join(dir, "narrator.db") + "\n" +
		"speech:\n  credentials_path: " + creds + "\n"
	path := filepath.Join(dir, "narrator.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path, creds
}

func TestCredentialsToggle(t *testing.T) {
	cfgPath, creds := writeConfig(t)
	data := "credentials:\n  - id: primary\n    keys: [\"sk-abcdef123456\"]\n    enabled: true\n"
	if err := os.WriteFile(creds, []byte(data), 0o600); err != nil {
		t.Fatalf("write credentials: %v", err)
	}

	out, err := runCommand(t, "-c", cfgPath, "credentials", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "primary") || strings.Contains(out, "sk-abcdef123456") || !strings.Contains(out, "3456") {
		t.Fatalf("unexpected list output:\n%s", out)
	}

	if _, err := runCommand(t, "-c", cfgPath, "credentials", "disable", "primary"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	raw, err := os.ReadFile(creds)
	if err != nil {
		t.Fatalf("read credentials: %v", err)
	}
	if !strings.Contains(string(raw), "enabled: false") {
		t.Fatalf("disable not persisted:\n%s", raw)
	}

	if _, err := runCommand(t, "-c", cfgPath, "credentials", "enable", "missing"); err == nil {
		t.Fatal("expected error for unknown credential")
	}
}

func TestListAndShowEmptyCatalog(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out, err := runCommand(t, "-c", cfgPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No manuscripts") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := runCommand(t, "-c", cfgPath, "show", "Highguard"); err == nil {
		t.Fatal("expected not found error")
	}
}

func TestLabels(t *testing.T) {
	half := 0.5
	if progressLabel(&half) != "50%" || progressLabel(nil) != "" {
		t.Fatal("unexpected progress labels")
	}
	if lastModLabel(time.Time{}) != "never" {
		t.Fatal("zero time must read as never")
	}
	if maskKey("abcdefgh") != "****efgh" || maskKey("abc") != "***" {
		t.Fatalf("unexpected masks %q %q", maskKey("abcdefgh"), maskKey("abc"))
	}
	if displayID(manuscript.HomeID) != "(home)" {
		t.Fatal("home must have a label")
	}
	stats := map[manuscript.State]int{manuscript.StateDone: 1200, manuscript.StateError: 3}
	if got := statsLine(stats); got != "done: 1,200, error: 3" {
		t.Fatalf("unexpected stats line %q", got)
	}
}
