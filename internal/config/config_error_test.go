package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "c.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadMissingName(t *testing.T) {
	p := writeConfig(t, `
[[projects]]
command = "true"
`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for project without name")
	}
}

func TestLoadMissingCommand(t *testing.T) {
	p := writeConfig(t, `
[[projects]]
name = "x"
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "requires command") {
		t.Fatalf("expected command error, got %v", err)
	}
}

func TestLoadDuplicateName(t *testing.T) {
	p := writeConfig(t, `
[[projects]]
name = "x"
command = "true"

[[projects]]
name = "x"
command = "false"
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoadPortOutOfRange(t *testing.T) {
	p := writeConfig(t, `
[[projects]]
name = "x"
command = "true"
port = 70000
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected port error, got %v", err)
	}
}

func TestLoadDetachedInheritConflict(t *testing.T) {
	p := writeConfig(t, `
[[projects]]
name = "x"
command = "true"
detached = true
inherit_stdio = true
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestLoadServerWithoutListen(t *testing.T) {
	p := writeConfig(t, `
[server]
base_path = "/api"
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "listen") {
		t.Fatalf("expected listen error, got %v", err)
	}
}

func TestLoadJournalWithoutDSN(t *testing.T) {
	p := writeConfig(t, `
[journal]
enabled = true
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "dsn") {
		t.Fatalf("expected dsn error, got %v", err)
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	p := writeConfig(t, `[[projects]`)
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/definitely/not/exist.toml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadEnvFileInvalidPath(t *testing.T) {
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestLoadMissingProjectEnvFile(t *testing.T) {
	p := writeConfig(t, `
[[projects]]
name = "x"
command = "true"
env_files = ["nope.env"]
`)
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "project x") {
		t.Fatalf("expected project env file error, got %v", err)
	}
}
