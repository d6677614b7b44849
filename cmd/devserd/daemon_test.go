package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPidFileRoundTrip(t *testing.T) {
	tempDir := t.TempDir()
	pidFile := filepath.Join(tempDir, "devserd.pid")

	if err := writePidFile(pidFile, os.Getpid()); err != nil {
		t.Fatalf("writePidFile failed: %v", err)
	}

	b, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("PID file was not created: %v", err)
	}
	if string(b) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected PID file content: %q", b)
	}

	if err := removePidFile(pidFile); err != nil {
		t.Fatalf("removePidFile failed: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Fatal("PID file was not removed")
	}
}

func TestRemovePidFileEmptyPath(t *testing.T) {
	if err := removePidFile(""); err != nil {
		t.Fatalf("empty pidfile path should be a no-op, got %v", err)
	}
}

func TestServeFlags(t *testing.T) {
	flags := &ServeFlags{
		ConfigPath: "test.toml",
		Daemonize:  true,
		LogFile:    "/tmp/test.log",
	}

	if flags.ConfigPath != "test.toml" {
		t.Errorf("Expected ConfigPath 'test.toml', got '%s'", flags.ConfigPath)
	}
	if !flags.Daemonize {
		t.Error("Expected Daemonize to be true")
	}
	if flags.LogFile != "/tmp/test.log" {
		t.Errorf("Expected LogFile '/tmp/test.log', got '%s'", flags.LogFile)
	}
}
