package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pgcp.log")
	log, err := newLogger(path)
	if err != nil {
		t.Fatalf("newLogger() error: %v", err)
	}
	log.Infof("start to copy from table %s to table %s", "public.a", "public.a")
	log.Errorf("copy failed: %v", "boom")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		"INFO\tstart to copy from table public.a to table public.a",
		"ERROR\tcopy failed: boom",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %q:\n%s", want, out)
		}
	}
}

func TestNewLogger_SatisfiesLogger(t *testing.T) {
	log, err := newLogger("")
	if err != nil {
		t.Fatal(err)
	}
	var _ Logger = log
}
