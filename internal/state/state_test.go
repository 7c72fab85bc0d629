package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_MissingFileIsZero(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if s.DidGPSReset() {
		t.Fatalf("expected no reset recorded")
	}
}

func TestStore_MarkPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "state.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := s.MarkGPSReset(); err != nil {
		t.Fatalf("MarkGPSReset() error: %v", err)
	}
	if !s.DidGPSReset() {
		t.Fatalf("flag not set in memory")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !strings.Contains(string(b), "did_gps_reset: true") {
		t.Fatalf("file=%q", b)
	}

	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !again.DidGPSReset() {
		t.Fatalf("flag not persisted")
	}

	if err := again.ClearGPSReset(); err != nil {
		t.Fatalf("ClearGPSReset() error: %v", err)
	}
	third, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if third.DidGPSReset() {
		t.Fatalf("flag not cleared")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("did_gps_reset: [\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected error")
	}
}
