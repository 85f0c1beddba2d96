package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func resetResumeFlags() {
	resumeStatus = 0
	resumeBody = ""
	resumeBodyFile = ""
	resumeHeaders = nil
}

func TestBuildModifiedResponsePassThrough(t *testing.T) {
	resetResumeFlags()

	mod, err := buildModifiedResponse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod != nil {
		t.Fatalf("expected nil override for bare resume, got %+v", mod)
	}
}

func TestBuildModifiedResponseOverrides(t *testing.T) {
	resetResumeFlags()
	resumeStatus = 404
	resumeBody = `{"error":"not found"}`
	resumeHeaders = []string{"X-Debug: injected", "Content-Type: application/json"}

	mod, err := buildModifiedResponse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod.StatusCode == nil || *mod.StatusCode != 404 {
		t.Errorf("status code not carried: %+v", mod.StatusCode)
	}
	if mod.Content == nil || *mod.Content != `{"error":"not found"}` {
		t.Errorf("body not carried: %+v", mod.Content)
	}
	if got := mod.Headers["X-Debug"]; got != "injected" {
		t.Errorf("header X-Debug = %q", got)
	}
	if got := mod.Headers["Content-Type"]; got != "application/json" {
		t.Errorf("header Content-Type = %q", got)
	}
}

func TestBuildModifiedResponseBodyFile(t *testing.T) {
	resetResumeFlags()
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatal(err)
	}
	resumeBodyFile = path

	mod, err := buildModifiedResponse()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mod.Content == nil || *mod.Content != `{"ok":true}` {
		t.Errorf("body file not read: %+v", mod.Content)
	}
}

func TestBuildModifiedResponseRejectsConflictsAndBadInput(t *testing.T) {
	resetResumeFlags()
	resumeBody = "a"
	resumeBodyFile = "b"
	if _, err := buildModifiedResponse(); err == nil {
		t.Error("expected error for --body with --body-file")
	}

	resetResumeFlags()
	resumeStatus = 99
	if _, err := buildModifiedResponse(); err == nil {
		t.Error("expected error for out-of-range status")
	}

	resetResumeFlags()
	resumeHeaders = []string{"no-colon-here"}
	if _, err := buildModifiedResponse(); err == nil {
		t.Error("expected error for malformed header")
	}
}

func TestEventsURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:9999", "ws://127.0.0.1:9999/events"},
		{"http://127.0.0.1:9999/", "ws://127.0.0.1:9999/events"},
		{"https://control.internal", "wss://control.internal/events"},
	}
	for _, tt := range tests {
		got, err := eventsURL(tt.base)
		if err != nil {
			t.Errorf("eventsURL(%q): %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("eventsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}

	if _, err := eventsURL("ftp://x"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("7c9e6679-7425-40de-944b-e07fc1f90ae7"); got != "7c9e6679" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID short input = %q", got)
	}
}
