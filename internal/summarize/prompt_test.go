package summarize

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadPrompt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("first version"), 0o644); err != nil {
		t.Fatal(err)
	}

	pt, err := LoadPrompt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadPrompt: %v", err)
	}
	defer pt.Close()

	if pt.Current() != "first version" {
		t.Errorf("Current = %q", pt.Current())
	}
}

func TestPromptReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("first version"), 0o644); err != nil {
		t.Fatal(err)
	}

	pt, err := LoadPrompt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("LoadPrompt: %v", err)
	}
	defer pt.Close()

	if err := os.WriteFile(path, []byte("second version"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for pt.Current() != "second version" {
		select {
		case <-deadline:
			t.Fatalf("prompt not reloaded, still %q", pt.Current())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestPromptReloadRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	pt, err := LoadPrompt(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	if err := os.WriteFile(path, []byte("   \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if pt.Current() != "keep me" {
		t.Errorf("empty reload replaced template: %q", pt.Current())
	}
}

func TestFormatTranscripts(t *testing.T) {
	out := FormatTranscripts([]Entry{
		{RecordedAt: "09:15", Text: "met with the contractor"},
		{RecordedAt: "17:40", Text: "pick up groceries tomorrow"},
	})
	want := "[09:15]\nmet with the contractor\n\n[17:40]\npick up groceries tomorrow\n\n"
	if out != want {
		t.Errorf("FormatTranscripts = %q, want %q", out, want)
	}
}
