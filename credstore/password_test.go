package credstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadPasswordFile_Trims(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pw")
	if err := os.WriteFile(path, []byte("  secret1\n\n"), 0o600); err != nil {
		t.Fatalf("write password file: %v", err)
	}

	got, err := ReadPasswordFile(path)
	if err != nil {
		t.Fatalf("ReadPasswordFile: %v", err)
	}
	if got != "secret1" {
		t.Errorf("got %q, want %q", got, "secret1")
	}
}

func TestReadPasswordFile_WhitespaceOnlyBecomesEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pw")
	if err := os.WriteFile(path, []byte("\n\t \n"), 0o600); err != nil {
		t.Fatalf("write password file: %v", err)
	}

	got, err := ReadPasswordFile(path)
	if err != nil {
		t.Fatalf("ReadPasswordFile: %v", err)
	}
	if got != "" {
		t.Errorf("expected whitespace-only password to trim to empty, got %q", got)
	}
}

func TestReadPasswordFile_MissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadPasswordFile(filepath.Join(dir, "missing"))
	if err == nil {
		t.Fatal("expected error for missing password file")
	}
}
