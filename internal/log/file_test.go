package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileWriterCreatesDatedFile(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	if _, err := fw.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected dated log file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("content = %q, want %q", data, "hello\n")
	}
}

func TestFileWriterLatestSymlink(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(dir)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()

	target, err := os.Readlink(filepath.Join(dir, "latest"))
	if err != nil {
		t.Fatalf("latest symlink missing: %v", err)
	}
	want := time.Now().Format("2006-01-02") + ".jsonl"
	if target != want {
		t.Errorf("symlink target = %q, want %q", target, want)
	}
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "2020-01-01.jsonl")
	if err := os.WriteFile(old, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	recent := filepath.Join(dir, time.Now().Format("2006-01-02")+".jsonl")
	if err := os.WriteFile(recent, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	Cleanup(dir, 7)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old log file should be removed")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Error("recent log file should survive cleanup")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("non-log file should survive cleanup")
	}
}
