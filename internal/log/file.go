package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const (
	fileSuffix  = ".jsonl"
	dateLayout  = "2006-01-02"
	symlinkName = "latest"
)

// logFilePattern matches the dated debug files this writer produces.
var logFilePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// FileWriter appends to a per-day debug file under dir and keeps a
// "latest" symlink pointing at the current one. Rotation happens lazily
// on the first write after midnight.
type FileWriter struct {
	dir string

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewFileWriter creates the log directory if needed and opens today's file.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}

	fw := &FileWriter{dir: dir}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.openDay(time.Now().Format(dateLayout)); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write implements io.Writer, rotating to a new file when the date changed.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if day := time.Now().Format(dateLayout); day != fw.day {
		if err := fw.openDay(day); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Close closes the current file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

// openDay switches the writer to the file for the given date and repoints
// the latest symlink. Callers hold fw.mu.
func (fw *FileWriter) openDay(day string) error {
	if fw.file != nil {
		fw.file.Close()
	}

	name := day + fileSuffix
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	fw.file = f
	fw.day = day

	// Symlink swap via rename so readers never see it missing. Best
	// effort on filesystems without symlink support.
	link := filepath.Join(fw.dir, symlinkName)
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(name, tmp); err == nil {
		_ = os.Rename(tmp, link)
	}
	return nil
}

// Cleanup deletes dated debug files older than retentionDays. Anything
// not matching the writer's naming scheme is left alone.
func Cleanup(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !logFilePattern.MatchString(name) {
			continue
		}
		day, err := time.Parse(dateLayout, name[:len(dateLayout)])
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}
