package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const dirTextFile = "posts.txt"

// DirSink writes into a local directory: text records are appended to
// posts.txt and files are written next to it.
type DirSink struct {
	dir string
}

func NewDir(dir string) (*DirSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create publish dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (d *DirSink) Name() string { return "dir" }

func (d *DirSink) AppendText(_ context.Context, rec Record) error {
	f, err := os.OpenFile(filepath.Join(d.dir, dirTextFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", dirTextFile, err)
	}

	created := ""
	if !rec.CreatedAt.IsZero() {
		created = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	line := fmt.Sprintf("%d\t%s\t%s\t%s\n", rec.PostID, created, rec.URL, escapeLine(rec.Text))
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", dirTextFile, err)
	}
	return f.Close()
}

// Upload writes the file atomically; an existing file with the same name is
// replaced, so a retried publish does not leave duplicates.
func (d *DirSink) Upload(_ context.Context, name, _ string, data []byte) error {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	target := filepath.Join(d.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func escapeLine(s string) string {
	return strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\r", "", "\t", " ").Replace(s)
}
