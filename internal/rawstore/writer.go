// Package rawstore appends harvested issues to per-project JSON-lines files
// and reads them back for reconciliation and transformation.
package rawstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600

	filePrefix = "raw_"
	fileSuffix = ".jsonl"
)

// Record is one raw line: the issue exactly as received plus its comments.
type Record struct {
	Issue    json.RawMessage   `json:"issue"`
	Comments []json.RawMessage `json:"comments"`
}

// Writer appends records under dir. Appends to the same project are
// serialized; the crawler is the only writer in practice.
type Writer struct {
	dir string
	mu  sync.Mutex
}

// New creates a Writer rooted at dir. The directory is created lazily.
func New(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir is the directory holding the raw files.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the raw file of project.
func (w *Writer) Path(project string) string {
	return FilePath(w.dir, project)
}

// FilePath is the raw file of project inside dir.
func FilePath(dir, project string) string {
	return filepath.Join(dir, filePrefix+project+fileSuffix)
}

// Append writes a single record.
func (w *Writer) Append(ctx context.Context, project string, rec Record) error {
	return w.AppendBatch(ctx, project, []Record{rec})
}

// AppendBatch writes recs as consecutive lines with one write and an fsync.
// When the write or sync fails the file is truncated back to its previous
// size, leaving it as if nothing had been appended.
func (w *Writer) AppendBatch(ctx context.Context, project string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append %s: %w", project, err)
	}

	payload, err := encodeLines(recs)
	if err != nil {
		return fmt.Errorf("append %s: %w", project, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, dirPerm); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}

	path := w.Path(project)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, filePerm) //nolint:gosec // path built from configured dir
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // closed explicitly on the success path

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek %s: %w", path, err)
	}

	// A crash can leave a torn final line; start the batch on a fresh line.
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("read tail of %s: %w", path, err)
		}
		if last[0] != '\n' {
			payload = append([]byte{'\n'}, payload...)
		}
	}

	if _, err := f.WriteAt(payload, size); err != nil {
		return rollback(f, path, size, fmt.Errorf("write %s: %w", path, err))
	}
	if err := f.Sync(); err != nil {
		return rollback(f, path, size, fmt.Errorf("sync %s: %w", path, err))
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func rollback(f *os.File, path string, size int64, cause error) error {
	if err := f.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate %s: %w", path, err))
	}
	_ = f.Sync()
	return cause
}

func encodeLines(recs []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range recs {
		if len(rec.Issue) == 0 {
			return nil, fmt.Errorf("record %d has no issue", i)
		}
		if rec.Comments == nil {
			rec.Comments = []json.RawMessage{}
		}
		// Encoder terminates each value with '\n'.
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Projects lists the projects with a raw file in dir, sorted by name.
func Projects(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("list raw files: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		name := filepath.Base(m)
		project := name[len(filePrefix) : len(name)-len(fileSuffix)]
		if project != "" {
			out = append(out, project)
		}
	}
	return out, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
