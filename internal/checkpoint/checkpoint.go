// Package checkpoint persists per-project crawl progress: the next page
// offset and the set of issue keys already written to the raw store.
//
// All projects share one JSON file which is replaced atomically on every
// save, so a reader never observes a partially written checkpoint.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/metrics"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// ErrOffsetRegressed is returned by Save when the new offset is lower than
// the one already persisted for the project.
var ErrOffsetRegressed = errors.New("checkpoint offset must not decrease")

// Checkpoint is the progress of one project.
type Checkpoint struct {
	// Offset is the startAt of the next page to fetch.
	Offset int

	done  map[string]struct{}
	order []string
}

// New returns a checkpoint at offset with keys already marked done.
func New(offset int, keys ...string) Checkpoint {
	cp := Checkpoint{Offset: offset}
	for _, k := range keys {
		cp.MarkDone(k)
	}
	return cp
}

// Contains reports whether key was already written.
func (c Checkpoint) Contains(key string) bool {
	_, ok := c.done[key]
	return ok
}

// MarkDone records key as written. It returns false if key was already present.
func (c *Checkpoint) MarkDone(key string) bool {
	if c.done == nil {
		c.done = make(map[string]struct{})
	}
	if _, ok := c.done[key]; ok {
		return false
	}
	c.done[key] = struct{}{}
	c.order = append(c.order, key)
	return true
}

// Keys returns the completed keys in the order they were marked.
func (c Checkpoint) Keys() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// Len is the number of completed keys.
func (c Checkpoint) Len() int {
	return len(c.order)
}

// Clone returns a deep copy.
func (c Checkpoint) Clone() Checkpoint {
	return New(c.Offset, c.order...)
}

type projectState struct {
	StartAt  int      `json:"startAt"`
	DoneKeys []string `json:"done_keys"`
}

type fileState struct {
	Projects map[string]projectState `json:"projects"`
}

// Store loads and saves checkpoints for every project in a single file.
type Store struct {
	path   string
	logger *zap.Logger

	mu    sync.Mutex
	state map[string]Checkpoint
}

// Open reads path once. A missing file yields an empty store; an unreadable
// or corrupt file is logged and also treated as empty.
func Open(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger,
		state:  make(map[string]Checkpoint),
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s
	case err != nil:
		logger.Warn("checkpoint unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		return s
	}

	var fileData fileState
	if err := json.Unmarshal(data, &fileData); err != nil {
		logger.Warn("checkpoint corrupt, starting fresh", zap.String("path", path), zap.Error(err))
		return s
	}
	for project, ps := range fileData.Projects {
		startAt := ps.StartAt
		if startAt < 0 {
			startAt = 0
		}
		s.state[project] = New(startAt, ps.DoneKeys...)
	}
	return s
}

// Path is the canonical checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns a copy of the checkpoint for project, or the zero checkpoint.
func (s *Store) Load(project string) Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.state[project]
	if !ok {
		return Checkpoint{}
	}
	return cp.Clone()
}

// Projects lists every project with a checkpoint, sorted.
func (s *Store) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.state))
	for p := range s.state {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Save replaces the checkpoint of project and rewrites the file atomically.
// Callers must only save after the raw records for every key in cp are durable.
// The in-memory state is left unchanged when the write fails.
func (s *Store) Save(project string, cp Checkpoint) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveCheckpointSave(time.Since(start), err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.state[project]; ok && cp.Offset < prev.Offset {
		return fmt.Errorf("%w: %s from %d to %d", ErrOffsetRegressed, project, prev.Offset, cp.Offset)
	}

	next := make(map[string]Checkpoint, len(s.state)+1)
	for p, c := range s.state {
		next[p] = c
	}
	next[project] = cp.Clone()

	if err := writeAtomic(s.path, encode(next)); err != nil {
		return err
	}
	s.state = next
	return nil
}

func encode(state map[string]Checkpoint) fileState {
	out := fileState{Projects: make(map[string]projectState, len(state))}
	for p, cp := range state {
		keys := cp.Keys()
		out.Projects[p] = projectState{StartAt: cp.Offset, DoneKeys: keys}
	}
	return out
}

// writeAtomic writes v as indented JSON to a temp file beside path, syncs it
// and renames it over path.
func writeAtomic(path string, v fileState) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	committed = true
	return nil
}
