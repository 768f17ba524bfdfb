// Package transform turns raw issue records into flat, text-only records
// for downstream NLP work.
package transform

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/rawstore"
)

const (
	dirPerm    = 0o750
	filePerm   = 0o600
	flushEvery = 100
)

// Stats counts what happened to one raw file.
type Stats struct {
	Project   string
	RawPath   string
	OutPath   string
	Read      int
	Written   int
	Malformed int
}

// TransformFile reads rawPath and writes one clean line per well-formed raw
// record to outPath. The output is built in a temp file and renamed into
// place, so reruns replace the previous output.
func TransformFile(ctx context.Context, rawPath, outPath string) (Stats, error) {
	stats := Stats{RawPath: rawPath, OutPath: outPath}

	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return stats, fmt.Errorf("create clean dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return stats, fmt.Errorf("create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	pending := 0

	scan, err := rawstore.Scan(rawPath, func(raw rawstore.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Read++
		rec, err := Build(raw)
		if err != nil {
			stats.Malformed++
			return nil
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode %s: %w", rec.IssueKey, err)
		}
		stats.Written++
		pending++
		if pending >= flushEvery {
			pending = 0
			if err := w.Flush(); err != nil {
				return fmt.Errorf("flush output: %w", err)
			}
		}
		return nil
	})
	stats.Malformed += scan.Malformed
	if err != nil {
		return stats, fmt.Errorf("transform %s: %w", rawPath, err)
	}

	if err := w.Flush(); err != nil {
		return stats, fmt.Errorf("flush output: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return stats, fmt.Errorf("sync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return stats, fmt.Errorf("close output: %w", err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return stats, fmt.Errorf("chmod output: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return stats, fmt.Errorf("replace %s: %w", outPath, err)
	}
	committed = true
	return stats, nil
}

// Stage runs TransformFile over every raw file of a directory.
type Stage struct {
	logger *zap.Logger
}

// NewStage creates a Stage.
func NewStage(logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{logger: logger.Named("transform")}
}

// CleanPath is the output file of project under cleanDir.
func CleanPath(cleanDir, project string) string {
	return filepath.Join(cleanDir, "clean_"+project+".jsonl")
}

// Run transforms raw_<P>.jsonl files in rawDir into clean_<P>.jsonl files in
// cleanDir. When projects is non-empty only those projects are transformed.
func (s *Stage) Run(ctx context.Context, rawDir, cleanDir string, projects ...string) ([]Stats, error) {
	if len(projects) == 0 {
		found, err := rawstore.Projects(rawDir)
		if err != nil {
			return nil, err
		}
		projects = found
	}

	results := make([]Stats, 0, len(projects))
	for _, project := range projects {
		rawPath := rawstore.FilePath(rawDir, project)
		outPath := CleanPath(cleanDir, project)
		s.logger.Info("transforming", zap.String("raw", rawPath), zap.String("clean", outPath))

		stats, err := TransformFile(ctx, rawPath, outPath)
		stats.Project = project
		if err != nil {
			return results, err
		}
		if stats.Malformed > 0 {
			s.logger.Warn("skipped malformed raw lines",
				zap.String("project", project),
				zap.Int("malformed", stats.Malformed))
		}
		results = append(results, stats)
	}
	s.logger.Info("transform done", zap.Int("files", len(results)))
	return results, nil
}
