// Package export uploads harvest artifacts to a blob store.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/hash/sha256"
	"github.com/JakeFAU/issue-harvester/internal/storage"
)

// Layout points at the on-disk artifacts of a harvest.
type Layout struct {
	RawDir         string
	CleanDir       string
	CheckpointPath string
}

// Artifact describes one uploaded file.
type Artifact struct {
	Local  string
	Object string
	URI    string
	Bytes  int64
	SHA256 string
}

// Exporter mirrors raw, clean and checkpoint files into a BlobStore under a
// fixed prefix.
type Exporter struct {
	store  storage.BlobStore
	prefix string
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds an Exporter. An empty prefix uploads to the store root.
func New(store storage.BlobStore, prefix string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		hasher: sha256.New(),
		logger: logger,
	}
}

// Export uploads every raw_*.jsonl, clean_*.jsonl and the checkpoint file.
// Files that do not exist are skipped. Uploading stops at the first error.
func (e *Exporter) Export(ctx context.Context, layout Layout) ([]Artifact, error) {
	if e.store == nil {
		return nil, errors.New("export: blob store is not configured")
	}
	files, err := collect(layout)
	if err != nil {
		return nil, err
	}

	artifacts := make([]Artifact, 0, len(files))
	for _, f := range files {
		art, err := e.upload(ctx, f)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return artifacts, err
		}
		e.logger.Info("exported artifact",
			zap.String("file", art.Local),
			zap.String("uri", art.URI),
			zap.Int64("bytes", art.Bytes),
			zap.String("sha256", art.SHA256),
		)
		artifacts = append(artifacts, art)
	}
	return artifacts, nil
}

type pending struct {
	local       string
	object      string
	contentType string
}

func collect(layout Layout) ([]pending, error) {
	var files []pending
	for _, group := range []struct {
		dir, pattern, sub string
	}{
		{layout.RawDir, "raw_*.jsonl", "raw"},
		{layout.CleanDir, "clean_*.jsonl", "clean"},
	} {
		if group.dir == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(group.dir, group.pattern))
		if err != nil {
			return nil, fmt.Errorf("list %s files: %w", group.sub, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			files = append(files, pending{
				local:       m,
				object:      path.Join(group.sub, filepath.Base(m)),
				contentType: storage.ContentTypeJSONL,
			})
		}
	}
	if layout.CheckpointPath != "" {
		files = append(files, pending{
			local:       layout.CheckpointPath,
			object:      filepath.Base(layout.CheckpointPath),
			contentType: storage.ContentTypeJSON,
		})
	}
	return files, nil
}

func (e *Exporter) upload(ctx context.Context, f pending) (Artifact, error) {
	// #nosec G304 -- paths come from the configured output layout.
	file, err := os.Open(f.local)
	if err != nil {
		return Artifact{}, fmt.Errorf("open %s: %w", f.local, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			e.logger.Debug("close exported file", zap.String("file", f.local), zap.Error(cerr))
		}
	}()

	object := f.object
	if e.prefix != "" {
		object = path.Join(e.prefix, object)
	}
	body := e.hasher.Reader(file)
	uri, err := e.store.PutObject(ctx, object, f.contentType, body)
	if err != nil {
		return Artifact{}, fmt.Errorf("upload %s: %w", f.local, err)
	}
	return Artifact{Local: f.local, Object: object, URI: uri, Bytes: body.Len(), SHA256: body.Sum()}, nil
}
