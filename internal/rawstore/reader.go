package rawstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/JakeFAU/issue-harvester/internal/jira"
)

const maxLineBytes = 64 << 20

// ScanStats reports what Scan saw.
type ScanStats struct {
	Lines     int
	Malformed int
}

// Scan calls fn for every well-formed record in path, in file order.
// Malformed lines (including a torn final line) are counted and skipped.
// A missing file is not an error. Scan stops at the first error from fn.
func Scan(path string, fn func(Record) error) (ScanStats, error) {
	var stats ScanStats

	f, err := os.Open(path) //nolint:gosec // path built from configured dir
	if err != nil {
		if isNotExist(err) {
			return stats, nil
		}
		return stats, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil || len(rec.Issue) == 0 {
			stats.Malformed++
			continue
		}
		if err := fn(rec); err != nil {
			return stats, err
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("scan %s: %w", path, err)
	}
	return stats, nil
}

// Keys returns the issue keys already present in the raw file of project,
// in file order and without duplicates.
func (w *Writer) Keys(project string) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]struct{})
	var keys []string
	_, err := Scan(w.Path(project), func(rec Record) error {
		key := jira.IssueKey(rec.Issue)
		if key == "" {
			return nil
		}
		if _, ok := seen[key]; ok {
			return nil
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
