// Package comments fetches comment threads for a page of issues on a fixed
// number of workers. A thread that cannot be fetched degrades to an empty
// list instead of failing the page.
package comments

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/clock/system"
	"github.com/JakeFAU/issue-harvester/internal/metrics"
)

const (
	// DefaultWorkers bounds in-flight comment requests.
	DefaultWorkers = 6
	// DefaultCooldown is the pause a worker takes after a failed fetch.
	DefaultCooldown = 500 * time.Millisecond
)

// Fetcher returns the comment thread of one issue. *jira.Client satisfies it.
type Fetcher interface {
	Comments(ctx context.Context, key string) ([]json.RawMessage, error)
}

// Sleeper pauses a worker after a failure.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Config sizes the pool. Zero values select the defaults; a negative
// Cooldown disables the pause.
type Config struct {
	Workers  int
	Cooldown time.Duration
}

// Failure records a key whose thread was replaced by an empty list.
type Failure struct {
	Key string
	Err error
}

// Pool is safe for concurrent use; each Fetch call runs its own workers.
type Pool struct {
	fetcher  Fetcher
	workers  int
	cooldown time.Duration
	sleeper  Sleeper
	logger   *zap.Logger
}

// Option customizes a Pool.
type Option func(*Pool)

// WithSleeper replaces the timer-based cooldown.
func WithSleeper(s Sleeper) Option {
	return func(p *Pool) {
		if s != nil {
			p.sleeper = s
		}
	}
}

// NewPool builds a Pool around fetcher.
func NewPool(fetcher Fetcher, cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	cooldown := cfg.Cooldown
	switch {
	case cooldown == 0:
		cooldown = DefaultCooldown
	case cooldown < 0:
		cooldown = 0
	}
	p := &Pool{
		fetcher:  fetcher,
		workers:  workers,
		cooldown: cooldown,
		sleeper:  system.New(),
		logger:   logger.Named("comments"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workers is the configured concurrency.
func (p *Pool) Workers() int {
	return p.workers
}

// Fetch returns the comment thread of every key. Each distinct key appears
// exactly once in the result; failed keys map to an empty slice.
func (p *Pool) Fetch(ctx context.Context, keys []string) map[string][]json.RawMessage {
	out, _ := p.FetchReport(ctx, keys)
	return out
}

type result struct {
	key      string
	comments []json.RawMessage
	err      error
}

// FetchReport is Fetch plus the list of keys that degraded to empty threads,
// sorted by key.
func (p *Pool) FetchReport(ctx context.Context, keys []string) (map[string][]json.RawMessage, []Failure) {
	unique := dedupe(keys)
	out := make(map[string][]json.RawMessage, len(unique))
	if len(unique) == 0 {
		return out, nil
	}

	jobs := make(chan string, len(unique))
	for _, k := range unique {
		jobs <- k
	}
	close(jobs)

	results := make(chan result, len(unique))
	var wg sync.WaitGroup
	for i := 0; i < min(p.workers, len(unique)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				results <- p.fetchOne(ctx, key)
			}
		}()
	}
	wg.Wait()
	close(results)

	var failures []Failure
	for res := range results {
		out[res.key] = res.comments
		if res.err != nil {
			failures = append(failures, Failure{Key: res.key, Err: res.err})
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Key < failures[j].Key })
	return out, failures
}

func (p *Pool) fetchOne(ctx context.Context, key string) result {
	metrics.IncCommentWorkers()
	defer metrics.DecCommentWorkers()

	comments, err := p.fetcher.Comments(ctx, key)
	if err == nil {
		if comments == nil {
			comments = []json.RawMessage{}
		}
		return result{key: key, comments: comments}
	}

	metrics.ObserveCommentFailure()
	p.logger.Warn("comments fetch failed, continuing with empty thread",
		zap.String("issue", key),
		zap.Error(err),
	)
	if p.cooldown > 0 {
		// A canceled context ends the cooldown early; the next fetch fails fast.
		_ = p.sleeper.Sleep(ctx, p.cooldown)
	}
	return result{key: key, comments: []json.RawMessage{}, err: err}
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
