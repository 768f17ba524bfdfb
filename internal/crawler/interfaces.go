package crawler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/JakeFAU/issue-harvester/internal/checkpoint"
	"github.com/JakeFAU/issue-harvester/internal/comments"
	"github.com/JakeFAU/issue-harvester/internal/jira"
	"github.com/JakeFAU/issue-harvester/internal/rawstore"
)

// PageSource fetches one search page. *jira.Client satisfies it.
type PageSource interface {
	SearchPage(ctx context.Context, project string, startAt int) (jira.Page, error)
}

// CommentSource fans out comment fetches for one page. *comments.Pool
// satisfies it.
type CommentSource interface {
	FetchReport(ctx context.Context, keys []string) (map[string][]json.RawMessage, []comments.Failure)
}

// RawStore durably appends raw records. *rawstore.Writer satisfies it.
type RawStore interface {
	AppendBatch(ctx context.Context, project string, recs []rawstore.Record) error
	Keys(project string) ([]string, error)
}

// CheckpointStore persists progress. *checkpoint.Store satisfies it.
type CheckpointStore interface {
	Load(project string) checkpoint.Checkpoint
	Save(project string, cp checkpoint.Checkpoint) error
}

// Clock returns the current time and performs the polite delay.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
