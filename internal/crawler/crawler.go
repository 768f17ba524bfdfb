// Package crawler drives the paginated harvest of each project: it fetches a
// page, fans out comment fetches, appends new records to the raw store and
// only then advances the checkpoint.
package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/issue-harvester/internal/checkpoint"
	"github.com/JakeFAU/issue-harvester/internal/clock/system"
	"github.com/JakeFAU/issue-harvester/internal/jira"
	"github.com/JakeFAU/issue-harvester/internal/progress"
	"github.com/JakeFAU/issue-harvester/internal/rawstore"
)

// DefaultPageDelay is the pause between two page requests.
const DefaultPageDelay = 500 * time.Millisecond

// Config holds crawl settings that are not collaborators.
type Config struct {
	// RunID tags every progress event of this run.
	RunID uuid.UUID
	// PageDelay defaults to DefaultPageDelay; negative disables it.
	PageDelay time.Duration
}

// Deps are the collaborators of a Crawler. Clock and Progress are optional.
type Deps struct {
	Pages       PageSource
	Comments    CommentSource
	Raw         RawStore
	Checkpoints CheckpointStore
	Clock       Clock
	Progress    progress.Emitter
}

// Summary describes what one project crawl did.
type Summary struct {
	Project         string
	StartOffset     int
	Offset          int
	Total           int
	Pages           int
	Written         int
	Skipped         int
	Reconciled      int
	CommentFailures int
	Duration        time.Duration
}

// Crawler processes projects one at a time, pages one at a time. It is not
// safe for concurrent use.
type Crawler struct {
	deps   Deps
	cfg    Config
	runID  [16]byte
	logger *zap.Logger
}

// New constructs a Crawler.
func New(deps Deps, cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Nop{}
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = DefaultPageDelay
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = uuid.New()
	}
	return &Crawler{
		deps:   deps,
		cfg:    cfg,
		runID:  progress.UUIDToBytes(cfg.RunID),
		logger: logger.Named("crawler").With(zap.String("run_id", cfg.RunID.String())),
	}
}

// Run crawls projects in order and stops at the first fatal error. Summaries
// of the projects that finished are returned either way.
func (c *Crawler) Run(ctx context.Context, projects []string) ([]Summary, error) {
	start := c.deps.Clock.Now()
	c.emit(progress.Event{Stage: progress.StageRunStart})

	summaries := make([]Summary, 0, len(projects))
	for _, project := range projects {
		summary, err := c.CrawlProject(ctx, project)
		if err != nil {
			c.emit(progress.Event{
				Stage:   progress.StageRunDone,
				Dur:     c.since(start),
				Note:    err.Error(),
				Written: totalWritten(summaries),
			})
			return summaries, err
		}
		summaries = append(summaries, summary)
	}

	c.emit(progress.Event{
		Stage:   progress.StageRunDone,
		Dur:     c.since(start),
		Written: totalWritten(summaries),
	})
	c.logger.Info("scraping complete", zap.Int("projects", len(summaries)))
	return summaries, nil
}

// CrawlProject harvests one project starting from its checkpoint.
//
// Raw records of a page are appended and synced before the checkpoint for
// that page is saved, so the checkpoint never claims more than is on disk.
// Page fetch, append and save failures are fatal; the checkpoint keeps the
// state of the last completed page.
func (c *Crawler) CrawlProject(ctx context.Context, project string) (Summary, error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/issue-harvester/internal/crawler").Start(ctx, "crawler.CrawlProject",
		trace.WithAttributes(attribute.String("harvester.project", project)))
	defer span.End()

	summary, err := c.crawlProject(ctx, project)
	span.SetAttributes(
		attribute.Int("harvester.offset", summary.Offset),
		attribute.Int("harvester.pages", summary.Pages),
		attribute.Int("harvester.written", summary.Written),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return summary, err
}

func (c *Crawler) crawlProject(ctx context.Context, project string) (Summary, error) {
	start := c.deps.Clock.Now()
	log := c.logger.With(zap.String("project", project))

	cp := c.deps.Checkpoints.Load(project)
	summary := Summary{Project: project, StartOffset: cp.Offset, Offset: cp.Offset}

	reconciled, err := c.reconcile(project, &cp)
	if err != nil {
		return summary, c.fail(project, summary, start, err)
	}
	summary.Reconciled = reconciled
	if reconciled > 0 {
		log.Warn("raw store holds keys missing from checkpoint, marking them done",
			zap.Int("keys", reconciled))
	}

	log.Info("starting project", zap.Int("offset", cp.Offset), zap.Int("done_keys", cp.Len()))
	c.emit(progress.Event{Stage: progress.StageProjectStart, Project: project, Offset: cp.Offset})

	for {
		if err := ctx.Err(); err != nil {
			return summary, c.fail(project, summary, start, fmt.Errorf("crawl %s: %w", project, err))
		}

		pageStart := c.deps.Clock.Now()
		page, err := c.deps.Pages.SearchPage(ctx, project, cp.Offset)
		if err != nil {
			return summary, c.fail(project, summary, start,
				fmt.Errorf("fetch %s page at offset %d: %w", project, cp.Offset, err))
		}
		summary.Total = page.Total
		if len(page.Issues) == 0 {
			log.Info("empty page, project exhausted", zap.Int("offset", cp.Offset), zap.Int("total", page.Total))
			break
		}

		written, skipped, failures, err := c.processPage(ctx, project, page, &cp)
		if err != nil {
			return summary, c.fail(project, summary, start, err)
		}

		summary.Pages++
		summary.Offset = cp.Offset
		summary.Written += written
		summary.Skipped += skipped
		summary.CommentFailures += failures

		c.emit(progress.Event{
			Stage:   progress.StagePageDone,
			Project: project,
			Offset:  cp.Offset,
			Total:   page.Total,
			Written: written,
			Skipped: skipped,
			Dur:     c.since(pageStart),
		})
		log.Info("page done",
			zap.Int("offset", cp.Offset),
			zap.Int("total", page.Total),
			zap.Int("written", written),
			zap.Int("skipped", skipped),
		)

		if cp.Offset >= page.Total {
			break
		}
		if c.cfg.PageDelay > 0 {
			if err := c.deps.Clock.Sleep(ctx, c.cfg.PageDelay); err != nil {
				return summary, c.fail(project, summary, start, fmt.Errorf("crawl %s: %w", project, err))
			}
		}
	}

	summary.Duration = c.since(start)
	c.emit(progress.Event{
		Stage:   progress.StageProjectDone,
		Project: project,
		Offset:  summary.Offset,
		Total:   summary.Total,
		Written: summary.Written,
		Skipped: summary.Skipped,
		Dur:     summary.Duration,
	})
	log.Info("finished project",
		zap.Int("offset", summary.Offset),
		zap.Int("written", summary.Written),
		zap.Int("skipped", summary.Skipped),
		zap.Int("done_keys", cp.Len()),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// processPage writes the new issues of page and persists the advanced
// checkpoint. cp is only modified once the raw append has succeeded.
func (c *Crawler) processPage(
	ctx context.Context,
	project string,
	page jira.Page,
	cp *checkpoint.Checkpoint,
) (written, skipped, failed int, err error) {
	keys := make([]string, 0, len(page.Issues))
	for _, issue := range page.Issues {
		if key := jira.IssueKey(issue); key != "" {
			keys = append(keys, key)
		}
	}

	threads, failures := c.deps.Comments.FetchReport(ctx, keys)
	for _, f := range failures {
		c.emit(progress.Event{
			Stage:   progress.StageCommentFailed,
			Project: project,
			Key:     f.Key,
			Offset:  cp.Offset,
			Note:    errorNote(f.Err),
		})
	}

	records := make([]rawstore.Record, 0, len(page.Issues))
	fresh := make([]string, 0, len(page.Issues))
	onPage := make(map[string]struct{}, len(page.Issues))
	for _, issue := range page.Issues {
		key := jira.IssueKey(issue)
		if key == "" {
			c.logger.Debug("issue without key ignored", zap.String("project", project))
			continue
		}
		if _, dup := onPage[key]; dup || cp.Contains(key) {
			skipped++
			continue
		}
		onPage[key] = struct{}{}
		thread := threads[key]
		if thread == nil {
			thread = []json.RawMessage{}
		}
		records = append(records, rawstore.Record{Issue: issue, Comments: thread})
		fresh = append(fresh, key)
	}

	if len(records) > 0 {
		if err := c.deps.Raw.AppendBatch(ctx, project, records); err != nil {
			return 0, 0, 0, fmt.Errorf("append %s page at offset %d: %w", project, cp.Offset, err)
		}
	}

	next := cp.Clone()
	for _, key := range fresh {
		next.MarkDone(key)
	}
	next.Offset += len(page.Issues)
	if err := c.deps.Checkpoints.Save(project, next); err != nil {
		return 0, 0, 0, fmt.Errorf("save checkpoint for %s at offset %d: %w", project, next.Offset, err)
	}
	*cp = next
	return len(records), skipped, len(failures), nil
}

// reconcile marks keys that reached the raw store without a matching
// checkpoint save, which happens when the process dies between the two.
func (c *Crawler) reconcile(project string, cp *checkpoint.Checkpoint) (int, error) {
	keys, err := c.deps.Raw.Keys(project)
	if err != nil {
		return 0, fmt.Errorf("read raw keys for %s: %w", project, err)
	}
	added := 0
	for _, key := range keys {
		if cp.MarkDone(key) {
			added++
		}
	}
	return added, nil
}

func (c *Crawler) fail(project string, summary Summary, start time.Time, err error) error {
	c.emit(progress.Event{
		Stage:   progress.StageProjectError,
		Project: project,
		Offset:  summary.Offset,
		Total:   summary.Total,
		Written: summary.Written,
		Skipped: summary.Skipped,
		Dur:     c.since(start),
		Note:    errorNote(err),
	})
	c.logger.Error("project failed",
		zap.String("project", project),
		zap.Int("offset", summary.Offset),
		zap.Error(err),
	)
	return err
}

func (c *Crawler) emit(evt progress.Event) {
	evt.RunID = c.runID
	if evt.TS.IsZero() {
		evt.TS = c.deps.Clock.Now()
	}
	c.deps.Progress.Emit(evt)
}

func (c *Crawler) since(start time.Time) time.Duration {
	d := c.deps.Clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

func totalWritten(summaries []Summary) int {
	n := 0
	for _, s := range summaries {
		n += s.Written
	}
	return n
}

func errorNote(err error) string {
	if err == nil {
		return ""
	}
	const maxNote = 256
	msg := err.Error()
	if len(msg) > maxNote {
		return msg[:maxNote]
	}
	return msg
}
