package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/issue-harvester/internal/crawler"
)

// newScrapeCmd creates the 'scrape' subcommand, which harvests raw issues and
// comments and resumes from the saved checkpoint.
func newScrapeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Harvest raw issues and comments into raw_<PROJECT>.jsonl",
		Long: `Pages through every configured project starting at its checkpoint,
fetches comment threads concurrently, and appends one raw record per new
issue. Interrupted runs resume where the last saved page left off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

func runScrape(ctx context.Context, out io.Writer, opts *rootOptions) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	if err := startStatusServer(ctx, appInstance); err != nil {
		return err
	}

	summaries, err := appInstance.Scrape(ctx, opts.projects)
	printSummaries(out, summaries)
	if err != nil {
		return err
	}
	appInstance.Logger().Info("Scrape command finished.")
	return nil
}

func printSummaries(out io.Writer, summaries []crawler.Summary) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	for _, s := range summaries {
		_, _ = ok.Fprintf(out, "%-10s offset %d/%d  pages %d  written %d  skipped %d  (%s)\n",
			s.Project, s.Offset, s.Total, s.Pages, s.Written, s.Skipped, s.Duration.Round(time.Millisecond))
		if s.CommentFailures > 0 {
			_, _ = warn.Fprintf(out, "%-10s %d issue(s) stored without comments after fetch failures\n",
				s.Project, s.CommentFailures)
		}
		if s.Reconciled > 0 {
			_, _ = fmt.Fprintf(out, "%-10s %d key(s) recovered from the raw file\n", s.Project, s.Reconciled)
		}
	}
}
