package cmd

import (
	"context"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/issue-harvester/internal/transform"
)

// newTransformCmd creates the 'transform' subcommand.
func newTransformCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "transform",
		Short: "Rebuild clean_<PROJECT>.jsonl from the raw files",
		Long: `Normalizes every raw record into the flat clean schema with plain-text
description and comments, a summary and question/answer seeds. Without
--project every raw file in the output directory is transformed. Existing
clean files are replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTransform(cmd.Context(), cmd.OutOrStdout(), opts.projects)
		},
	}
}

func runTransform(ctx context.Context, out io.Writer, projects []string) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	stats, err := appInstance.Transform(ctx, projects)
	printStats(out, stats)
	if err != nil {
		return err
	}
	appInstance.Logger().Info("Transform command finished.")
	return nil
}

func printStats(out io.Writer, stats []transform.Stats) {
	ok := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	for _, s := range stats {
		_, _ = ok.Fprintf(out, "%-10s %d record(s) -> %s\n", s.Project, s.Written, s.OutPath)
		if s.Malformed > 0 {
			_, _ = warn.Fprintf(out, "%-10s %d malformed raw line(s) skipped\n", s.Project, s.Malformed)
		}
	}
}
