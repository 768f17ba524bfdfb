package cmd

import (
	"github.com/spf13/cobra"
)

// newAllCmd creates the 'all' subcommand: scrape, then transform, then
// export when a blob store is configured.
func newAllCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Scrape, transform and export in one go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := runScrape(ctx, out, opts); err != nil {
				return err
			}
			if err := runTransform(ctx, out, opts.projects); err != nil {
				return err
			}
			appInstance, err := resolveApp(ctx)
			if err != nil {
				return err
			}
			if !appInstance.ExportEnabled() {
				return nil
			}
			return runExport(ctx, out)
		},
	}
}
