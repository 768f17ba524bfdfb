package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/issue-harvester/internal/app"
)

// newStatusCmd creates the 'status' subcommand, which prints the saved
// checkpoint of each project.
func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the saved checkpoint of each project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			status := appInstance.Status(opts.projects)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(status); err != nil {
					return fmt.Errorf("encode status: %w", err)
				}
				return nil
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}

func printStatus(out io.Writer, status []app.CheckpointStatus) {
	if len(status) == 0 {
		_, _ = fmt.Fprintln(out, "no checkpoints saved yet")
		return
	}
	tbl := table.NewWriter()
	tbl.SetOutputMirror(out)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Project", "Offset", "Completed", "Raw file"})
	completed := 0
	for _, s := range status {
		raw := s.RawFile
		if !s.RawExists {
			raw = color.YellowString("%s (missing)", raw)
		}
		tbl.AppendRow(table.Row{s.Project, s.Offset, s.Completed, raw})
		completed += s.Completed
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d project(s)", len(status)), "", completed, ""})
	tbl.Render()
}
