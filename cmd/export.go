package cmd

import (
	"context"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Upload raw, clean and checkpoint files to the configured blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runExport(ctx context.Context, out io.Writer) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	artifacts, err := appInstance.Export(ctx)
	for _, a := range artifacts {
		_, _ = color.New(color.FgCyan).Fprintf(out, "%s -> %s (%s, sha256 %.12s)\n",
			a.Local, a.URI, humanize.Bytes(uint64(a.Bytes)), a.SHA256)
	}
	if err != nil {
		return err
	}
	appInstance.Logger().Info("Export command finished.", zap.Int("artifacts", len(artifacts)))
	return nil
}
