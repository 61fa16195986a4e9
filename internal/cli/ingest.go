package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/epiboard/internal/config"
	"github.com/roach88/epiboard/internal/loader"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	Mode string // overrides ingest.mode when set
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch the feeds and load new facts",
		Long: `Fetch the confirmed, deaths and recovered snapshots, normalize and merge
them, and load the result into the fact table. The derived daily cache is
rebuilt afterwards.

Append mode (the default) loads only dates newer than the stored watermark.
Rebuild mode replaces the whole fact table when the batch is larger.

Example:
  epiboard ingest --db ./epiboard.db
  epiboard ingest --mode rebuild --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", "", "load mode (append|rebuild), overrides config")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Mode != "" {
		if _, err := loader.ParseMode(opts.Mode); err != nil {
			return formatter.Fail("invalid mode", err)
		}
	}

	a, err := openApp(opts.RootOptions, func(cfg *config.Config) {
		if opts.Mode != "" {
			cfg.Ingest.Mode = opts.Mode
		}
	})
	if err != nil {
		return formatter.Fail("failed to open", err)
	}
	defer a.Close()

	formatter.VerboseLog("Ingesting into %s", a.cfg.Database)
	report, err := a.pipeline.Refresh(commandContext(cmd.Context()))
	if err != nil {
		return formatter.Fail("ingest failed", err)
	}
	return formatter.Success(report)
}

// NewReferenceCommand creates the reference command.
func NewReferenceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reference",
		Short: "Load the population and continent reference",
		Long: `Parse the configured population and continent files, reconcile their
country names against the fact table, and replace the reference table.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return formatter.Fail("failed to open", err)
			}
			defer a.Close()

			n, err := a.pipeline.LoadReference(commandContext(cmd.Context()))
			if err != nil {
				return formatter.Fail("reference load failed", err)
			}
			return formatter.Success(map[string]int{"reference_rows": n})
		},
	}
}

// NewRebuildCacheCommand creates the rebuild-cache command.
func NewRebuildCacheCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rebuild-cache",
		Short:         "Recompute the daily statistics cache from the fact table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			a, err := openApp(rootOpts)
			if err != nil {
				return formatter.Fail("failed to open", err)
			}
			defer a.Close()

			n, err := a.pipeline.RebuildCache(commandContext(cmd.Context()))
			if err != nil {
				return formatter.Fail("cache rebuild failed", err)
			}
			return formatter.Success(map[string]int{"daily_rows": n})
		},
	}
}
