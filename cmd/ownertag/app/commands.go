package app

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/agentstation/ownertag/internal/sweep"
	"github.com/agentstation/ownertag/pkg/errors"
	"github.com/agentstation/ownertag/pkg/logging"
	"github.com/agentstation/ownertag/pkg/mapping"
	"github.com/agentstation/ownertag/pkg/reconciler"
)

// NewSweepCommand creates the sweep command.
func (a *App) NewSweepCommand() *cobra.Command {
	var (
		concurrency int
		dryRun      bool
	)

	cmd := &cobra.Command{
		Use:     "sweep",
		GroupID: "core",
		Short:   "Reconcile every document once and exit",
		Long: `Sweep lists every document and reconciles its owner-tag. Failures are
counted and reported; they do not stop the sweep.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("concurrency") {
				a.config.SweepConcurrency = concurrency
			}
			if cmd.Flags().Changed("dry-run") {
				a.config.DryRun = dryRun
			}

			ctx := cmd.Context()
			svc, err := a.connect(ctx, nil)
			if err != nil {
				return err
			}

			sweeper := sweep.New(svc.client, svc.reconciler,
				sweep.WithConcurrency(a.config.SweepConcurrency),
				sweep.WithLogger(a.logger),
			)
			stats, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "documents: %d\n", stats.Total)
			fmt.Fprintf(out, "updated:   %d\n", stats.Updated)
			fmt.Fprintf(out, "unchanged: %d\n", stats.Unchanged)
			fmt.Fprintf(out, "skipped:   %d\n", stats.Skipped)
			fmt.Fprintf(out, "failed:    %d\n", stats.Failed)
			fmt.Fprintf(out, "duration:  %s\n", stats.Duration.Round(time.Millisecond))

			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d documents failed", stats.Failed, stats.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", a.config.SweepConcurrency, "documents reconciled at once")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report tag changes without writing them")

	return cmd
}

// NewReconcileCommand creates the reconcile command.
func (a *App) NewReconcileCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:     "reconcile <document-id>...",
		GroupID: "core",
		Short:   "Reconcile the owner-tag of specific documents",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int, 0, len(args))
			for _, arg := range args {
				id, err := strconv.Atoi(arg)
				if err != nil || id <= 0 {
					return errors.NewValidationError("document-id", arg, "must be a positive integer")
				}
				ids = append(ids, id)
			}
			if cmd.Flags().Changed("dry-run") {
				a.config.DryRun = dryRun
			}

			ctx := logging.WithTrigger(logging.WithLogger(cmd.Context(), a.logger), "cli")
			svc, err := a.connect(ctx, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed []error
			for _, id := range ids {
				res, err := svc.reconciler.ReconcileID(ctx, id)
				if err != nil {
					fmt.Fprintf(out, "document %d: error: %v\n", id, err)
					failed = append(failed, err)
					continue
				}
				fmt.Fprintln(out, describeResult(res))
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report tag changes without writing them")

	return cmd
}

// describeResult renders a one-line summary of a reconciliation.
func describeResult(res *reconciler.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "document %d: %s", res.DocumentID, res.Status)
	if res.DryRun {
		b.WriteString(" (dry run)")
	}
	if res.Status == reconciler.StatusSkipped {
		return b.String()
	}
	if res.Owner == "" {
		b.WriteString(", no owner")
	} else {
		fmt.Fprintf(&b, ", owner %s", res.Owner)
	}
	if res.Desired != "" {
		fmt.Fprintf(&b, ", tag %q (%s)", res.Desired, res.Source)
	}
	if len(res.Removed) > 0 {
		fmt.Fprintf(&b, ", removed %v", res.Removed)
	}
	if len(res.Added) > 0 {
		fmt.Fprintf(&b, ", added %v", res.Added)
	}
	return b.String()
}

// NewMappingCommand creates the mapping command.
func (a *App) NewMappingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mapping",
		GroupID: "management",
		Short:   "Manage the owner to tag mapping file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init [file]",
		Short: "Write an example mapping file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.config.MappingFile
			if len(args) == 1 {
				path = args[0]
			}
			written, err := mapping.WriteExampleFile(path)
			if err != nil {
				return err
			}
			if !written {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, left unchanged\n", path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote example mapping to %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective owner-tag rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides, err := a.loadMapping()
			if err != nil {
				return err
			}
			resolver := mapping.New(a.config.TagPrefix, overrides)

			data, err := yaml.Marshal(struct {
				Prefix  string            `yaml:"prefix"`
				File    string            `yaml:"file"`
				Mapping map[string]string `yaml:"mapping"`
			}{
				Prefix:  resolver.Prefix(),
				File:    a.config.MappingFile,
				Mapping: resolver.Overrides(),
			})
			if err != nil {
				return errors.WrapParse("yaml", "mapping", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ownertag %s\n", a.version)
			if a.config.Verbose {
				fmt.Fprintf(out, "  commit:   %s\n", a.commit)
				fmt.Fprintf(out, "  built:    %s\n", a.date)
				fmt.Fprintf(out, "  built by: %s\n", a.builtBy)
				fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			}
		},
	}
}
