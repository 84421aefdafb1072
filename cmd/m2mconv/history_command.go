package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"m2mconv/internal/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, ctx, func(store *journal.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]runJSON, 0, len(runs))
					for _, r := range runs {
						views = append(views, newRunJSON(r))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				rows := make([][]string, 0, len(runs))
				for _, r := range runs {
					rows = append(rows, []string{
						r.ID,
						formatTimestamp(r.StartedAt),
						titleCase(string(r.Status)),
						r.Backend,
						r.Device,
						fmt.Sprint(r.Streams),
						fmt.Sprintf("%d/%d", r.FramesCompleted, r.FramesQueued),
						formatDuration(r.Duration()),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Run", "Started", "Status", "Backend", "Device", "Streams", "Inputs", "Duration"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryPruneCommand(ctx))
	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(cmd, ctx, func(store *journal.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				frames, err := store.Frames(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				if asJSON {
					view := newRunJSON(run)
					view.Frames = make([]frameJSON, 0, len(frames))
					for _, f := range frames {
						view.Frames = append(view.Frames, frameJSON{
							Source:    f.Source,
							Stream:    f.Stream,
							Status:    f.Status,
							Path:      f.OutputPath,
							LatencyMS: float64(f.Latency.Microseconds()) / 1000,
						})
					}
					return writeJSON(cmd, view)
				}
				renderRun(cmd, run, frames)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			return withJournal(cmd, ctx, func(store *journal.Store) error {
				removed, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d run(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove runs that started before now minus this duration")
	return cmd
}

type runJSON struct {
	ID              string      `json:"id"`
	Device          string      `json:"device"`
	Backend         string      `json:"backend"`
	Driver          string      `json:"driver,omitempty"`
	InputFormat     string      `json:"input_format"`
	Streams         int         `json:"streams"`
	Status          string      `json:"status"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	FramesQueued    int         `json:"frames_queued"`
	FramesCompleted int         `json:"frames_completed"`
	Error           string      `json:"error,omitempty"`
	Frames          []frameJSON `json:"frames,omitempty"`
}

func newRunJSON(r *journal.Run) runJSON {
	view := runJSON{
		ID:              r.ID,
		Device:          r.Device,
		Backend:         r.Backend,
		Driver:          r.Driver,
		InputFormat:     r.InputFormat,
		Streams:         r.Streams,
		Status:          string(r.Status),
		StartedAt:       r.StartedAt,
		FramesQueued:    r.FramesQueued,
		FramesCompleted: r.FramesCompleted,
		Error:           r.ErrorMessage,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		view.FinishedAt = &finished
	}
	return view
}

func renderRun(cmd *cobra.Command, run *journal.Run, frames []journal.Frame) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	fmt.Fprintln(out, renderSectionHeader("run "+run.ID, colorize))
	kind := statusInfo
	switch run.Status {
	case journal.RunCompleted:
		kind = statusOK
	case journal.RunFailed:
		kind = statusError
	case journal.RunAborted:
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Status", kind, titleCase(string(run.Status)), colorize))
	fmt.Fprintln(out, renderStatusLine("Device", statusInfo, run.Device, colorize))
	fmt.Fprintln(out, renderStatusLine("Backend", statusInfo, run.Backend, colorize))
	if run.Driver != "" {
		fmt.Fprintln(out, renderStatusLine("Driver", statusInfo, run.Driver, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Input", statusInfo, run.InputFormat, colorize))
	fmt.Fprintln(out, renderStatusLine("Started", statusInfo, formatTimestamp(run.StartedAt), colorize))
	fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize))
	fmt.Fprintln(out, renderStatusLine("Inputs", statusInfo, fmt.Sprintf("%d of %d converted", run.FramesCompleted, run.FramesQueued), colorize))
	if run.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
	}
	if len(frames) == 0 {
		return
	}
	rows := make([][]string, 0, len(frames))
	for _, f := range frames {
		path := "-"
		if f.OutputPath != "" {
			path = f.OutputPath
		}
		rows = append(rows, []string{
			filepath.Base(f.Source),
			fmt.Sprint(f.Stream),
			titleCase(f.Status),
			fmt.Sprint(f.Sequence),
			formatDuration(f.Latency),
			path,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Source", "Stream", "Status", "Sequence", "Latency", "Output"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft},
	))
}

func withJournal(cmd *cobra.Command, ctx *commandContext, fn func(*journal.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := journal.Open(cmd.Context(), cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()
	return fn(store)
}
