package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"m2mconv/internal/config"
	"m2mconv/internal/logging"
	"m2mconv/internal/media"
	"m2mconv/internal/metrics"
	"m2mconv/internal/pipeline"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var outputDir string
	var metricsListen string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "convert <image|dir>...",
		Short: "Convert images through every configured output stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if dir := strings.TrimSpace(outputDir); dir != "" {
				expanded, err := config.ExpandPath(dir)
				if err != nil {
					return fmt.Errorf("resolve output dir: %w", err)
				}
				cfg.Paths.OutputDir = expanded
			}
			if listen := strings.TrimSpace(metricsListen); listen != "" {
				cfg.Metrics.Listen = listen
			}
			inputs, err := collectInputs(args)
			if err != nil {
				return err
			}
			logger, err := ctx.commandLogger()
			if err != nil {
				return err
			}

			collector := metrics.NewCollector()
			if server := metrics.NewServer(cfg.Metrics.Listen, collector, logger); server != nil {
				if err := server.Start(cmd.Context()); err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				defer server.Stop()
				logger.Info("metrics endpoint listening", logging.String("addr", server.Addr()))
			}

			summary, runErr := pipeline.Run(cmd.Context(), pipeline.Options{
				Config:   cfg,
				Inputs:   inputs,
				Logger:   logger,
				Observer: collector,
			})
			if summary.RunID == "" {
				return runErr
			}
			if asJSON {
				if err := writeJSON(cmd, summaryJSON(summary, runErr)); err != nil {
					return err
				}
				return runErr
			}
			renderSummary(cmd, summary, runErr)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory for converted images (overrides paths.output_dir)")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Expose Prometheus metrics on this address during the run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the run summary as JSON")
	return cmd
}

type frameJSON struct {
	Source    string  `json:"source"`
	Stream    int     `json:"stream"`
	Status    string  `json:"status"`
	Path      string  `json:"path,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

type summaryJSONView struct {
	RunID           string      `json:"run_id"`
	Driver          string      `json:"driver"`
	Streams         int         `json:"streams"`
	FramesQueued    int         `json:"frames_queued"`
	FramesCompleted int         `json:"frames_completed"`
	Failed          int         `json:"failed"`
	DurationMS      int64       `json:"duration_ms"`
	LogPath         string      `json:"log_path"`
	Error           string      `json:"error,omitempty"`
	Frames          []frameJSON `json:"frames"`
}

func summaryJSON(s pipeline.Summary, runErr error) summaryJSONView {
	view := summaryJSONView{
		RunID:           s.RunID,
		Driver:          s.Driver,
		Streams:         s.Streams,
		FramesQueued:    s.FramesQueued,
		FramesCompleted: s.FramesCompleted,
		Failed:          s.Failed(),
		DurationMS:      s.Duration.Milliseconds(),
		LogPath:         s.LogPath,
		Frames:          make([]frameJSON, 0, len(s.Frames)),
	}
	if runErr != nil {
		view.Error = runErr.Error()
	}
	for _, f := range s.Frames {
		view.Frames = append(view.Frames, frameJSON{
			Source:    f.Source,
			Stream:    f.Stream,
			Status:    f.Status.String(),
			Path:      f.Path,
			LatencyMS: float64(f.Latency.Microseconds()) / 1000,
		})
	}
	return view
}

func renderSummary(cmd *cobra.Command, s pipeline.Summary, runErr error) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	if len(s.Frames) > 0 {
		rows := make([][]string, 0, len(s.Frames))
		for _, f := range s.Frames {
			path := "-"
			if f.Path != "" {
				path = f.Path
			}
			rows = append(rows, []string{
				filepath.Base(f.Source),
				fmt.Sprint(f.Stream),
				titleCase(f.Status.String()),
				formatDuration(f.Latency),
				path,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Source", "Stream", "Status", "Latency", "Output"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignLeft},
		))
	}

	fmt.Fprintln(out, renderSectionHeader("run summary", colorize))
	fmt.Fprintln(out, renderStatusLine("Run", statusInfo, s.RunID, colorize))
	fmt.Fprintln(out, renderStatusLine("Driver", statusInfo, s.Driver, colorize))
	fmt.Fprintln(out, renderStatusLine("Inputs", statusInfo, fmt.Sprintf("%d of %d converted", s.FramesCompleted, s.FramesQueued), colorize))
	kind := statusOK
	if s.Failed() > 0 {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Failed frames", kind, fmt.Sprint(s.Failed()), colorize))
	fmt.Fprintln(out, renderStatusLine("Elapsed", statusInfo, formatDuration(s.Duration), colorize))
	fmt.Fprintln(out, renderStatusLine("Run log", statusInfo, s.LogPath, colorize))
	if runErr != nil {
		fmt.Fprintln(out, renderStatusLine("Result", statusError, runErr.Error(), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Result", statusOK, titleCase(media.FrameSuccess.String()), colorize))
	}
}
