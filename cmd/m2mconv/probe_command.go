package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"m2mconv/internal/converter"
	"m2mconv/internal/media"
	"m2mconv/internal/pipeline"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Inspect the converter device",
		RunE: func(cmd *cobra.Command, args []string) error {
			var info struct {
				Device     string `json:"device"`
				Driver     string `json:"driver"`
				Card       string `json:"card"`
				BusInfo    string `json:"bus_info"`
				Compatible bool   `json:"compatible"`
			}
			err := withConverter(cmd, ctx, func(conv *converter.Converter) error {
				i := conv.Info()
				info.Driver, info.Card, info.BusInfo = i.Driver, i.Card, i.BusInfo
				info.Compatible = converter.IsCompatible(i.Driver)
				return nil
			})
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			info.Device = cfg.Converter.Device
			if asJSON {
				return writeJSON(cmd, info)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderSectionHeader("converter", colorize))
			fmt.Fprintln(out, renderStatusLine("Device", statusInfo, info.Device, colorize))
			fmt.Fprintln(out, renderStatusLine("Driver", statusInfo, info.Driver, colorize))
			fmt.Fprintln(out, renderStatusLine("Card", statusInfo, info.Card, colorize))
			fmt.Fprintln(out, renderStatusLine("Bus", statusInfo, info.BusInfo, colorize))
			kind := statusOK
			if !info.Compatible {
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Shared input", kind, yesNo(info.Compatible), colorize))
			return nil
		},
	}
	probeCmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	probeCmd.AddCommand(newProbeFormatsCommand(ctx))
	probeCmd.AddCommand(newProbeSizesCommand(ctx))
	probeCmd.AddCommand(newProbeStrideCommand(ctx))
	return probeCmd
}

func newProbeFormatsCommand(ctx *commandContext) *cobra.Command {
	var inputFlag string
	cmd := &cobra.Command{
		Use:   "formats",
		Short: "List output pixel formats for an input format",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := ctx.ensureConfig()
			input, err := media.ParsePixelFormat(firstNonEmpty(inputFlag, cfg.Input.PixelFormat))
			if err != nil {
				return err
			}
			var formats []media.PixelFormat
			if err := withConverter(cmd, ctx, func(conv *converter.Converter) error {
				formats = conv.Formats(input)
				return nil
			}); err != nil {
				return err
			}
			if len(formats) == 0 {
				return fmt.Errorf("input format %s is not supported by %s", input, cfg.Converter.Device)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Output formats for %s input:\n", input)
			for _, f := range formats {
				fmt.Fprintf(out, "  %s\n", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&inputFlag, "input", "", "Input pixel format (default: input.pixel_format)")
	return cmd
}

func newProbeSizesCommand(ctx *commandContext) *cobra.Command {
	var sizeFlag string
	cmd := &cobra.Command{
		Use:   "sizes",
		Short: "Show the output size range for an input size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := ctx.ensureConfig()
			input := media.Size{Width: cfg.Input.Width, Height: cfg.Input.Height}
			if strings.TrimSpace(sizeFlag) != "" {
				parsed, err := media.ParseSize(sizeFlag)
				if err != nil {
					return err
				}
				input = parsed
			}
			var sizes media.SizeRange
			if err := withConverter(cmd, ctx, func(conv *converter.Converter) error {
				sizes = conv.Sizes(input)
				return nil
			}); err != nil {
				return err
			}
			if sizes.IsNull() {
				return fmt.Errorf("size probe failed for %s input", input)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Output sizes for %s input: %s to %s\n", input, sizes.Min, sizes.Max)
			return nil
		},
	}
	cmd.Flags().StringVar(&sizeFlag, "size", "", "Input size as WIDTHxHEIGHT (default: input width and height)")
	return cmd
}

func newProbeStrideCommand(ctx *commandContext) *cobra.Command {
	var formatFlag string
	var sizeFlag string
	cmd := &cobra.Command{
		Use:   "stride",
		Short: "Show the output stride and frame size for a format and size",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := ctx.ensureConfig()
			rows := make([][]string, 0, len(cfg.Outputs))
			targets := make([]media.StreamConfig, 0, len(cfg.Outputs))
			if strings.TrimSpace(formatFlag) != "" || strings.TrimSpace(sizeFlag) != "" {
				pf, err := media.ParsePixelFormat(firstNonEmpty(formatFlag, cfg.Outputs[0].PixelFormat))
				if err != nil {
					return err
				}
				size := media.Size{Width: cfg.Outputs[0].Width, Height: cfg.Outputs[0].Height}
				if strings.TrimSpace(sizeFlag) != "" {
					if size, err = media.ParseSize(sizeFlag); err != nil {
						return err
					}
				}
				targets = append(targets, media.StreamConfig{PixelFormat: pf, Size: size})
			} else {
				outputs, err := cfg.OutputConfigs()
				if err != nil {
					return err
				}
				targets = outputs
			}

			if err := withConverter(cmd, ctx, func(conv *converter.Converter) error {
				for _, t := range targets {
					stride, frameSize := conv.StrideAndFrameSize(t.PixelFormat, t.Size)
					rows = append(rows, []string{t.PixelFormat.String(), t.Size.String(), fmt.Sprint(stride), fmt.Sprint(frameSize)})
				}
				return nil
			}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Format", "Size", "Stride", "Frame Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&formatFlag, "format", "", "Output pixel format (default: configured outputs)")
	cmd.Flags().StringVar(&sizeFlag, "size", "", "Output size as WIDTHxHEIGHT")
	return cmd
}

func withConverter(cmd *cobra.Command, ctx *commandContext, fn func(*converter.Converter) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.commandLogger()
	if err != nil {
		return err
	}
	return pipeline.Probe(cmd.Context(), cfg, logger, fn)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
