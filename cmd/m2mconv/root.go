package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var deviceFlag string
	var backendFlag string

	ctx := newCommandContext(&configFlag, &deviceFlag, &backendFlag)

	rootCmd := &cobra.Command{
		Use:           "m2mconv",
		Short:         "Convert frames through memory-to-memory converter devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "Converter device node (overrides converter.device)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Conversion backend: v4l2 or soft (overrides converter.backend)")

	rootCmd.AddCommand(newProbeCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
