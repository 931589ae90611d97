package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framepilot/framepilot/internal/config"
	"github.com/framepilot/framepilot/internal/vision/fingerprint"
	"github.com/framepilot/framepilot/internal/vision/library"
)

func newConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigCheckCommand(configPath))
	cmd.AddCommand(newConfigSampleCommand())
	return cmd
}

// newConfigCheckCommand validates the config file and the template manifest
// it points at, without touching the device or the display.
func newConfigCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and template manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			lib, err := library.Load(cfg.Vision.ManifestPath, fingerprint.New())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config %s: ok\n", *configPath)
			fmt.Fprintf(out, "manifest %s: ok (%d templates)\n", cfg.Vision.ManifestPath, lib.Len())
			for _, tpl := range lib.All() {
				fmt.Fprintf(out, "  %-24s %s  op=%s\n", tpl.ID, tpl.Fingerprint, tpl.Action.Op)
			}
			return nil
		},
	}
}

func newConfigSampleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Print a commented sample configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprint(cmd.OutOrStdout(), config.Sample())
			return nil
		},
	}
}
