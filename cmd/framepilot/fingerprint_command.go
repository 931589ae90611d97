package main

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/framepilot/framepilot/internal/vision/fingerprint"
)

// newFingerprintCommand prints a reference image's perceptual digest, which
// is handy when authoring template manifests.
func newFingerprintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <image>",
		Short: "Print the perceptual digest of an image file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			img, _, err := image.Decode(f)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			print, err := fingerprint.New().Image(img)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), print.String())
			return nil
		},
	}
}
