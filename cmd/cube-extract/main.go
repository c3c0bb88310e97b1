// Command cube-extract pulls a single channel out of a FITS cube and writes
// it as a standalone image.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fitscube/internal/logging"
	"fitscube/pkg/cube"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cube-extract: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		channel    int
		overwrite  bool
		timeDomain bool
		verbosity  int
	)
	cmd := &cobra.Command{
		Use:   "cube-extract <cube>",
		Short: "Extract a single channel from a FITS cube",
		Long: `Extract one spectral channel from a cube into its own image.

The output is written next to the cube as "<cube>.channel-<N>.fits". The
image keeps the cube's axis count, with the spectral axis collapsed to a
single plane at the extracted channel's world coordinate.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbosity)
			defer log.Sync()

			opts := cube.Options{Overwrite: overwrite, TimeDomain: timeDomain, Logger: log}
			path, err := cube.ExtractPlane(args[0], channel, opts)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().IntVarP(&channel, "channel", "c", 0, "zero-based channel to extract")
	cmd.Flags().BoolVarP(&overwrite, "overwrite", "o", false, "overwrite the output file if it exists")
	cmd.Flags().BoolVar(&timeDomain, "time-domain", false, "extract along the time axis instead of frequency")
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase output verbosity")
	return cmd
}
