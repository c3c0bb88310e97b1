// Command stokes-assemble combines single-polarization FITS images for
// Stokes I, Q, U and optionally V into a polarization cube.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fitscube/internal/logging"
	"fitscube/pkg/cube"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "stokes-assemble: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		overwrite bool
		vPath     string
		verbosity int
	)
	cmd := &cobra.Command{
		Use:   "stokes-assemble <stokes_I> <stokes_Q> <stokes_U> <output_file>",
		Short: "Combine Stokes I, Q, U (and optionally V) images into a polarization cube",
		Long: `Combine single-Stokes FITS files into a Stokes cube.

All inputs must share the same pixel grid and coordinate description. The
polarization axis is the fixed Stokes enumeration, so the planes are written
into fixed slots: I first, then Q, U and, when given with -V, V.`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(verbosity)
			defer log.Sync()

			opts := cube.Options{Overwrite: overwrite, Logger: log}
			return cube.CombineStokes(context.Background(), args[0], args[1], args[2], vPath, args[3], opts)
		},
	}

	cmd.Flags().BoolVarP(&overwrite, "overwrite", "o", false, "overwrite the output file if it exists")
	cmd.Flags().StringVarP(&vPath, "stokes-v", "V", "", "Stokes V file")
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "increase output verbosity")
	return cmd
}
