// Command cube-assemble combines single-plane FITS images into a cube along
// a frequency or time axis.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"fitscube/internal/logging"
	"fitscube/pkg/config"
	"fitscube/pkg/cube"
)

type assembleFlags struct {
	overwrite    bool
	createBlanks bool
	freqFile     string
	freqs        []float64
	ignoreFreq   bool
	maxWorkers   int
	timeDomain   bool
	verbosity    int
	configPath   string

	blankCount int
	blankStart float64
	blankStep  float64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cube-assemble: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &assembleFlags{}
	cmd := &cobra.Command{
		Use:   "cube-assemble <file_list...> <out_cube>",
		Short: "Combine single-plane FITS images into a frequency or time cube",
		Long: `Combine FITS files into a cube.

Inputs are passed in frequency (or time) order and must share the same pixel
grid and WCS. The stacking-axis value of each image is taken from its FREQ
coordinate axis when present, or from the REFFREQ header keyword otherwise;
the --freq-file, --freqs and --ignore-freq options override derivation.

With --create-blanks the axis values are regridded onto an evenly spaced
sequence and channels without a matching input are left as NaN. Adding
--blank-count (with --blank-start/--blank-step and a single template image)
allocates a fully blank cube with no input planes at all.`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(flags, args[:len(args)-1], args[len(args)-1])
		},
	}

	cmd.Flags().BoolVarP(&flags.overwrite, "overwrite", "o", false, "overwrite the output file if it exists")
	cmd.Flags().BoolVar(&flags.createBlanks, "create-blanks", false, "regrid onto evenly spaced channels, leaving gaps as NaN")
	cmd.Flags().StringVar(&flags.freqFile, "freq-file", "", "file with one axis value per line, in file order")
	cmd.Flags().Float64SliceVar(&flags.freqs, "freqs", nil, "explicit axis values, one per input file")
	cmd.Flags().BoolVar(&flags.ignoreFreq, "ignore-freq", false, "ignore axis information and just stack the planes")
	cmd.Flags().IntVar(&flags.maxWorkers, "max-workers", 0, "maximum concurrent plane writes (default: all CPUs)")
	cmd.Flags().BoolVar(&flags.timeDomain, "time-domain", false, "stack along time in seconds instead of frequency in Hz")
	cmd.Flags().CountVarP(&flags.verbosity, "verbose", "v", "increase output verbosity")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "path to a YAML defaults file")
	cmd.Flags().IntVar(&flags.blankCount, "blank-count", 0, "allocate a blank cube with this many channels (needs a single template image)")
	cmd.Flags().Float64Var(&flags.blankStart, "blank-start", 0, "first axis value of a blank cube")
	cmd.Flags().Float64Var(&flags.blankStep, "blank-step", 0, "axis step of a blank cube")
	cmd.MarkFlagsMutuallyExclusive("freq-file", "freqs", "ignore-freq")

	return cmd
}

func runAssemble(flags *assembleFlags, files []string, outPath string) error {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.verbosity == 0 {
		flags.verbosity = cfg.Output.Verbosity
	}
	log := logging.New(flags.verbosity)
	defer log.Sync()

	opts := cube.Options{
		Overwrite:    flags.overwrite,
		CreateBlanks: flags.createBlanks,
		MaxWorkers:   flags.maxWorkers,
		TimeDomain:   flags.timeDomain,
		DefaultStep:  cfg.Processing.DefaultStep,
		Logger:       log,
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = cfg.Processing.MaxWorkers
	}
	switch {
	case flags.freqFile != "":
		opts.Override = cube.ValueFile(flags.freqFile)
	case len(flags.freqs) > 0:
		opts.Override = cube.ValueList(flags.freqs)
	case flags.ignoreFreq:
		opts.Override = cube.IgnoreAxis{}
	}

	var values []float64
	if flags.blankCount > 0 {
		if !flags.createBlanks {
			return fmt.Errorf("--blank-count requires --create-blanks")
		}
		if len(files) != 1 {
			return fmt.Errorf("blank-cube allocation takes exactly one template image, got %d", len(files))
		}
		if flags.blankStep == 0 {
			return fmt.Errorf("blank-cube allocation needs a nonzero --blank-step")
		}
		syn := cube.Synthesize{Count: flags.blankCount, Start: flags.blankStart, Step: flags.blankStep}
		values, err = cube.AllocateBlank(context.Background(), files[0], outPath, syn, opts)
	} else {
		values, err = cube.Assemble(context.Background(), files, outPath, opts)
	}
	if err != nil {
		return err
	}

	if cfg.Output.WriteAxisFile {
		if err := writeAxisFile(outPath, values, flags.timeDomain, flags.overwrite); err != nil {
			return err
		}
	}
	log.Infow("done", "path", outPath, "channels", len(values))
	return nil
}

// writeAxisFile records the resolved axis values next to the cube, one value
// per line, for downstream tools that need the exact per-channel values when
// the spacing is not uniform.
func writeAxisFile(outPath string, values []float64, timeDomain, overwrite bool) error {
	suffix := ".freqs_Hz.txt"
	if timeDomain {
		suffix = ".times_s.txt"
	}
	ext := filepath.Ext(outPath)
	path := strings.TrimSuffix(outPath, ext) + suffix
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("axis file %s already exists; use --overwrite to replace it", path)
	}

	var sb strings.Builder
	for _, v := range values {
		fmt.Fprintf(&sb, "%.10E\n", v)
	}
	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
