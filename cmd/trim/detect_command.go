package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"silence-trimmer/internal/interval"
	"silence-trimmer/internal/media"
)

type detectFlags struct {
	noiseDB     float64
	minDuration time.Duration
	mergeGap    time.Duration
	maxSilences int
}

// detectReport is every stage of silence reduction for one file.
type detectReport struct {
	total  float64
	raw    []interval.Interval
	merged []interval.Interval
	capped []interval.Interval
	keep   []interval.Interval
}

func newDetectCommand(ctx *commandContext) *cobra.Command {
	flags := detectFlags{}
	cmd := &cobra.Command{
		Use:   "detect <file>",
		Short: "Detect silences and show how they would be trimmed",
		Long: `Run silence detection on a file without writing any output.

Prints the raw silences reported by ffmpeg, the list after merging nearby
silences and capping their number, and the segments that would be kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("noise") {
				flags.noiseDB = cfg.SilenceNoiseDB
			}
			if !cmd.Flags().Changed("min-duration") {
				flags.minDuration = cfg.SilenceMinDuration
			}
			if !cmd.Flags().Changed("gap") {
				flags.mergeGap = cfg.MergeGap
			}
			if !cmd.Flags().Changed("max") {
				flags.maxSilences = cfg.MaxSilences
			}

			engine := media.New(cfg)
			info, err := engine.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := media.ValidateInput(info); err != nil {
				return fmt.Errorf("%s cannot be trimmed: %w", args[0], err)
			}
			var diagnostic string
			if info.HasAudio {
				diagnostic, err = engine.Detect(cmd.Context(), args[0], media.DetectOptions{NoiseDB: flags.noiseDB, MinDuration: flags.minDuration})
				if err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No audio stream; nothing to detect.")
			}
			report, err := buildReport(media.ParseSilenceLog(diagnostic), info.DurationSeconds, flags)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().Float64Var(&flags.noiseDB, "noise", -30, "Noise floor in dB")
	cmd.Flags().DurationVar(&flags.minDuration, "min-duration", 500*time.Millisecond, "Shortest silence to detect")
	cmd.Flags().DurationVar(&flags.mergeGap, "gap", 2*time.Second, "Merge silences closer than this")
	cmd.Flags().IntVar(&flags.maxSilences, "max", 10, "Maximum number of silences to remove")
	return cmd
}

func buildReport(raw []interval.Interval, total float64, flags detectFlags) (detectReport, error) {
	report := detectReport{total: total, raw: raw}
	var err error
	if report.merged, err = interval.Merge(raw, flags.mergeGap.Seconds()); err != nil {
		return report, err
	}
	if report.capped, err = interval.Cap(report.merged, flags.maxSilences); err != nil {
		return report, err
	}
	if report.keep, err = interval.KeepSegments(report.capped, total); err != nil {
		return report, err
	}
	return report, nil
}

func printReport(out io.Writer, r detectReport) {
	sections := []struct {
		title string
		list  []interval.Interval
	}{
		{"Detected silences", r.raw},
		{"After merge", r.merged},
		{"After cap", r.capped},
		{"Keep segments", r.keep},
	}
	for _, s := range sections {
		fmt.Fprintf(out, "%s (%d)\n", s.title, len(s.list))
		if len(s.list) > 0 {
			fmt.Fprintln(out, intervalTable(s.list))
		}
		fmt.Fprintln(out)
	}
	if len(r.capped) == 0 || len(r.keep) == 0 {
		fmt.Fprintln(out, "Nothing to remove; processing would copy the input unchanged.")
		return
	}
	removed := interval.Total(r.capped)
	if removed > r.total {
		removed = r.total
	}
	fmt.Fprintf(out, "Estimated removal: %s of %s (%.1f%%)\n",
		formatDuration(interval.Total(r.capped)), formatDuration(r.total), removed/r.total*100)
}
