package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"silence-trimmer/internal/media"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "Show duration, codec and size of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := ctx.engine()
			if err != nil {
				return err
			}
			info, err := engine.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), probeTable(info))
			if err := media.ValidateInput(info); err != nil {
				return fmt.Errorf("%s cannot be trimmed: %w", args[0], err)
			}
			return nil
		},
	}
}

func probeTable(info media.Info) string {
	resolution := info.Resolution()
	if resolution == "" {
		resolution = "unknown"
	}
	rows := [][]string{
		{"Duration", formatDuration(info.DurationSeconds)},
		{"Video codec", orUnknown(info.Codec)},
		{"Resolution", resolution},
		{"Bit rate", formatBitRate(info.BitRate)},
		{"Size", formatSize(info.SizeBytes)},
		{"Audio", yesNo(info.HasAudio)},
	}
	return renderTable([]string{"Property", "Value"}, rows, nil)
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
