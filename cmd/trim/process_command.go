package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"silence-trimmer/internal/models"
	"silence-trimmer/internal/scheduler"
)

const cliJobID = "cli"

// fileLocator serves a single input and output pair.
type fileLocator struct {
	input  string
	output string
}

func (l fileLocator) ResolveInputPath(string) string  { return l.input }
func (l fileLocator) ResolveOutputPath(string) string { return l.output }
func (l fileLocator) PathExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".trimmed.mp4"
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Remove silences from a file and write the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = defaultOutputPath(input)
			}
			if output == input {
				return errors.New("output must differ from input")
			}
			cfg.MaxConcurrent = 1

			engine, err := ctx.engine()
			if err != nil {
				return err
			}
			done := make(chan models.Job, 1)
			sched := scheduler.New(cfg, engine, fileLocator{input: input, output: output},
				scheduler.WithLogger(ctx.log()),
				scheduler.WithFinishHook(func(job models.Job) { done <- job }),
			)
			defer sched.Close()

			if _, err := sched.Submit(cliJobID, input); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Processing %s\n", input)

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case job := <-done:
				return reportJob(cmd, job, output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output path (defaults to <input>.trimmed.mp4)")
	return cmd
}

func reportJob(cmd *cobra.Command, job models.Job, output string) error {
	out := cmd.OutOrStdout()
	if job.Status != models.StatusCompleted || job.Result == nil {
		detail := ""
		if job.LastError != nil {
			detail = ": " + *job.LastError
		}
		return fmt.Errorf("%s (%s)%s", job.Message, job.Category, detail)
	}
	fmt.Fprintln(out, job.Message)
	fmt.Fprintln(out, resultTable(*job.Result, output))
	return nil
}

func resultTable(res models.Result, output string) string {
	rows := [][]string{
		{"Output", output},
		{"Original duration", formatDuration(res.OriginalDuration)},
		{"Final duration", formatDuration(res.FinalDuration)},
		{"Time saved", fmt.Sprintf("%s (%.1f%%)", formatDuration(res.TimeSaved), res.PercentageSaved)},
		{"Silences removed", fmt.Sprintf("%d", res.SilencesRemoved)},
		{"Pass-through", yesNo(res.PassThrough)},
		{"Codec", orUnknown(res.Codec)},
		{"Resolution", orUnknown(res.Resolution)},
		{"Bit rate", formatBitRate(res.BitRate)},
		{"Size", formatSize(res.SizeBytes)},
	}
	return renderTable([]string{"Result", "Value"}, rows, nil)
}
