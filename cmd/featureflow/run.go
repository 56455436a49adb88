package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/featureflow/pkg/featureflow/runner"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	command := &cobra.Command{
		Use:   "run",
		Short: "Run the streaming DTC, and optionally a window DTC, over an event file",
		Example: `  featureflow run --streaming-dtc stream.yaml --input events.jsonl
  featureflow run --streaming-dtc stream.yaml --window-dtc window.yaml --workers 8 < events.jsonl`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			streamingPath := v.GetString("streaming-dtc")
			if streamingPath == "" {
				return fmt.Errorf("--streaming-dtc is required")
			}

			r, err := runner.FromFiles(streamingPath, v.GetString("window-dtc"),
				runner.WithWorkers(v.GetInt("workers")),
				runner.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer func() {
				if err := r.Close(); err != nil {
					logger.Warn("close stores", "error", err)
				}
			}()

			in, closeIn, err := openInput(cmd, v.GetString("input"))
			if err != nil {
				return err
			}
			defer closeIn()

			summary, err := r.Run(cmd.Context(), in)
			if err != nil {
				return err
			}

			out, closeOut, err := openOutput(cmd, v.GetString("output"))
			if err != nil {
				return err
			}
			defer closeOut()
			if err := runner.WriteRows(out, summary.Rows); err != nil {
				return err
			}

			if err := summary.Err(); err != nil {
				logger.Error("run finished with failures",
					"run_id", summary.RunID,
					"failed_identities", len(summary.Failures),
					"error", err,
				)
				if v.GetBool("strict") {
					return err
				}
			}
			return nil
		},
	}
	command.Flags().String("streaming-dtc", "", "streaming transformer DTC file (YAML or JSON)")
	command.Flags().String("window-dtc", "", "window transformer DTC file")
	command.Flags().StringP("input", "i", "-", "JSON lines event file, - for stdin")
	command.Flags().StringP("output", "o", "-", "JSON lines output file, - for stdout")
	command.Flags().Int("workers", 0, "concurrent identity shards, 0 for GOMAXPROCS")
	command.Flags().Bool("strict", false, "exit with an error when any identity or input line failed")
	return command
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
