// Command transcriber converts audio and video files into timecoded,
// optionally speaker-attributed transcripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"audio-transcriber/internal/asr"
	"audio-transcriber/internal/bootstrap"
	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/orchestrator"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type runFlags struct {
	configPath       string
	model            string
	language         string
	device           string
	outputFormat     string
	outputDir        string
	workers          int
	chunkLengthSec   int
	noChunking       bool
	diarize          bool
	minSpeakers      int
	maxSpeakers      int
	retries          int
	failureThreshold float64
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "transcriber",
		Short:         "Transcribe audio and video files with chunked recognition and speaker diarization",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.audio-transcriber/config.yaml)")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newCheckCmd(&configPath))
	root.AddCommand(newModelsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	flags := runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] FILE...",
		Short: "Transcribe one or more media files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.configPath = *configPath
			return runTranscription(cmd, args, flags)
		},
	}

	cmd.Flags().StringVar(&flags.model, "model", "", "recognition model (overrides config default)")
	cmd.Flags().StringVar(&flags.language, "language", "", "spoken language, or auto")
	cmd.Flags().StringVar(&flags.device, "device", "", "compute device, e.g. cpu or cuda")
	cmd.Flags().StringVar(&flags.outputFormat, "format", "", "transcript format: txt or md")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "directory for transcript files")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "concurrent chunk workers")
	cmd.Flags().IntVar(&flags.chunkLengthSec, "chunk-length", 0, "chunk window length in seconds")
	cmd.Flags().BoolVar(&flags.noChunking, "no-chunking", false, "process each input as a single window")
	cmd.Flags().BoolVar(&flags.diarize, "diarize", false, "enable speaker diarization")
	cmd.Flags().IntVar(&flags.minSpeakers, "min-speakers", 0, "minimum number of speakers")
	cmd.Flags().IntVar(&flags.maxSpeakers, "max-speakers", 0, "maximum number of speakers")
	cmd.Flags().IntVar(&flags.retries, "retries", -1, "retries per failed chunk")
	cmd.Flags().Float64Var(&flags.failureThreshold, "failure-threshold", -1, "tolerated failed chunk fraction in [0,1]")
	return cmd
}

// runTranscription submits one job over all inputs and follows it to
// completion, cancelling cooperatively on interrupt.
func runTranscription(cmd *cobra.Command, inputs []string, flags runFlags) error {
	app, err := bootstrap.New(flags.configPath)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	}()

	settings := applyOverrides(app.Config.Defaults.Settings(), flags)
	if flags.outputDir != "" {
		app.Writer = app.Writer.WithOutputDir(flags.outputDir)
	}

	job := app.NewJob(inputs, settings)
	handle, err := app.Orchestrator.Submit(job)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	go func() {
		<-signals
		fmt.Fprintln(cmd.ErrOrStderr(), "Cancelling, letting running chunks finish...")
		app.Orchestrator.Cancel(handle)
	}()

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				printProgress(cmd, handle.Progress())
			}
		}
	}()

	outcome, err := app.Orchestrator.Await(context.Background(), handle)
	close(done)
	if err != nil {
		return err
	}

	switch outcome.Status {
	case domain.JobStatusDone:
		paths, writeErr := app.WriteTranscripts(job, outcome, eventLog(handle))
		for _, path := range paths {
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", path)
		}
		return writeErr
	case domain.JobStatusCancelled:
		return fmt.Errorf("job cancelled")
	default:
		for _, chunk := range outcome.FailedChunks {
			fmt.Fprintf(cmd.ErrOrStderr(), "chunk %d failed after %d attempts: %v\n",
				chunk.Index, chunk.Attempts, chunk.Err)
		}
		return outcome.Err
	}
}

// applyOverrides layers non-zero CLI flags over configured defaults.
func applyOverrides(settings domain.Settings, flags runFlags) domain.Settings {
	if flags.model != "" {
		settings.Model = flags.model
	}
	if flags.language != "" {
		settings.Language = flags.language
	}
	if flags.device != "" {
		settings.Device = flags.device
	}
	if flags.outputFormat != "" {
		settings.OutputFormat = flags.outputFormat
	}
	if flags.workers > 0 {
		settings.Workers = flags.workers
	}
	if flags.chunkLengthSec > 0 {
		settings.ChunkLength = time.Duration(flags.chunkLengthSec) * time.Second
	}
	if flags.noChunking {
		settings.ChunkingEnabled = false
	}
	if flags.diarize {
		settings.DiarizationEnabled = true
	}
	if flags.minSpeakers > 0 {
		settings.MinSpeakers = flags.minSpeakers
	}
	if flags.maxSpeakers > 0 {
		settings.MaxSpeakers = flags.maxSpeakers
	}
	if flags.retries >= 0 {
		settings.ChunkRetries = flags.retries
	}
	if flags.failureThreshold >= 0 {
		settings.FailureThreshold = flags.failureThreshold
	}
	return settings
}

// eventLog flattens job events into document appendix lines.
func eventLog(handle *orchestrator.Handle) []string {
	events := handle.Events(0)
	lines := make([]string, 0, len(events))
	for _, event := range events {
		if event.Message == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s  %s",
			event.Timestamp.Format("15:04:05"), event.Message))
	}
	return lines
}

// printProgress renders one progress line for the polling ticker.
func printProgress(cmd *cobra.Command, p domain.ProgressSnapshot) {
	fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %.0f%% (%d/%d chunks done, %d running, %d failed) %s\n",
		p.Status, p.Percent, p.Succeeded, p.Total, p.Running, p.Failed, p.LastMessage)
}

func newCheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify external tools and paths are ready",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(*configPath)
			if err != nil {
				return err
			}

			report := app.RunDiagnostics()
			for _, item := range report.Items {
				fmt.Fprintf(cmd.OutOrStdout(), "%-5s %-18s %s\n",
					string(item.Status), item.Name, item.Message)
				if item.Hint != "" && item.Status == domain.DiagnosticStatusFail {
					fmt.Fprintf(cmd.OutOrStdout(), "      hint: %s\n", item.Hint)
				}
			}
			if report.HasFailures {
				return fmt.Errorf("diagnostics reported failures")
			}
			return nil
		},
	}
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List supported recognition models",
		Run: func(cmd *cobra.Command, args []string) {
			for _, model := range asr.Models() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-8s %s\n",
					model.ID, model.SizeLabel, model.Description)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "transcriber", version)
		},
	}
}
