// Command batch generates images for a file of scene prompts without the
// HTTP server. It exits non-zero when any scene fails or the run is aborted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scenegen/internal/batch"
	"github.com/phrazzld/scenegen/internal/config"
	"github.com/phrazzld/scenegen/internal/platform/gemini"
	"github.com/phrazzld/scenegen/internal/platform/logger"
	"github.com/phrazzld/scenegen/internal/service"
)

type options struct {
	scenesPath string
	outDir     string
	style      string
	images     int
	quiet      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.scenesPath, "scenes", "", "path to a .json, .yaml or .toml scenes file (required)")
	flag.StringVar(&opts.outDir, "out", "out", "directory the generated images are written to")
	flag.StringVar(&opts.style, "style", "", "style hint overriding the one in the scenes file")
	flag.IntVar(&opts.images, "images", 0, "images per prompt (1-4), overriding the configured value")
	flag.BoolVar(&opts.quiet, "quiet", false, "do not print progress lines")
	flag.Parse()

	if opts.scenesPath == "" {
		fmt.Fprintln(os.Stderr, "batch: -scenes is required")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(opts))
}

func run(opts options) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch: failed to load configuration: %v\n", err)
		return 1
	}
	appLogger := logger.New(os.Stderr, cfg.Server.LogLevel)
	slog.SetDefault(appLogger)

	file, err := LoadSceneFile(opts.scenesPath)
	if err != nil {
		appLogger.Error("failed to load scenes", "path", opts.scenesPath, "error", err)
		return 1
	}
	if opts.style != "" {
		file.Style = opts.style
	}
	prompts := file.Prompts()

	batchOpts := service.OptionsFromConfig(cfg.Batch)
	if opts.images > 0 {
		batchOpts.ImagesPerPrompt = opts.images
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orchestrator, err := newOrchestrator(ctx, cfg, batchOpts, appLogger)
	if err != nil {
		appLogger.Error("failed to initialize generation", "error", err)
		return 1
	}

	var progress io.Writer = os.Stderr
	if opts.quiet {
		progress = io.Discard
	}
	sink := newConsoleSink(progress)
	stopSignals := watchSignals(sink, cancel, appLogger)
	defer stopSignals()

	report, runErr := orchestrator.Submit(ctx, prompts, sink)
	if report == nil {
		appLogger.Error("run did not start", "error", runErr)
		return 1
	}

	written, err := writeImages(opts.outDir, report)
	if err != nil {
		appLogger.Error("failed to write images", "dir", opts.outDir, "error", err)
		return 1
	}
	if err := writeSummary(opts.outDir, report); err != nil {
		appLogger.Error("failed to write run summary", "dir", opts.outDir, "error", err)
	}

	printSummary(os.Stdout, report, written, opts.outDir)

	switch {
	case errors.Is(runErr, batch.ErrAuthExpired):
		appLogger.Error("run aborted", "reason", report.AbortReason)
		return 1
	case runErr != nil:
		appLogger.Warn("run ended early", "error", runErr)
		return 1
	}
	return exitCode(report)
}

func newOrchestrator(
	ctx context.Context,
	cfg *config.Config,
	opts batch.Options,
	appLogger *slog.Logger,
) (*batch.Orchestrator, error) {
	client, err := gemini.NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	pacer := gemini.NewPacer(cfg.LLM.MinRequestInterval)

	generator, err := gemini.NewImageGenerator(client.Models, cfg.LLM, pacer, appLogger)
	if err != nil {
		return nil, err
	}
	rewriter, err := gemini.NewPromptRewriter(client.Models, cfg.LLM, pacer, appLogger)
	if err != nil {
		return nil, err
	}
	return batch.NewOrchestrator(generator, rewriter, opts, appLogger)
}

// watchSignals cancels the run cooperatively on the first interrupt and
// hard-cancels ctx on the second.
func watchSignals(sink *consoleSink, cancel context.CancelFunc, appLogger *slog.Logger) func() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		interrupts := 0
		for {
			select {
			case <-done:
				return
			case sig := <-signals:
				interrupts++
				if interrupts == 1 {
					appLogger.Warn("interrupt received, finishing in-flight scenes", "signal", sig.String())
					sink.Cancel()
					continue
				}
				appLogger.Warn("second interrupt received, stopping now", "signal", sig.String())
				cancel()
			}
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}

// exitCode is 0 only when every scene was generated.
func exitCode(report *batch.Report) int {
	if report.Outcome == batch.OutcomeCompleted && report.Failed == 0 {
		return 0
	}
	return 1
}
