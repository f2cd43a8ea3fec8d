package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/franckalain/moodscanner/internal/capture"
	"github.com/franckalain/moodscanner/internal/config"
	"github.com/franckalain/moodscanner/internal/ml"
	"github.com/franckalain/moodscanner/internal/models"
	"github.com/franckalain/moodscanner/internal/scanner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var imagePath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Classify the mood in a still image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerValue()

			model, err := ml.NewModel(cfg.ML)
			if err != nil {
				return fmt.Errorf("failed to create ML model: %w", err)
			}
			if err := model.Load(cmd.Context()); err != nil {
				return fmt.Errorf("failed to load ML model: %w", err)
			}
			defer func() {
				if err := model.Close(); err != nil {
					logger.Warn("Failed to close ML model", zap.Error(err))
				}
			}()

			progress := cmd.ErrOrStderr()
			if jsonOutput {
				progress = io.Discard
			}
			result, err := runScan(cmd.Context(), model, cfg, imagePath, progress, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			_, err = io.WriteString(out, renderResult(result))
			return err
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Image file to scan (JPEG, PNG or WebP)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

// runScan drives one scan from a still image through the same orchestrator
// the server uses, rendering its progress indicator as a bar.
func runScan(ctx context.Context, model scanner.Classifier, cfg *config.Config, imagePath string, progress io.Writer, logger *zap.Logger) (*models.MoodResult, error) {
	cam := capture.NewCamera(capture.FileSource{Path: imagePath},
		capture.WithConstraints(cameraConstraints(cfg.Capture)),
		capture.WithJPEGQuality(cfg.Capture.JPEGQuality),
		capture.WithLogger(logger))
	if err := cam.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := cam.Release(); err != nil {
			logger.Warn("Failed to release camera", zap.Error(err))
		}
	}()

	opts := append([]scanner.Option{scanner.WithLogger(logger)}, scannerOptions(cfg.Scanner)...)
	orch := scanner.New(model, opts...)
	defer orch.Close()

	bar := newProgressBar(progress)
	done := make(chan scanner.Snapshot, 1)
	unsubscribe := orch.Subscribe(func(snap scanner.Snapshot) {
		switch snap.View {
		case models.ViewAnalyzing:
			_ = bar.Set(snap.Progress)
		case models.ViewResult, models.ViewScanning:
			select {
			case done <- snap:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := orch.Scan(cam); err != nil {
		return nil, err
	}

	var snap scanner.Snapshot
	select {
	case snap = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if snap.View != models.ViewResult {
		_ = bar.Exit()
		return nil, errors.New(snap.Error)
	}
	_ = bar.Finish()
	return snap.Result, nil
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan]"+scanner.StatusAnalyzing+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

func renderResult(r *models.MoodResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Mood:        %s (%d%% confidence)\n", r.Mood, r.Confidence)
	fmt.Fprintf(&b, "Energy:      %s\n", r.EnergyLevel)
	if len(r.Tags) > 0 {
		fmt.Fprintf(&b, "Tags:        %s\n", strings.Join(r.Tags, ", "))
	}
	if r.AvatarKey != "" {
		fmt.Fprintf(&b, "Avatar:      %s %s\n", r.AvatarKey, r.AvatarURL)
	}
	if r.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Description)
	}

	rows := make([][]string, 0, len(r.Recommendations))
	for _, rec := range r.Recommendations {
		rows = append(rows, []string{rec.Name, rec.Category, rec.Price, rec.Reason})
	}
	b.WriteString("\n")
	b.WriteString(renderTable(
		[]string{"Product", "Category", "Price", "Why"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
	b.WriteString("\n")
	return b.String()
}
