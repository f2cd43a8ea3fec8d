package main

import (
	"fmt"

	"github.com/franckalain/moodscanner/internal/capture"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newFrameCommand prints the payload a scan would send for an image, which
// helps when replaying a request against the classification API by hand.
func newFrameCommand(ctx *commandContext) *cobra.Command {
	var imagePath string

	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Print the base64 JPEG payload captured from a still image",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.loggerValue()

			cam := capture.NewCamera(capture.FileSource{Path: imagePath},
				capture.WithConstraints(cameraConstraints(cfg.Capture)),
				capture.WithJPEGQuality(cfg.Capture.JPEGQuality),
				capture.WithLogger(logger))
			if err := cam.Acquire(cmd.Context()); err != nil {
				return err
			}
			defer func() {
				if err := cam.Release(); err != nil {
					logger.Warn("Failed to release camera", zap.Error(err))
				}
			}()

			frame, err := cam.CaptureFrame()
			if err != nil {
				return fmt.Errorf("failed to capture frame: %w", err)
			}
			logger.Debug("Captured frame",
				zap.Int("width", frame.Width),
				zap.Int("height", frame.Height),
				zap.Int("bytes", len(frame.JPEG)))

			_, err = fmt.Fprintln(cmd.OutOrStdout(), frame.Base64())
			return err
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Image file to capture (JPEG, PNG or WebP)")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}
