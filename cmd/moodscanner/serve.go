package main

import (
	"fmt"

	"github.com/franckalain/moodscanner/internal/ml"
	"github.com/franckalain/moodscanner/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scanner UI and its WebSocket endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
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

			srv := server.New(model, logger, server.Options{
				Constraints:    cameraConstraints(cfg.Capture),
				JPEGQuality:    cfg.Capture.JPEGQuality,
				ScannerOptions: scannerOptions(cfg.Scanner),
			})
			return srv.Start(cmd.Context(), cfg.Server.Port, cfg.Server.StaticDir)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides config)")
	return cmd
}
