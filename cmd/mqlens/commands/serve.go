// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mqlens/mqlens/client"
	"github.com/mqlens/mqlens/ingest"
	httpserver "github.com/mqlens/mqlens/server/http"
	"github.com/mqlens/mqlens/server/otel"
	wsserver "github.com/mqlens/mqlens/server/websocket"
	"github.com/mqlens/mqlens/tree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the broker and record message history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		opts := ingest.Options{
			ResetHistoryOnConnect: cfg.History.ResetOnConnect,
			Logger:                logger,
		}

		if cfg.Server.MetricsEnabled {
			shutdown, err := otel.InitProvider(cfg.Server)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			metrics, err := ingest.NewMetrics()
			if err != nil {
				return err
			}
			opts.Metrics = metrics
		}

		coord := ingest.New(st, tree.New(), opts)
		defer coord.Close()

		retention := ingest.NewRetentionManager(ingest.RetentionPolicy{
			MaxAge:        cfg.Retention.MaxAge,
			MaxCount:      cfg.Retention.MaxCount,
			CheckInterval: cfg.Retention.CheckInterval,
		}, st, logger)
		retention.Start(ctx)
		defer retention.Stop()

		cli := client.New(cfg.Broker, coord, logger)
		if err := cli.Connect(ctx); err != nil {
			return err
		}
		defer cli.Disconnect()

		errCh := make(chan error, 2)

		if cfg.Server.HTTPEnabled {
			api := httpserver.New(httpserver.Config{
				Address:         cfg.Server.HTTPAddr,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, coord, logger)
			go func() { errCh <- api.Listen(ctx) }()
		}

		if cfg.Server.WSEnabled {
			ws := wsserver.New(wsserver.Config{
				Address:         cfg.Server.WSAddr,
				Path:            cfg.Server.WSPath,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, coord, logger)
			go func() { errCh <- ws.Listen(ctx) }()
		}

		logger.Info("mqlens started", "broker", cfg.Broker.URL, "storage", cfg.Storage.Type)

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case err := <-errCh:
			return err
		}
	},
}
