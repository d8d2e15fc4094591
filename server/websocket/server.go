// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket pushes ingestion events to presentation-layer
// clients over WebSocket connections.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mqlens/mqlens/ingest"
)

type Config struct {
	Address         string
	Path            string
	ShutdownTimeout time.Duration

	// TreeUpdateRate caps tree.updated events per second per client;
	// a busy broker generates one per message and a UI only needs a
	// handful per second to stay current. 0 uses the default.
	TreeUpdateRate float64
}

const (
	defaultTreeUpdateRate = 4.0
	writeTimeout          = 10 * time.Second
	pingInterval          = 30 * time.Second
)

type Server struct {
	config   Config
	coord    *ingest.Coordinator
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

func New(cfg Config, coord *ingest.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/events"
	}
	if cfg.TreeUpdateRate <= 0 {
		cfg.TreeUpdateRate = defaultTreeUpdateRate
	}

	s := &Server{
		config: cfg,
		coord:  coord,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleEvents)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("event_server_starting",
		slog.String("addr", s.config.Address),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("event_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("event_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}
		return nil
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	events, cancel := s.coord.Subscribe()
	defer cancel()

	s.logger.Debug("event_subscriber_connected", slog.String("remote", conn.RemoteAddr().String()))

	// Drain client frames so close handling works; the client is not
	// expected to send anything meaningful.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Tree updates fire once per ingested message; coalesce them so a
	// message burst does not flood the UI.
	treeLimiter := rate.NewLimiter(rate.Limit(s.config.TreeUpdateRate), 1)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type == ingest.TypeTreeUpdated && !treeLimiter.Allow() {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event_subscriber_gone", slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
