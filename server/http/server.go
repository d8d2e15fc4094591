// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http exposes the history engine to the presentation layer:
// search, statistics, tree snapshots, export, and history management.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mqlens/mqlens/export"
	"github.com/mqlens/mqlens/ingest"
	"github.com/mqlens/mqlens/record"
	"github.com/mqlens/mqlens/store"
)

// defaultPageSize caps interactive search results. Export endpoints
// intentionally ignore it.
const defaultPageSize = 100

type Config struct {
	Address         string
	ShutdownTimeout time.Duration
}

type Server struct {
	config Config
	coord  *ingest.Coordinator
	logger *slog.Logger
	server *http.Server
}

func New(cfg Config, coord *ingest.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: cfg,
		coord:  coord,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/messages/export", s.handleExport)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/tree", s.handleTree)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("history_api_starting", slog.String("addr", s.config.Address))

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
		s.logger.Info("history_api_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("history_api_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("history_api_stopped")
		return nil
	}
}

// filterFromQuery builds a store filter from request query parameters.
func filterFromQuery(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{
		Topic:             q.Get("topic"),
		Payload:           q.Get("payload"),
		ConnectionID:      q.Get("connection_id"),
		UserPropertyKey:   q.Get("prop_key"),
		UserPropertyValue: q.Get("prop_value"),
	}

	var err error
	parseInt64 := func(name string) (int64, error) {
		v := q.Get(name)
		if v == "" {
			return 0, nil
		}
		return strconv.ParseInt(v, 10, 64)
	}
	parseInt := func(name string) (int, error) {
		v := q.Get(name)
		if v == "" {
			return 0, nil
		}
		return strconv.Atoi(v)
	}

	if f.Start, err = parseInt64("start"); err != nil {
		return f, fmt.Errorf("invalid start: %w", err)
	}
	if f.End, err = parseInt64("end"); err != nil {
		return f, fmt.Errorf("invalid end: %w", err)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fmt.Errorf("invalid limit: %w", err)
		}
		f.Limit = &n
	}
	if f.Offset, err = parseInt("offset"); err != nil {
		return f, fmt.Errorf("invalid offset: %w", err)
	}

	if v := q.Get("qos"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 2 {
			return f, fmt.Errorf("invalid qos: %q", v)
		}
		qos := byte(n)
		f.QoS = &qos
	}
	if v := q.Get("retained"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid retained: %w", err)
		}
		f.Retained = &b
	}
	return f, nil
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleSearch(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	// Interactive searches get a page size unless the caller set one
	// explicitly (including an explicit limit=0).
	if f.Limit == nil {
		f.Limit = store.LimitN(defaultPageSize)
	}

	recs, err := s.coord.Search(r.Context(), f)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}

	flat := make([]record.Flat, 0, len(recs))
	for _, rec := range recs {
		flat = append(flat, rec.Flatten())
	}
	s.writeJSON(w, flat)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if v := q.Get("older_than"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid older_than: %v", err), http.StatusBadRequest)
			return
		}
		n, err := s.coord.Store().DeleteOlderThan(r.Context(), ts)
		if err != nil {
			s.writeQueryError(w, err)
			return
		}
		s.writeJSON(w, map[string]int{"removed": n})
		return
	}

	if id := q.Get("id"); id != "" {
		if err := s.coord.Store().Delete(r.Context(), id); err != nil {
			s.writeQueryError(w, err)
			return
		}
		s.writeJSON(w, map[string]string{"status": "ok"})
		return
	}

	if err := s.coord.Clear(r.Context()); err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "cleared"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	f, err := filterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	recs, err := export.Search(r.Context(), s.coord.Store(), f)
	if err != nil {
		s.writeQueryError(w, err)
		return
	}

	var out io.Writer = w
	var finish func() error
	if wantGzip(r) {
		w.Header().Set("Content-Encoding", "gzip")
		out, finish = export.Gzip(w)
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
		err = export.JSON(out, recs)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		err = export.CSV(out, recs)
	default:
		http.Error(w, fmt.Sprintf("unknown format %q", format), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("export_failed", slog.String("error", err.Error()))
		return
	}
	if finish != nil {
		if err := finish(); err != nil {
			s.logger.Error("export_gzip_flush_failed", slog.String("error", err.Error()))
		}
	}
}

func wantGzip(r *http.Request) bool {
	b, err := strconv.ParseBool(r.URL.Query().Get("gzip"))
	return err == nil && b
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.coord.Store().Stats(r.Context())
	if err != nil {
		s.writeQueryError(w, err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if pattern := r.URL.Query().Get("pattern"); pattern != "" {
		s.writeJSON(w, s.coord.Tree().MatchingTopics(pattern))
		return
	}
	s.writeJSON(w, s.coord.Tree().Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response_encode_failed", slog.String("error", err.Error()))
	}
}

// writeQueryError maps store errors to HTTP statuses: malformed filters
// are client errors, everything else surfaces as a server error with a
// readable message, never as silent partial results.
func (s *Server) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidFilter):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusRequestTimeout)
	default:
		s.logger.Error("query_failed", slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
