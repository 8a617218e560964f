package web

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/fabworks/bomcheck/internal/bom"
	"github.com/fabworks/bomcheck/internal/catalog"
	"github.com/fabworks/bomcheck/internal/logging"
	"github.com/fabworks/bomcheck/internal/sheet"
	"github.com/fabworks/bomcheck/internal/stream"
)

// uploadResponse is the body returned after a successful upload.
type uploadResponse struct {
	Success  bool               `json:"success"`
	FileName string             `json:"file_name"`
	Columns  []bom.ColumnSample `json:"columns"`
	RowCount int                `json:"row_count"`
}

// processBOMRequest is the mapping-confirmation body.
type processBOMRequest struct {
	FileName string              `json:"file_name"`
	Columns  []bom.ColumnMapping `json:"columns"`
}

// processBOMResponse carries the rows ready for streaming.
type processBOMResponse struct {
	Rows      []bom.Row `json:"rows"`
	TotalRows int       `json:"total_rows"`
}

// streamRequest is the body of both stream endpoints.
type streamRequest struct {
	Rows []bom.Row `json:"rows"`
}

// handleUpload stages an uploaded workbook, normalizes it and returns the
// column samples with role predictions for the user to confirm.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".xls" {
		s.metrics.uploadsTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, "only .xlsx and .xls files are supported")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("failed").Inc()
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	if err := s.uploads.Save(header.Filename, data); err != nil {
		s.metrics.uploadsTotal.WithLabelValues("failed").Inc()
		respondError(w, r, err)
		return
	}

	table, err := sheet.Normalize(data)
	if err != nil {
		s.metrics.uploadsTotal.WithLabelValues("failed").Inc()
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("upload normalized",
		"file_name", header.Filename,
		"columns", len(table.Columns),
		"rows", len(table.Rows),
	)
	s.metrics.uploadsTotal.WithLabelValues("ok").Inc()

	writeJSON(w, uploadResponse{
		Success:  true,
		FileName: header.Filename,
		Columns:  bom.Columns(table, s.classifier),
		RowCount: len(table.Rows),
	})
}

// handleProcessBOM re-reads the staged workbook and applies the confirmed
// column mapping, returning the resolvable rows.
func (s *Server) handleProcessBOM(w http.ResponseWriter, r *http.Request) {
	var req processBOMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FileName == "" {
		writeError(w, http.StatusBadRequest, "file_name is required")
		return
	}

	data, err := s.uploads.Read(req.FileName)
	if err != nil {
		respondError(w, r, err)
		return
	}

	table, err := sheet.Normalize(data)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rows, err := bom.BuildRows(table, req.Columns)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("bom processed",
		"file_name", req.FileName,
		"rows", len(rows),
	)

	writeJSON(w, processBOMResponse{Rows: rows, TotalRows: len(rows)})
}

// handleStream returns the NDJSON streaming handler for one vendor
// resolver. Events are written one per line and flushed immediately so the
// client sees results as they arrive.
func (s *Server) handleStream(resolver catalog.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req streamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Rows) == 0 {
			writeError(w, http.StatusBadRequest, "rows is required")
			return
		}

		if err := s.limiter.Acquire(r.Context()); err != nil {
			respondError(w, r, err)
			return
		}
		defer s.limiter.Release()

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")

		s.metrics.activeStreams.Inc()
		defer s.metrics.activeStreams.Dec()
		start := time.Now()

		enc := json.NewEncoder(w)
		events := stream.Run(r.Context(), resolver, req.Rows, stream.Options{
			Buffer:    s.cfg.Stream.Buffer,
			PaceDelay: s.cfg.Stream.PaceDelay,
		})
		for ev := range events {
			switch ev.Event {
			case stream.EventFound, stream.EventNotFound:
				s.metrics.resolutionsTotal.WithLabelValues(resolver.Source(), ev.Event).Inc()
			}
			if err := enc.Encode(ev); err != nil {
				// Client went away; the context cancellation stops the producer.
				logging.FromContext(r.Context()).Info("stream write failed", "error", err)
				return
			}
			flusher.Flush()
		}

		s.metrics.streamDuration.WithLabelValues(resolver.Source()).Observe(time.Since(start).Seconds())
	}
}

// handleHealth reports service liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
