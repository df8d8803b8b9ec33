// Package api is the admin HTTP surface: roster upload, state and journal
// reads, backups and reset.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdelmounim-dev/scanhub/domain"
	"github.com/abdelmounim-dev/scanhub/journal"
	"github.com/abdelmounim-dev/scanhub/roster"
	"github.com/abdelmounim-dev/scanhub/store"
)

// Hub is the part of the coordination core the API drives.
type Hub interface {
	PublishRoster(ctx context.Context, rows []domain.RosterRow, source string) (domain.Snapshot, error)
	Reset(ctx context.Context) error
	Snapshot() domain.Snapshot
	State() map[string]domain.StudentRecord
	Nodes() []domain.Node
	Events(since time.Time) ([]journal.Event, error)
}

// Exporter serializes the student state for backups.
type Exporter interface {
	Export(format string) ([]byte, error)
	Records() []domain.StudentRecord
}

const formatExcel = "excel"

// API serves the admin endpoints.
type API struct {
	hub            Hub
	exporter       Exporter
	eventsPath     string
	maxUploadBytes int64
	now            func() time.Time
	logger         *slog.Logger
}

// New creates the admin API. eventsPath is the journal file served raw by
// /api/events.
func New(h Hub, exporter Exporter, eventsPath string, maxUploadMB int, logger *slog.Logger) *API {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &API{
		hub:            h,
		exporter:       exporter,
		eventsPath:     eventsPath,
		maxUploadBytes: int64(maxUploadMB) << 20,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// Register mounts every route on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload-roster", a.handleUpload)
	mux.HandleFunc("POST /api/upload-excel", a.handleUpload)
	mux.HandleFunc("GET /api/cache", a.handleCache)
	mux.HandleFunc("GET /api/state", a.handleState)
	mux.HandleFunc("GET /api/nodes", a.handleNodes)
	mux.HandleFunc("GET /api/events", a.handleEventsRaw)
	mux.HandleFunc("GET /api/events_json", a.handleEventsJSON)
	mux.HandleFunc("GET /api/backup/{format}", a.handleBackup)
	mux.HandleFunc("POST /api/reset", a.handleReset)
	mux.HandleFunc("GET /healthz", a.handleHealth)
}

// Handler returns a mux with every route, wrapped in request logging.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.Register(mux)
	return a.withRequestLog(mux)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.logger.Warn("Roster upload attempted without file", "error", err)
		writeError(w, http.StatusBadRequest, "File is required", nil)
		return
	}
	defer file.Close()

	res, err := roster.Parse(file, header.Filename, a.now())
	if err != nil {
		a.logger.Error("Roster upload failed", "file", header.Filename, "error", err)
		writeError(w, http.StatusBadRequest, "Failed to process roster file", err.Error())
		return
	}
	if len(res.Rows) == 0 {
		a.logger.Error("Roster upload failed - no valid rows", "file", header.Filename, "errors", res.Errors)
		writeError(w, http.StatusBadRequest, "No valid student records found in file", res.Errors)
		return
	}

	snap, err := a.hub.PublishRoster(r.Context(), res.Rows, header.Filename)
	if err != nil {
		a.logger.Error("Roster upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store roster", err.Error())
		return
	}
	a.logger.Info("Roster file processed",
		"file", header.Filename,
		"totalRows", res.Total,
		"validRows", len(res.Rows),
		"errors", len(res.Errors),
		"cacheVersion", snap.Version,
	)

	resp := struct {
		Version       int64    `json:"version"`
		StudentsCount int      `json:"studentsCount"`
		Errors        []string `json:"errors,omitempty"`
	}{snap.Version, len(res.Rows), res.Errors}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.Snapshot())
}

func (a *API) handleState(w http.ResponseWriter, _ *http.Request) {
	state := a.hub.State()
	if state == nil {
		state = map[string]domain.StudentRecord{}
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := a.hub.Nodes()
	if nodes == nil {
		nodes = []domain.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (a *API) handleEventsRaw(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	http.ServeFile(w, r, a.eventsPath)
}

func (a *API) handleEventsJSON(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since parameter", err.Error())
			return
		}
		since = t
	}
	events, err := a.hub.Events(since)
	if err != nil {
		a.logger.Error("Failed to read events", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read events", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleBackup(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	now := a.now()
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(now.Format(time.RFC3339Nano))

	var (
		data        []byte
		contentType string
		ext         string
		err         error
	)
	switch format {
	case store.FormatJSON:
		data, err = a.exporter.Export(format)
		contentType, ext = "application/json", "json"
	case store.FormatCSV:
		data, err = a.exporter.Export(format)
		contentType, ext = "text/csv", "csv"
	case formatExcel:
		var buf bytes.Buffer
		err = roster.WriteWorkbook(&buf, a.exporter.Records(), now)
		data = buf.Bytes()
		contentType, ext = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
	default:
		err = fmt.Errorf("%w: %s", store.ErrUnsupportedFormat, format)
	}
	if errors.Is(err, store.ErrUnsupportedFormat) {
		writeError(w, http.StatusBadRequest, "Unsupported backup format", err.Error())
		return
	}
	if err != nil {
		a.logger.Error("Backup failed", "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create backup", err.Error())
		return
	}

	a.logger.Info("Backup created", "format", format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="student-data-%s.%s"`, stamp, ext))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := a.hub.Reset(r.Context()); err != nil {
		a.logger.Error("Reset failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to reset system", err.Error())
		return
	}
	a.logger.Info("System reset performed")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"nodes":        len(a.hub.Nodes()),
		"cacheVersion": a.hub.Snapshot().Version,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withRequestLog tags each request with an ID and logs its outcome.
func (a *API) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debug("HTTP request",
			"requestId", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	body := map[string]any{"error": message}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
