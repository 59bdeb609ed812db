package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SiriusScan/host-diff/sirius"
	"github.com/SiriusScan/host-diff/sirius/events"
	"github.com/SiriusScan/host-diff/sirius/postgres/models"
)

// multipartOverhead is the allowance for multipart framing on top of the
// upload limit.
const multipartOverhead = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Snapshot is the already stored snapshot on a duplicate upload.
	Snapshot *sirius.SnapshotSummary `json:"snapshot,omitempty"`
}

// HistoryResponse lists a host's snapshots, newest first.
type HistoryResponse struct {
	IPAddress string                   `json:"ip"`
	Snapshots []sirius.SnapshotSummary `json:"snapshots"`
}

// CVEResponse lists the snapshots reporting a CVE.
type CVEResponse struct {
	CVE       string                   `json:"cve"`
	Snapshots []sirius.SnapshotSummary `json:"snapshots"`
}

// EventListResponse is a page of recorded events.
type EventListResponse struct {
	Events []models.Event `json:"events"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": events.ServiceName})
}

// handleUpload accepts either a raw JSON body or a multipart form with a
// "file" part. The filename comes from ?filename= or the multipart header.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	content, filename, err := s.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	summary, err := s.svc.UploadSnapshot(r.Context(), content, filename)
	if errors.Is(err, sirius.ErrDuplicateSnapshot) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:    sirius.Kind(err),
			Message:  err.Error(),
			Snapshot: &summary,
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/snapshots/"+summary.ID)
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	filename := r.URL.Query().Get("filename")
	var body io.Reader = r.Body

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("%w: reading multipart upload: %v", sirius.ErrInvalidFormat, err)
		}
		defer func() {
			_ = file.Close()
			if r.MultipartForm != nil {
				_ = r.MultipartForm.RemoveAll()
			}
		}()
		if filename == "" {
			filename = header.Filename
		}
		body = file
	}

	content, err := io.ReadAll(io.LimitReader(body, s.maxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading upload: %v", sirius.ErrInvalidFormat, err)
	}
	if int64(len(content)) > s.maxUploadBytes {
		return nil, "", fmt.Errorf("%w: upload exceeds %d bytes", sirius.ErrInvalidFormat, s.maxUploadBytes)
	}
	return content, filename, nil
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.GetSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHostHistory(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	history, err := s.svc.GetHostHistory(r.Context(), ip)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{IPAddress: ip, Snapshots: history})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	idA, idB := q.Get("a"), q.Get("b")
	if idA == "" || idB == "" {
		writeError(w, r, fmt.Errorf("%w: query parameters a and b are required", sirius.ErrInvalidFormat))
		return
	}

	report, err := s.svc.CompareSnapshots(r.Context(), idA, idB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSnapshotsWithCVE(w http.ResponseWriter, r *http.Request) {
	cve := chi.URLParam(r, "cve")
	found, err := s.svc.SnapshotsWithCVE(r.Context(), cve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if found == nil {
		found = []sirius.SnapshotSummary{}
	}
	writeJSON(w, http.StatusOK, CVEResponse{CVE: cve, Snapshots: found})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := events.EventFilters{
		Severity:   q.Get("severity"),
		EventType:  q.Get("type"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	var err error
	if filters.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, r, err)
		return
	}
	if filters.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, r, err)
		return
	}
	if filters.StartTime, err = timeParam(q.Get("start_time")); err != nil {
		writeError(w, r, err)
		return
	}
	if filters.EndTime, err = timeParam(q.Get("end_time")); err != nil {
		writeError(w, r, err)
		return
	}

	list, total, err := events.List(r.Context(), s.eventsDB, filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{Events: list, Total: total, Limit: filters.Limit, Offset: filters.Offset})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := events.Get(r.Context(), s.eventsDB, chi.URLParam(r, "eventID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	stats, err := events.Statistics(r.Context(), s.eventsDB)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", sirius.ErrInvalidFormat, v)
	}
	return n, nil
}

func timeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an RFC 3339 time", sirius.ErrInvalidFormat, v)
	}
	return &t, nil
}

func statusFor(kind string) int {
	switch kind {
	case "invalid_format":
		return http.StatusBadRequest
	case "duplicate_snapshot":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := sirius.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
