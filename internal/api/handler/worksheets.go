package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kwen1510/CODEX-HACKATHON/internal/api/response"
	"github.com/kwen1510/CODEX-HACKATHON/internal/cache"
	"github.com/kwen1510/CODEX-HACKATHON/internal/intake"
	"github.com/kwen1510/CODEX-HACKATHON/internal/store"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/models"
	"github.com/kwen1510/CODEX-HACKATHON/pkg/wsid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Worksheets serves the upload and status endpoints. The cache, when
// configured, is a read fast-path for status polls; the store stays
// authoritative.
type Worksheets struct {
	intake *intake.Service
	store  store.Store
	cache  cache.Cache // optional, may be nil
}

func NewWorksheets(in *intake.Service, s store.Store, c cache.Cache) *Worksheets {
	return &Worksheets{intake: in, store: s, cache: c}
}

type statusResponse struct {
	ID       string                    `json:"id"`
	State    string                    `json:"state"`
	Attempts int                       `json:"attempts,omitempty"`
	Metadata *models.WorksheetMetadata `json:"metadata,omitempty"`
}

// Upload accepts a multipart zip upload and enqueues it for processing.
func (h *Worksheets) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, intake.MaxUploadBytes+1<<20)

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "MISSING_FILE", "Multipart field 'file' is required", nil)
		return
	}
	defer file.Close()

	meta, err := h.intake.Accept(r.Context(), intake.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Title:       r.FormValue("title"),
		Owner:       r.FormValue("owner"),
		Body:        file,
	})
	if err != nil {
		h.uploadError(w, err)
		return
	}

	slog.Info("worksheet accepted", "id", meta.ID, "filename", meta.OriginalFilename)
	response.Accepted(w, statusResponse{ID: meta.ID, State: meta.State, Metadata: meta})
}

func (h *Worksheets) uploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intake.ErrBadExtension):
		response.Error(w, http.StatusBadRequest, "BAD_EXTENSION", "Only .zip uploads are accepted", nil)
	case errors.Is(err, intake.ErrBadContentType):
		response.Error(w, http.StatusBadRequest, "BAD_CONTENT_TYPE", "Unsupported upload content type", nil)
	case errors.Is(err, intake.ErrBadSignature):
		response.Error(w, http.StatusBadRequest, "BAD_SIGNATURE", "Upload is not a zip archive", nil)
	case errors.Is(err, intake.ErrTooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload exceeds the size limit", nil)
	default:
		slog.Error("upload failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "UPLOAD_FAILED", "Could not store the upload", nil)
	}
}

// Get returns the status of one worksheet. A cache hit answers the poll
// without touching the filesystem.
func (h *Worksheets) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "worksheetID")
	if !wsid.Valid(id) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Worksheet not found", nil)
		return
	}

	if h.cache != nil {
		if state, ok, err := h.cache.GetWorksheetState(r.Context(), id); err == nil && ok {
			response.JSON(w, statusResponse{ID: id, State: state})
			return
		}
	}

	status, err := h.store.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Worksheet not found", nil)
			return
		}
		slog.Error("status read failed", "id", id, "error", err)
		response.Error(w, http.StatusInternalServerError, "STATUS_FAILED", "Could not read worksheet status", nil)
		return
	}
	response.JSON(w, statusResponse{
		ID:       id,
		State:    status.State,
		Attempts: status.Attempts,
		Metadata: &status.Metadata,
	})
}

// List returns worksheets newest first, paginated.
func (h *Worksheets) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.ListWorksheets(r.Context())
	if err != nil {
		slog.Error("list failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "LIST_FAILED", "Could not list worksheets", nil)
		return
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UploadedAt.After(all[j].UploadedAt) })

	states := map[string]int{}
	for _, meta := range all {
		states[meta.State]++
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	response.List(w, all[start:end], response.ListMeta{
		Page:    page,
		Limit:   limit,
		Total:   len(all),
		HasNext: end < len(all),
		States:  states,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}

// Health is the liveness probe.
func Health(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, map[string]string{"status": "ok"})
}
