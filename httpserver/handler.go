package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/filecollect/file-registry-backend/interfaces"
	"github.com/filecollect/file-registry-backend/registry"
	"github.com/filecollect/file-registry-backend/uploader"
)

const (
	// PassphraseHeader carries the optional per-context encryption
	// passphrase. It is consumed per request and never stored.
	PassphraseHeader = "X-Registry-Passphrase"

	// maxBodySize bounds request bodies. Sized for base64-inflated uploads.
	maxBodySize = 350 * 1024 * 1024
)

// Handler processes HTTP requests for the file registry service. It wires
// the registry, the upload coordinator, and the access resolver behind the
// routes the server mounts.
type Handler struct {
	registry    *registry.Registry
	coordinator *uploader.Coordinator
	resolver    *uploader.AccessResolver
	log         *slog.Logger
}

// NewHandler creates a request handler with the given dependencies.
func NewHandler(reg *registry.Registry, coordinator *uploader.Coordinator, resolver *uploader.AccessResolver, log *slog.Logger) *Handler {
	return &Handler{
		registry:    reg,
		coordinator: coordinator,
		resolver:    resolver,
		log:         log,
	}
}

// registerRequest is the body of POST /api/contexts/{context_id}/files.
// Content arrives either inline base64 or as a source URI (data: or
// http(s)).
type registerRequest struct {
	ContentBase64 string   `json:"content_base64,omitempty"`
	SourceURI     string   `json:"source_uri,omitempty"`
	Filename      string   `json:"filename,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	Permanent     bool     `json:"permanent,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

type accessResponse struct {
	URL       string     `json:"url"`
	MimeType  string     `json:"mime_type,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) handleFromRequest(r *http.Request) (registry.ContextHandle, error) {
	contextID := interfaces.ContextID(chi.URLParam(r, "context_id"))
	if err := contextID.Validate(); err != nil {
		return registry.ContextHandle{}, err
	}
	return registry.NewContextHandle(contextID, r.Header.Get(PassphraseHeader)), nil
}

// HandleRegister ingests one file: POST /api/contexts/{context_id}/files.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	handle, err := h.handleFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var req registerRequest
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	upload := uploader.UploadRequest{
		SourceURI: req.SourceURI,
		Filename:  req.Filename,
		ScopeID:   req.Scope,
		Permanent: req.Permanent,
		Tags:      req.Tags,
		Notes:     req.Notes,
	}
	if req.ContentBase64 != "" {
		data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			http.Error(w, "Invalid base64 content", http.StatusBadRequest)
			return
		}
		upload.Bytes = data
	}

	rec, err := h.coordinator.UploadAndRegister(r.Context(), handle, upload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, rec)
}

// HandleRegisterBatch registers already-stored records as one step:
// POST /api/contexts/{context_id}/files/batch.
func (h *Handler) HandleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	handle, err := h.handleFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var records []*interfaces.FileRecord
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.registry.RegisterBatch(r.Context(), handle, records); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"registered": len(records)})
}

// HandleList lists visible records: GET /api/contexts/{context_id}/files?scope=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	handle, err := h.handleFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	records, err := h.registry.ListVisible(r.Context(), handle, r.URL.Query().Get("scope"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleFind locates one record: GET /api/contexts/{context_id}/files/find?q=.
func (h *Handler) HandleFind(w http.ResponseWriter, r *http.Request) {
	handle, err := h.handleFromRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.registry.Find(r.Context(), handle, r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "No matching record", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleGet reads one record: GET /api/contexts/{context_id}/files/{hash}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	handle, hash, err := h.recordParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.registry.ReadRecord(r.Context(), handle, hash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleUpdateMetadata patches one record:
// PATCH /api/contexts/{context_id}/files/{hash}.
func (h *Handler) HandleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	handle, hash, err := h.recordParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var patch interfaces.MetadataPatch
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ok, err := h.registry.UpdateMetadata(r.Context(), handle, hash, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !ok {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}

	rec, err := h.registry.ReadRecord(r.Context(), handle, hash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleRemoveScope drops one scope:
// DELETE /api/contexts/{context_id}/files/{hash}/scopes/{scope}.
func (h *Handler) HandleRemoveScope(w http.ResponseWriter, r *http.Request) {
	handle, hash, err := h.recordParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rec, err := h.registry.RemoveScope(r.Context(), handle, hash, chi.URLParam(r, "scope"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// HandleAccessURL issues a fresh consumption URL:
// GET /api/contexts/{context_id}/files/{hash}/url?ttl_minutes=.
func (h *Handler) HandleAccessURL(w http.ResponseWriter, r *http.Request) {
	handle, hash, err := h.recordParams(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			http.Error(w, "Invalid ttl_minutes", http.StatusBadRequest)
			return
		}
		ttl = time.Duration(minutes) * time.Minute
	}

	rec, err := h.registry.ReadRecord(r.Context(), handle, hash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rec == nil {
		http.Error(w, "Record not found", http.StatusNotFound)
		return
	}

	access := h.resolver.ResolveForConsumption(r.Context(), rec, ttl)
	resp := accessResponse{URL: access.URL, MimeType: access.MimeType}
	if !access.ExpiresAt.IsZero() {
		resp.ExpiresAt = &access.ExpiresAt
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recordParams(r *http.Request) (registry.ContextHandle, interfaces.FileHash, error) {
	handle, err := h.handleFromRequest(r)
	if err != nil {
		return registry.ContextHandle{}, interfaces.FileHash{}, err
	}
	hash, err := interfaces.NewFileHashFromHex(chi.URLParam(r, "hash"))
	if err != nil {
		return registry.ContextHandle{}, interfaces.FileHash{}, fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
	}
	return handle, hash, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// writeError maps the service error taxonomy onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interfaces.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, interfaces.ErrContentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, interfaces.ErrConcurrencyExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, interfaces.ErrBackendUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("Request failed", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
