// Package handlers exposes the sync coordinator over a JSON API. This is
// the service's presentation surface; all domain behavior lives in the
// coordinator.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jredh-dev/memotag/internal/auth"
	"github.com/jredh-dev/memotag/internal/gateway"
	"github.com/jredh-dev/memotag/internal/syncer"
	"github.com/jredh-dev/memotag/pkg/models"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	coord *syncer.Coordinator
	log   zerolog.Logger
}

// New creates a new Handler.
func New(coord *syncer.Coordinator, log zerolog.Logger) *Handler {
	return &Handler{coord: coord, log: log}
}

// --- items ---

type itemsResp struct {
	Items      []models.Item `json:"items"`
	SyncStatus string        `json:"sync_status"`
	LastError  string        `json:"last_error,omitempty"`
}

// ListItems returns the coordinator's in-memory list with sync state.
// GET /api/items
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	items := h.coord.Items()
	if items == nil {
		items = []models.Item{}
	}
	status, lastErr := h.coord.State()

	resp := itemsResp{Items: items, SyncStatus: string(status)}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	jsonOK(w, http.StatusOK, resp)
}

type createItemReq struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// CreateItem creates a tracked item.
// POST /api/items
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	item, err := h.coord.CreateItem(r.Context(), req.Name, req.Location)
	if err != nil {
		h.writeErr(w, err, "failed to create item")
		return
	}
	jsonOK(w, http.StatusCreated, item)
}

// GetItem resolves a bare identifier to an item.
// GET /api/items/{itemID}
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, r, chi.URLParam(r, "itemID"))
}

// Lookup resolves any scanner payload (bare id, deep link, legacy URL)
// to an item.
// GET /api/lookup?q=<payload>
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		jsonError(w, "q is required", http.StatusBadRequest)
		return
	}
	h.fetch(w, r, q)
}

func (h *Handler) fetch(w http.ResponseWriter, r *http.Request, raw string) {
	item, err := h.coord.FetchItem(r.Context(), raw)
	if err != nil {
		h.writeErr(w, err, "failed to fetch item")
		return
	}
	jsonOK(w, http.StatusOK, item)
}

// DeleteItem cascades the delete through messages and the item record.
// DELETE /api/items/{itemID}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	if err := h.coord.DeleteItem(r.Context(), itemID); err != nil {
		h.writeErr(w, err, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- messages ---

type addMessageReq struct {
	Message  string `json:"message"`
	UserName string `json:"user_name"`
	MsgType  string `json:"msg_type"`
}

type addMessageResp struct {
	Message *models.Message `json:"message"`
	// Warning is set when the message was recorded but the dependent
	// status update failed. The caller's text is not lost; only the
	// item status lags.
	Warning string `json:"warning,omitempty"`
}

// AddMessage posts a message to an item, optionally transitioning its
// status. The authenticated caller's name is used when user_name is
// absent.
// POST /api/items/{itemID}/messages
func (h *Handler) AddMessage(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")

	var req addMessageReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	typ, err := models.ParseMessageType(req.MsgType)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	userName := req.UserName
	if userName == "" {
		if id, ok := auth.FromContext(r.Context()); ok {
			userName = id.Name
		}
	}

	msg, err := h.coord.AddMessage(r.Context(), itemID, req.Message, userName, typ)
	if err != nil && !syncer.IsPartial(err) {
		h.writeErr(w, err, "failed to post message")
		return
	}

	resp := addMessageResp{Message: msg}
	if err != nil {
		h.log.Warn().Err(err).Str("item_id", itemID).Msg("status update failed after message post")
		resp.Warning = err.Error()
	}
	jsonOK(w, http.StatusCreated, resp)
}

// --- sync control ---

type statusResp struct {
	SyncStatus string `json:"sync_status"`
	LastError  string `json:"last_error,omitempty"`
}

// Status reports the sync state machine.
// GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status, lastErr := h.coord.State()
	resp := statusResp{SyncStatus: string(status)}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	jsonOK(w, http.StatusOK, resp)
}

// Refresh triggers an immediate load. A load already in flight makes
// this a no-op, mirroring the timer behavior.
// POST /api/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.LoadItems(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("manual refresh failed")
	}
	status, lastErr := h.coord.State()
	resp := statusResp{SyncStatus: string(status)}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	jsonOK(w, http.StatusOK, resp)
}

// --- templates ---

// Templates returns the effective status message template per category.
// GET /api/templates
func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	jsonOK(w, http.StatusOK, h.coord.Templates())
}

// UpdateTemplates stores user-edited templates. Only the categories
// present in the body are touched.
// PUT /api/templates
func (h *Handler) UpdateTemplates(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	for key, text := range req {
		typ, err := models.ParseMessageType(key)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.coord.SetStatusTemplate(typ, text); err != nil {
			h.writeErr(w, err, "failed to store template")
			return
		}
	}
	jsonOK(w, http.StatusOK, h.coord.Templates())
}

// --- helpers ---

// writeErr maps coordinator and gateway failures onto HTTP statuses.
func (h *Handler) writeErr(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, syncer.ErrNameRequired),
		errors.Is(err, syncer.ErrMessageRequired),
		errors.Is(err, syncer.ErrNotStatusType),
		gateway.IsValidation(err):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, syncer.ErrItemNotFound), gateway.IsNotFound(err):
		jsonError(w, err.Error(), http.StatusNotFound)
	case gateway.IsNotConnected(err):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case syncer.IsPartial(err):
		jsonError(w, err.Error(), http.StatusBadGateway)
	default:
		h.log.Error().Err(err).Msg(fallback)
		jsonError(w, fallback, http.StatusInternalServerError)
	}
}

func jsonOK(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
