// Package entities exposes the entity service over HTTP. The adapter stays
// thin: request decoding, identity headers, domain-error to status mapping
// and large-response offload live here, nothing else.
package entities

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"entitycore/internal/blob"
	"entitycore/internal/constraints"
	"entitycore/internal/core"
	"entitycore/pkg/domain"

	"github.com/go-chi/chi/v5"
)

// Handler serves the entity, traversal and constraint endpoints.
type Handler struct {
	service   *core.Service
	offloader *blob.Offloader
	logger    *slog.Logger
}

// New constructs the HTTP handler. The offloader may be nil to always serve
// responses inline.
func New(service *core.Service, offloader *blob.Offloader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, offloader: offloader, logger: logger}
}

// Register mounts the routes on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/entities/{entity_type}", h.handleCreate)
	r.Get("/entities/{id}", h.handleRead)
	r.Put("/entities/{id}", h.handleUpdate)
	r.Get("/ancestors/{id}", h.relatedHandler(domain.DirectionUp, true))
	r.Get("/descendants/{id}", h.relatedHandler(domain.DirectionDown, true))
	r.Get("/parents/{id}", h.relatedHandler(domain.DirectionUp, false))
	r.Get("/children/{id}", h.relatedHandler(domain.DirectionDown, false))
	r.Post("/constraints", h.handleConstraints)
	r.Get("/entity-types", h.handleEntityTypes)
}

// userFrom reads the caller identity propagated by the gateway. Verification
// happens upstream; this service only consumes the claims.
func userFrom(r *http.Request) domain.UserInfo {
	return domain.UserInfo{
		Sub:         r.Header.Get("X-User-Sub"),
		Email:       r.Header.Get("X-User-Email"),
		DisplayName: r.Header.Get("X-User-Displayname"),
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	result, err := h.service.CreateEntity(r.Context(), chi.URLParam(r, "entity_type"), payload, userFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, result)
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ReadEntity(r.Context(), chi.URLParam(r, "id"), userFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeBody(w, r)
	if !ok {
		return
	}
	result, err := h.service.UpdateEntity(r.Context(), chi.URLParam(r, "id"), payload, userFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, result)
}

func (h *Handler) relatedHandler(dir domain.Direction, transitive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if property := r.URL.Query().Get("property"); property != "" {
			values, err := h.service.RelatedProperty(r.Context(), id, dir, transitive, property)
			if err != nil {
				h.writeError(w, err)
				return
			}
			h.writeJSON(w, r, http.StatusOK, values)
			return
		}
		result, err := h.service.Related(r.Context(), id, dir, transitive)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, r, http.StatusOK, result)
	}
}

func (h *Handler) handleConstraints(w http.ResponseWriter, r *http.Request) {
	var rows []constraints.Row
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		h.writeError(w, domain.ErrBadRequest{Message: "invalid request body"})
		return
	}
	order := constraints.Order(r.URL.Query().Get("order"))
	if order == "" {
		order = constraints.OrderAncestors
	}
	if order != constraints.OrderAncestors && order != constraints.OrderDescendants {
		h.writeError(w, domain.ErrBadRequest{Message: "order must be ancestors or descendants"})
		return
	}
	match := strings.EqualFold(r.URL.Query().Get("match"), "true")
	useCase := r.URL.Query().Get("filter")
	reports, err := h.service.ConstraintReport(order, rows, match, useCase)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, reports)
}

func (h *Handler) handleEntityTypes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.service.Registry().Types())
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, domain.ErrBadRequest{Message: "invalid request body"})
		return nil, false
	}
	return payload, true
}

// writeJSON serializes v, offloading the body to the blob store when it
// exceeds the configured threshold. Offloaded responses carry a retrieval
// reference instead of the payload.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.offloader != nil {
		ref, offloaded, oerr := h.offloader.MaybeOffload(r.Context(), strings.Trim(r.URL.Path, "/"), body)
		if oerr != nil {
			h.writeError(w, oerr)
			return
		}
		if offloaded {
			body, err = json.Marshal(map[string]string{"url": ref})
			if err != nil {
				h.writeError(w, err)
				return
			}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

type errorBody struct {
	Error      string                  `json:"error"`
	Violations []domain.FieldViolation `json:"violations,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Error: err.Error()}

	var validation domain.ValidationError
	var trigger domain.TriggerError
	var notFound domain.ErrNotFound
	var conflict domain.ErrConflict
	var bad domain.ErrBadRequest
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body.Violations = validation.Violations
	case errors.As(err, &bad):
		status = http.StatusBadRequest
	case errors.As(err, &trigger):
		status = http.StatusBadRequest
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
