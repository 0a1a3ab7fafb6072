package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"github.com/gluk-w/claworc/keyvault/internal/credentials"
	"github.com/gluk-w/claworc/keyvault/internal/middleware"
)

func (h *Handler) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var in credentials.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.store.Create(r.Context(), middleware.OwnerID(r), in)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListByOwner(r.Context(), middleware.OwnerID(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) GetCredential(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetByID(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	var in credentials.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r), in)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id"), middleware.OwnerID(r)); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExportCredentials returns the caller's credentials without secrets, as
// JSON or, with ?format=yaml, as YAML.
func (h *Handler) ExportCredentials(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format != "" && format != "json" && format != "yaml" {
		writeError(w, http.StatusBadRequest, "format must be json or yaml")
		return
	}

	export, err := h.store.Export(r.Context(), middleware.OwnerID(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	if format != "yaml" {
		w.Header().Set("Content-Disposition", `attachment; filename="credentials-export.json"`)
		writeJSON(w, http.StatusOK, export)
		return
	}

	out, err := yaml.Marshal(export)
	if err != nil {
		h.writeFailure(w, r, fmt.Errorf("encode export: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="credentials-export.yaml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

type bulkCreateRequest struct {
	Credentials []credentials.Input `json:"credentials"`
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) BulkCreateCredentials(w http.ResponseWriter, r *http.Request) {
	var body bulkCreateRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	report, err := h.store.BulkCreate(r.Context(), middleware.OwnerID(r), body.Credentials)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) BulkDeleteCredentials(w http.ResponseWriter, r *http.Request) {
	var body bulkDeleteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	report, err := h.store.BulkDelete(r.Context(), middleware.OwnerID(r), body.IDs)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
