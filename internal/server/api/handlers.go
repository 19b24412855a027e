// Package api exposes the node-graph core to collaborators over HTTP. The
// core itself has no wire protocol; this is the thin JSON surface feature
// modules and tooling consume.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/latticehq/lattice/internal/graph"
)

// Handler serves the JSON API over a NodeBackend.
type Handler struct {
	backend graph.NodeBackend
}

// NewHandler creates an API handler.
func NewHandler(backend graph.NodeBackend) *Handler {
	return &Handler{backend: backend}
}

// Routes mounts all API endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.health)

	r.Post("/nodes", h.createNode)
	r.Get("/nodes/{id}", h.getNode)
	r.Put("/nodes/{id}/content", h.updateContent)
	r.Delete("/nodes/{id}", h.deleteNode)

	r.Put("/nodes/{id}/properties/{field}", h.setProperty)
	r.Delete("/nodes/{id}/properties/{field}", h.clearProperty)

	r.Post("/nodes/{id}/supertags", h.addSupertag)
	r.Delete("/nodes/{id}/supertags/{supertag}", h.removeSupertag)

	r.Get("/supertags/{ref}/nodes", h.nodesBySupertag)
	r.Get("/supertags/{ref}/ancestors", h.ancestorSupertags)

	r.Post("/query", h.query)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.backend.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

type createNodeRequest struct {
	Content    string `json:"content"`
	OwnerID    string `json:"owner_id,omitempty"`
	SystemID   string `json:"system_id,omitempty"`
	SupertagID string `json:"supertag_id,omitempty"`
}

func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	var req createNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	id, err := h.backend.CreateNode(r.Context(), req.Content, graph.CreateOptions{
		OwnerID:    req.OwnerID,
		SystemID:   req.SystemID,
		SupertagID: req.SupertagID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) getNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var node *graph.AssembledNode
	var err error
	switch {
	case r.URL.Query().Get("raw") == "true":
		node, err = h.backend.FindNodeByID(r.Context(), id)
	case r.URL.Query().Get("inherit") == "true":
		node, err = h.backend.AssembleNodeWithInheritance(r.Context(), id)
	default:
		node, err = h.backend.AssembleNode(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (h *Handler) updateContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := h.backend.UpdateNodeContent(r.Context(), chi.URLParam(r, "id"), req.Content); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var err error
	if r.URL.Query().Get("purge") == "true" {
		err = h.backend.PurgeNode(r.Context(), id)
	} else {
		err = h.backend.DeleteNode(r.Context(), id)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type setPropertyRequest struct {
	Value  any  `json:"value"`
	Order  int  `json:"order,omitempty"`
	Append bool `json:"append,omitempty"`
}

func (h *Handler) setProperty(w http.ResponseWriter, r *http.Request) {
	var req setPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	nodeID := chi.URLParam(r, "id")
	field := chi.URLParam(r, "field")
	var err error
	if req.Append {
		err = h.backend.AddPropertyValue(r.Context(), nodeID, field, req.Value)
	} else {
		err = h.backend.SetProperty(r.Context(), nodeID, field, req.Value, req.Order)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

func (h *Handler) clearProperty(w http.ResponseWriter, r *http.Request) {
	err := h.backend.ClearProperty(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) addSupertag(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Supertag string `json:"supertag"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	added, err := h.backend.AddNodeSupertag(r.Context(), chi.URLParam(r, "id"), req.Supertag)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

func (h *Handler) removeSupertag(w http.ResponseWriter, r *http.Request) {
	removed, err := h.backend.RemoveNodeSupertag(r.Context(),
		chi.URLParam(r, "id"), chi.URLParam(r, "supertag"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (h *Handler) nodesBySupertag(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	var nodes []*graph.AssembledNode
	var err error
	if r.URL.Query().Get("inherited") == "true" {
		nodes, err = h.backend.GetNodesBySupertagWithInheritance(r.Context(), ref)
	} else {
		nodes, err = h.backend.GetNodesBySupertags(r.Context(), []string{ref}, false)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "count": len(nodes)})
}

func (h *Handler) ancestorSupertags(w http.ResponseWriter, r *http.Request) {
	ancestors, err := h.backend.GetAncestorSupertags(r.Context(), chi.URLParam(r, "ref"), graph.MaxAncestorDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ancestors": ancestors, "count": len(ancestors)})
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	var def graph.QueryDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid query definition"})
		return
	}
	result, err := h.backend.EvaluateQuery(r.Context(), def)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, graph.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, graph.ErrNotInitialized):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
