// Package api exposes the NPC store as a JSON REST API.
//
// Routes:
//
//	GET    /api/npcs        list all NPCs
//	POST   /api/npcs        create an NPC
//	GET    /api/npcs/{id}   fetch one NPC
//	PATCH  /api/npcs/{id}   shallow-merge update
//	DELETE /api/npcs/{id}   delete
//	POST   /api/breed       breed two NPCs: {"parent_a": id, "parent_b": id}
//
// Errors are returned as {"error": message}. A missing NPC maps to 404,
// invalid input to 400 and everything else to 500.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/npcforge/internal/breed"
	"github.com/MrWong99/npcforge/internal/npc"
	"github.com/MrWong99/npcforge/internal/observe"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// BreedRequest is the body of POST /api/breed.
type BreedRequest struct {
	ParentA string `json:"parent_a"`
	ParentB string `json:"parent_b"`
}

// Handler serves the REST API. It is safe for concurrent use.
type Handler struct {
	store   npc.Store
	metrics *observe.Metrics
}

// New creates a [Handler] backed by store. m may be nil.
func New(store npc.Store, m *observe.Metrics) *Handler {
	return &Handler{store: store, metrics: m}
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/npcs", h.list)
	mux.HandleFunc("POST /api/npcs", h.create)
	mux.HandleFunc("GET /api/npcs/{id}", h.get)
	mux.HandleFunc("PATCH /api/npcs/{id}", h.update)
	mux.HandleFunc("DELETE /api/npcs/{id}", h.delete)
	mux.HandleFunc("POST /api/breed", h.breed)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var f npc.Fields
	if err := decode(w, r, &f); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := f.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.store.Create(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/npcs/"+n.ID)
	writeJSON(w, http.StatusCreated, n)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var p npc.Patch
	if err := decode(w, r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := p.Validate(); err != nil {
		h.fail(w, r, err)
		return
	}
	var (
		n   npc.NPC
		err error
	)
	if p.IsEmpty() {
		n, err = h.store.Get(r.Context(), r.PathValue("id"))
	} else {
		n, err = h.store.Update(r.Context(), r.PathValue("id"), p)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) breed(w http.ResponseWriter, r *http.Request) {
	var req BreedRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ParentA == "" || req.ParentB == "" {
		h.fail(w, r, &npc.ValidationError{Problems: []string{"parent_a and parent_b are required"}})
		return
	}
	child, err := breed.Breed(r.Context(), h.store, req.ParentA, req.ParentB)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.RecordOffspring(r.Context())
	w.Header().Set("Location", "/api/npcs/"+child.ID)
	writeJSON(w, http.StatusCreated, child)
}

// badRequest marks request decoding failures.
type badRequest struct{ err error }

func (e *badRequest) Error() string { return e.err.Error() }
func (e *badRequest) Unwrap() error { return e.err }

// decode reads a single JSON object from the request body into v, rejecting
// unknown fields and trailing data.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &badRequest{fmt.Errorf("invalid JSON body: %w", err)}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return &badRequest{errors.New("invalid JSON body: unexpected data after object")}
	}
	return nil
}

// fail maps err to a status code and writes the error body.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *npc.ValidationError
		br *badRequest
	)
	switch {
	case errors.Is(err, npc.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid npc", Problems: ve.Problems})
	case errors.As(err, &br), errors.Is(err, breed.ErrSameParent):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		observe.Logger(r.Context()).Error("api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}
