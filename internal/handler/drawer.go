package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/pos-settlement/internal/domain/drawer"
)

// OpenDrawer starts a drawer session with an initial float.
func (h *Handler) OpenDrawer(w http.ResponseWriter, r *http.Request) {
	var req openDrawerRequest
	if err := decodeBody(w, r, req.decodeField, &req); err != nil {
		writeError(w, r, err)
		return
	}
	float, err := parseAmount("initial_float", req.InitialFloat)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.drawers.Open(r.Context(), float)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeDrawer(e, s) })
}

// GetDrawer returns a drawer session with its running totals.
func (h *Handler) GetDrawer(w http.ResponseWriter, r *http.Request) {
	s, err := h.drawers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDrawer(e, s) })
}

// RecordMovement posts a manual cash in or cash out.
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeBody(w, r, req.decodeField, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.drawers.RecordMovement(r.Context(), chi.URLParam(r, "id"), drawer.MovementType(req.Type), amt, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDrawer(e, s) })
}

// CloseDrawer reconciles the counted cash and closes the session.
func (h *Handler) CloseDrawer(w http.ResponseWriter, r *http.Request) {
	var req closeDrawerRequest
	if err := decodeBody(w, r, req.decodeField, &req); err != nil {
		writeError(w, r, err)
		return
	}
	counted, breakdown, err := req.toDomain()
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.drawers.Close(r.Context(), chi.URLParam(r, "id"), counted, breakdown)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeDrawer(e, s) })
}
