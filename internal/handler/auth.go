package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/calshare/internal/auth"
	"github.com/dukerupert/calshare/internal/identity"
)

type AuthHandler struct {
	identity *identity.Service
	logger   *slog.Logger
}

func NewAuthHandler(svc *identity.Service, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: svc, logger: logger}
}

type linkRequest struct {
	Email     string `json:"email"`
	ReturnURL string `json:"return_url"`
}

func (h *AuthHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.identity.RequestLink(r.Context(), req.Email, req.ReturnURL); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

type completeRequest struct {
	Email string `json:"email"`
	URL   string `json:"url"`
}

func (h *AuthHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	creds, err := h.identity.CompleteSignIn(r.Context(), req.Email, req.URL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, h.logger, identity.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, identity.Identity{UID: ac.UserID, Email: ac.Email})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.SignOut(r.Context(), auth.SessionID(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}
