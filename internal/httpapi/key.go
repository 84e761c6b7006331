package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ent0n29/frenchtutor/internal/keystore"
)

type putKeyRequest struct {
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`
}

type keyResponse struct {
	UserID    string `json:"user_id"`
	KeyMasked string `json:"key_masked,omitempty"`
	Source    string `json:"source"`
}

// handlePutKey stores the chat API key a user typed into the page.
func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil || s.keys.Store() == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "key storage not configured")
		return
	}
	var req putKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if err := s.keys.Store().Put(r.Context(), req.UserID, req.APIKey); err != nil {
		if errors.Is(err, keystore.ErrInvalidKey) {
			respondError(w, http.StatusBadRequest, "invalid_key", err.Error())
			return
		}
		s.log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to store api key")
		respondError(w, http.StatusInternalServerError, "key_store_failed", "could not store key")
		return
	}

	key, source, err := s.keys.Resolve(r.Context(), req.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "key_store_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, keyResponse{UserID: req.UserID, KeyMasked: keystore.Mask(key), Source: string(source)})
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil || s.keys.Store() == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "key storage not configured")
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}
	if err := s.keys.Store().Delete(r.Context(), userID); err != nil && !errors.Is(err, keystore.ErrNotFound) {
		respondError(w, http.StatusInternalServerError, "key_store_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
