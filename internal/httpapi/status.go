package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/frenchtutor/internal/keystore"
)

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	BrainProvider  string        `json:"brain_provider"`
	Model          string        `json:"model"`
	Language       string        `json:"language"`
	KeySource      string        `json:"key_source"`
	KeyMasked      string        `json:"key_masked,omitempty"`
	KeyStoreMode   string        `json:"key_store_mode"`
	ActiveSessions int           `json:"active_sessions"`
	Checks         []statusCheck `json:"checks"`
}

// handleStatus reports what the tutor needs before a conversation can start.
// Pass user_id to include that user's stored key; probe=1 dials the chat API.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	brain := strings.ToLower(strings.TrimSpace(s.cfg.TutorBrain))
	if brain == "" {
		brain = "auto"
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		userID = "anonymous"
	}

	source, masked := keystore.SourceNone, ""
	checks := make([]statusCheck, 0, 6)
	if s.keys != nil {
		key, src, err := s.keys.Resolve(r.Context(), userID)
		if err != nil {
			checks = append(checks, statusCheck{
				ID:     "key_store",
				Status: "error",
				Label:  "API key storage",
				Detail: err.Error(),
				Fix:    "Check DATABASE_URL or unset it to use in-memory storage.",
			})
		}
		source, masked = src, keystore.Mask(key)
	}

	switch brain {
	case "mock":
		checks = append(checks, statusCheck{
			ID:     "brain",
			Status: "warn",
			Label:  "Tutor brain is mock",
			Detail: "Replies echo the student instead of calling a language model.",
			Fix:    "Set TUTOR_BRAIN=auto and provide an OpenAI API key.",
		})
	default:
		if source == keystore.SourceNone {
			status, detail := "error", "no API key configured"
			if brain == "auto" {
				status, detail = "warn", "no API key; the mock tutor answers until one is saved"
			}
			checks = append(checks, statusCheck{
				ID:     "openai_key",
				Status: status,
				Label:  "OpenAI API key",
				Detail: detail,
				Fix:    "Set OPENAI_API_KEY or save a key with PUT /v1/tutor/key.",
			})
		} else {
			checks = append(checks, statusCheck{
				ID:     "openai_key",
				Status: "ok",
				Label:  "OpenAI API key",
				Detail: fmt.Sprintf("%s (%s)", masked, source),
			})
		}
		if r.URL.Query().Get("probe") == "1" {
			checks = append(checks, probeEndpoint(s.cfg.OpenAIBaseURL))
		}
	}

	storeMode := s.keyStoreMode()
	if storeMode == "in-memory" {
		checks = append(checks, statusCheck{
			ID:     "key_persistence",
			Status: "warn",
			Label:  "API key persistence",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL to keep saved keys across restarts.",
		})
	} else {
		checks = append(checks, statusCheck{
			ID:     "key_persistence",
			Status: "ok",
			Label:  "API key persistence",
			Detail: storeMode,
		})
	}

	respondJSON(w, http.StatusOK, statusResponse{
		BrainProvider:  brain,
		Model:          s.cfg.OpenAIModel,
		Language:       s.cfg.DefaultLanguage,
		KeySource:      string(source),
		KeyMasked:      masked,
		KeyStoreMode:   storeMode,
		ActiveSessions: s.sessions.ActiveCount(),
		Checks:         checks,
	})
}

func probeEndpoint(raw string) statusCheck {
	check := statusCheck{ID: "openai_reachable", Label: "Chat API reachable"}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		check.Status, check.Detail = "error", "invalid OPENAI_BASE_URL"
		return check
	}
	addr := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" {
			port = "80"
		}
		addr = net.JoinHostPort(u.Hostname(), port)
	}
	c, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		check.Status, check.Detail = "error", err.Error()
		check.Fix = "Check network access or OPENAI_BASE_URL."
		return check
	}
	_ = c.Close()
	check.Status, check.Detail = "ok", addr
	return check
}
