package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/config"
	"github.com/ent0n29/frenchtutor/internal/keystore"
	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/observability"
	"github.com/ent0n29/frenchtutor/internal/session"
)

const wsPath = "/v1/tutor/ws"

// Orchestrator runs the tutoring flow for one engine host connection.
type Orchestrator interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Orchestrator
	keys         *keystore.Resolver
	metrics      *observability.Metrics
	log          zerolog.Logger
	upgrader     websocket.Upgrader
	static       http.Handler
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Orchestrator, keys *keystore.Resolver, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		keys:         keys,
		metrics:      metrics,
		log:          logging.WithComponent(log, "httpapi"),
		static:       newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin(cfg.AllowAnyOrigin),
		},
	}
}

// sameOrigin lets only the page served by this process drive a session.
// Requests without Origin come from non-browser engine hosts such as replay.
func sameOrigin(allowAny bool) func(*http.Request) bool {
	return func(r *http.Request) bool {
		if allowAny {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	toUI := func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	}
	r.Get("/", toUI)
	r.Get("/ui", toUI)
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Route("/v1/tutor", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/{id}", s.handleGetSession)
			r.Post("/{id}/end", s.handleEndSession)
		})
		r.Put("/key", s.handlePutKey)
		r.Delete("/key", s.handleDeleteKey)
		r.Get("/status", s.handleStatus)
		r.Get("/ws", s.handleSessionWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

// handleReady reports 503 until a tutoring orchestrator is wired in.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	if s.orchestrator == nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":         status,
		"key_store_mode": s.keyStoreMode(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = "anonymous"
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	// Creating a session ends any other active session of the same student.
	sess := s.sessions.Create(userID, language)
	s.metrics.ObserveSession("created", s.sessions.ActiveCount())
	s.log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Str("language", sess.Language).Msg("session created")

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Language:        sess.Language,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
		WebsocketPath:   wsPath + "?session_id=" + url.QueryEscape(sess.ID),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.End(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ObserveSession("ended", s.sessions.ActiveCount())
	s.log.Info().Str("session_id", sess.ID).Int("student_turns", sess.StudentTurns).Int("tutor_turns", sess.TutorTurns).Msg("session ended")
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) keyStoreMode() string {
	if s.keys == nil {
		return "disabled"
	}
	return keystore.Mode(s.keys.Store())
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
