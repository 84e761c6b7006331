package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/frenchtutor/internal/logging"
	"github.com/ent0n29/frenchtutor/internal/protocol"
	"github.com/ent0n29/frenchtutor/internal/session"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsQueueSize    = 256
	wsMaxMessage   = 1 << 20
)

// engineConn carries one engine host websocket. Only writePump writes to the
// socket and only readPump feeds inbound.
type engineConn struct {
	s        *Server
	conn     *websocket.Conn
	sess     *session.Session
	log      zerolog.Logger
	inbound  chan any
	outbound chan any
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.wsSession(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("session_id", sess.ID).Msg("websocket upgrade failed")
		return
	}
	c := &engineConn{
		s:        s,
		conn:     conn,
		sess:     sess,
		log:      logging.WithSession(s.log, sess.ID),
		inbound:  make(chan any, wsQueueSize),
		outbound: make(chan any, wsQueueSize),
	}
	c.serve(r.Context())
}

// wsSession resolves the session a websocket asks for, answering the request
// itself when it cannot be served.
func (s *Server) wsSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return nil, false
	}
	if s.orchestrator == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "orchestrator not configured")
		return nil, false
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	if sess.Status != session.StatusActive {
		respondError(w, http.StatusGone, "session_ended", "session has ended")
		return nil, false
	}
	return sess, true
}

func (c *engineConn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	c.s.metrics.ObserveSession("ws_connected", c.s.sessions.ActiveCount())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		if err := c.s.orchestrator.RunConnection(ctx, c.sess, c.inbound, c.outbound); err != nil {
			c.log.Warn().Err(err).Msg("connection ended with error")
		}
	}()
	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	cancel()
	close(c.inbound)
	wg.Wait()
	c.s.metrics.ObserveSession("ws_disconnected", c.s.sessions.ActiveCount())
}

func (c *engineConn) readPump(ctx context.Context) {
	c.conn.SetReadLimit(wsMaxMessage)
	c.extendRead()
	c.conn.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.extendRead()

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			c.reject(err)
			continue
		}
		c.s.metrics.ObserveMessage("in", inboundType(data))
		select {
		case <-ctx.Done():
			return
		case c.inbound <- msg:
		}
	}
}

// writePump owns socket writes. It closes the socket when ctx ends so that a
// blocked readPump returns.
func (c *engineConn) writePump(ctx context.Context) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				c.log.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case msg := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Msg("websocket write failed")
				c.s.metrics.ObserveSession("ws_write_error", c.s.sessions.ActiveCount())
				return
			}
		}
	}
}

// reject answers a malformed client message without blocking the reader.
func (c *engineConn) reject(err error) {
	event := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sess.ID,
		Code:      "invalid_client_message",
		Source:    "gateway",
		Detail:    err.Error(),
	}
	select {
	case c.outbound <- event:
	default:
		c.s.metrics.ObserveMessage("out_dropped", string(protocol.TypeErrorEvent))
	}
}

func (c *engineConn) extendRead() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
}

func inboundType(data []byte) string {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "unknown"
	}
	return string(env.Type)
}
