// ABOUTME: WebSocket endpoint connecting clients to the command/query mux
// ABOUTME: One session handle per socket; implements the dispatcher's push sink

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/parley-gateway/internal/auth"
	"github.com/2389/parley-gateway/internal/chat"
	"github.com/2389/parley-gateway/internal/notify"
	"github.com/2389/parley-gateway/internal/session"
)

const writeWait = 10 * time.Second

// ErrSessionClosed is returned by Push when the handle's socket is gone.
var ErrSessionClosed = errors.New("session closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, restrict to configured origins.
		return true
	},
}

// conn wraps one socket with a write lock: gorilla allows a single
// concurrent writer, and pushes race reply frames.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Server is the WebSocket transport. It authenticates connects, registers a
// session handle per socket, feeds decoded frames into the mux, and pushes
// dispatcher notifications back out.
type Server struct {
	verifier auth.TokenVerifier
	registry *session.Registry
	mux      *chat.Mux
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn // handle id -> socket
}

// NewServer creates the transport server.
func NewServer(verifier auth.TokenVerifier, registry *session.Registry, mux *chat.Mux, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		verifier: verifier,
		registry: registry,
		mux:      mux,
		logger:   logger.With("component", "transport"),
		conns:    make(map[string]*conn),
	}
}

// frame is one client request: a command or a query plus its payload.
type frame struct {
	Type string          `json:"type"` // "command" or "query"
	Kind string          `json:"kind"`
	Seq  int64           `json:"seq,omitempty"` // echoed back so clients can match replies
	Body json.RawMessage `json:"body"`
}

// reply answers one frame. Code carries the typed failure so clients can
// branch without parsing the message.
type reply struct {
	Type   string `json:"type"` // "result"
	Seq    int64  `json:"seq,omitempty"`
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

// errorCode maps core errors to wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, chat.ErrStaleWrite):
		return "stale_write"
	case errors.Is(err, chat.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, chat.ErrNotAParticipant):
		return "not_a_participant"
	case errors.Is(err, chat.ErrNotFound):
		return "not_found"
	case errors.Is(err, chat.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, chat.ErrUnknownCommand), errors.Is(err, chat.ErrUnknownQuery):
		return "unknown_kind"
	default:
		return "internal"
	}
}

// push wraps a notification for the wire.
type push struct {
	Type         string              `json:"type"` // "notification"
	Notification notify.Notification `json:"notification"`
}

// HandleWS upgrades an authenticated request to a WebSocket session.
// The connect token comes from the "token" query parameter.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	handle := &session.Handle{
		ID:     uuid.New().String(),
		UserID: identity.UserID,
		Meta: session.Metadata{
			Role:        identity.Role,
			ClientAgent: r.UserAgent(),
		},
		ConnectedAt: time.Now(),
	}

	if err := s.registry.Register(handle); err != nil {
		s.logger.Error("registering session", "handle_id", handle.ID, "error", err)
		ws.Close()
		return
	}

	c := &conn{ws: ws}
	s.mu.Lock()
	s.conns[handle.ID] = c
	s.mu.Unlock()

	s.readLoop(r.Context(), handle, c)
}

// readLoop serves one socket until it closes, then tears the session down.
func (s *Server) readLoop(ctx context.Context, handle *session.Handle, c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, handle.ID)
		s.mu.Unlock()
		s.registry.Unregister(handle.ID)
		c.ws.Close()
	}()

	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("socket closed unexpectedly", "handle_id", handle.ID, "error", err)
			}
			return
		}

		rep := s.serve(ctx, f)
		if err := c.writeJSON(rep); err != nil {
			s.logger.Warn("writing reply", "handle_id", handle.ID, "error", err)
			return
		}
	}
}

// serve decodes and executes one frame against the mux.
func (s *Server) serve(ctx context.Context, f frame) reply {
	rep := reply{Type: "result", Seq: f.Seq}

	var result any
	var err error
	switch f.Type {
	case "command":
		var cmd chat.Command
		cmd, err = decodeCommand(f.Kind, f.Body)
		if err == nil {
			result, err = s.mux.Submit(ctx, cmd)
		}
	case "query":
		var qry chat.Query
		qry, err = decodeQuery(f.Kind, f.Body)
		if err == nil {
			result, err = s.mux.SubmitQuery(ctx, qry)
		}
	default:
		err = fmt.Errorf("unknown frame type %q", f.Type)
	}

	if err != nil {
		rep.Code = errorCode(err)
		rep.Error = err.Error()
		return rep
	}
	rep.OK = true
	rep.Result = result
	return rep
}

// decodeCommand maps a wire kind to its command struct. The mux dispatches
// on value types, so each arm unmarshals into a concrete value.
func decodeCommand(kind string, body json.RawMessage) (chat.Command, error) {
	switch chat.CommandKind(kind) {
	case chat.CmdStartConversation:
		var cmd chat.StartConversation
		if err := unmarshalBody(kind, body, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case chat.CmdMarkSeen:
		var cmd chat.MarkSeen
		if err := unmarshalBody(kind, body, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case chat.CmdMarkUnseen:
		var cmd chat.MarkUnseen
		if err := unmarshalBody(kind, body, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case chat.CmdUpdateStatus:
		var cmd chat.UpdateStatus
		if err := unmarshalBody(kind, body, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	case chat.CmdUnassignParticipant:
		var cmd chat.UnassignParticipant
		if err := unmarshalBody(kind, body, &cmd); err != nil {
			return nil, err
		}
		return cmd, nil
	default:
		return nil, fmt.Errorf("%w: %s", chat.ErrUnknownCommand, kind)
	}
}

// decodeQuery maps a wire kind to its query struct.
func decodeQuery(kind string, body json.RawMessage) (chat.Query, error) {
	switch chat.QueryKind(kind) {
	case chat.QryConversationByParticipant:
		var qry chat.FindOneConversationByParticipant
		if err := unmarshalBody(kind, body, &qry); err != nil {
			return nil, err
		}
		return qry, nil
	case chat.QryConversationsByParticipant:
		var qry chat.FindConversationsByParticipant
		if err := unmarshalBody(kind, body, &qry); err != nil {
			return nil, err
		}
		return qry, nil
	case chat.QryUserBySessionHandle:
		var qry chat.FindUserBySessionHandle
		if err := unmarshalBody(kind, body, &qry); err != nil {
			return nil, err
		}
		return qry, nil
	default:
		return nil, fmt.Errorf("%w: %s", chat.ErrUnknownQuery, kind)
	}
}

func unmarshalBody(kind string, body json.RawMessage, dst any) error {
	if len(body) == 0 {
		return fmt.Errorf("decoding %s: empty body", kind)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decoding %s: %w", kind, err)
	}
	return nil
}

// Push implements notify.Pusher by writing a notification frame to the
// handle's socket. Returns ErrSessionClosed if the socket is already gone.
func (s *Server) Push(_ context.Context, handle *session.Handle, n notify.Notification) error {
	s.mu.RLock()
	c, ok := s.conns[handle.ID]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionClosed
	}

	if err := c.writeJSON(push{Type: "notification", Notification: n}); err != nil {
		return fmt.Errorf("writing notification: %w", err)
	}
	return nil
}

// Close closes every open socket. Read loops unwind and unregister their
// handles.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
}
