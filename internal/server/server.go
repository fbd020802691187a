// Package server exposes the streaming gateway over a WebSocket endpoint.
//
// Each connection carries discrete JSON messages in both directions. The read
// loop parses and dispatches client messages to the session manager; a writer
// goroutine per attached session drains that session's send queue to the
// connection in FIFO order. Ingress never blocks on gateway state — only the
// writer side applies backpressure.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxgate/voxgate/internal/gateway"
	"github.com/voxgate/voxgate/pkg/audio"
)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the server's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server handles WebSocket connections for the streaming TTS gateway.
type Server struct {
	manager *gateway.Manager
	logger  *slog.Logger
}

// New creates a Server backed by the given session manager.
func New(manager *gateway.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Register mounts the WebSocket endpoint on mux at /ws.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.HandleWS)
}

// HandleWS upgrades the request to a WebSocket and serves the gateway
// protocol until the client disconnects or a terminal error occurs.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection torn down")

	c := &clientConn{
		server:   s,
		conn:     conn,
		attached: make(map[string]struct{}),
	}
	c.run(r.Context())
}

// clientConn is the per-connection state: the underlying WebSocket, a write
// mutex serializing frames from the read loop and the session writers, and
// the set of sessions with an active writer on this connection.
type clientConn struct {
	server *Server
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	attached map[string]struct{}
	writers  sync.WaitGroup
}

// run executes the read loop until the connection drops or a protocol error
// terminates it.
func (c *clientConn) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.writers.Wait()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				c.server.logger.Debug("connection closed by client")
			}
			return
		}

		msg, err := gateway.ParseClientMessage(data)
		if err != nil {
			c.rejectBadRequest(ctx, msg.SessionID, err)
			return
		}

		if done := c.dispatch(ctx, msg); done {
			return
		}
	}
}

// dispatch handles one validated client message. Reports true when the
// connection should be closed.
func (c *clientConn) dispatch(ctx context.Context, msg gateway.ClientMessage) bool {
	m := c.server.manager
	switch msg.Type {
	case gateway.TypeStart:
		spec := audio.Spec{
			Format:     msg.AudioFormat,
			SampleRate: msg.SampleRate,
			Channels:   msg.Channels,
		}
		sess := m.GetOrCreate(msg.SessionID, spec)
		c.attachWriter(ctx, sess)

	case gateway.TypeTextDelta:
		// Text ingress on an unseen session creates it with the default
		// spec; a start message is the usual path but not mandatory.
		sess := m.GetOrCreate(msg.SessionID, audio.DefaultSpec)
		sess.AppendText(*msg.Text)
		m.StartSynthLoop(sess)
		c.attachWriter(ctx, sess)

	case gateway.TypeTextEnd:
		sess := m.GetOrCreate(msg.SessionID, audio.DefaultSpec)
		c.attachWriter(ctx, sess)
		m.Finish(sess)

	case gateway.TypeCancel:
		if sess := m.Get(msg.SessionID); sess != nil {
			if err := m.Cancel(ctx, sess); err != nil {
				c.server.logger.Warn("cancel interrupted", "session_id", msg.SessionID, "err", err)
			}
		}

	case gateway.TypeResume:
		sess := m.Get(msg.SessionID)
		if sess == nil {
			c.writeDirect(ctx, gateway.ErrorMessage{
				Type:      gateway.TypeError,
				SessionID: msg.SessionID,
				Code:      gateway.CodeUnknownSession,
				Message:   "session unknown or expired; nothing to resume",
			})
			return true
		}
		c.attachWriter(ctx, sess)
		if err := m.Resume(sess, *msg.LastUnitIndexReceived); err != nil {
			if errors.Is(err, gateway.ErrUnknownSession) {
				c.writeDirect(ctx, gateway.ErrorMessage{
					Type:      gateway.TypeError,
					SessionID: msg.SessionID,
					Code:      gateway.CodeUnknownSession,
					Message:   "session unknown or expired; nothing to resume",
				})
				return true
			}
			c.server.logger.Warn("resume failed", "session_id", msg.SessionID, "err", err)
		}
	}
	return false
}

// rejectBadRequest sends a bad_request error frame, terminates the session
// named by the offending message when one exists, and closes the connection.
func (c *clientConn) rejectBadRequest(ctx context.Context, sessionID string, cause error) {
	c.writeDirect(ctx, gateway.ErrorMessage{
		Type:      gateway.TypeError,
		SessionID: sessionID,
		Code:      gateway.CodeBadRequest,
		Message:   cause.Error(),
	})
	if sessionID != "" {
		if sess := c.server.manager.Get(sessionID); sess != nil {
			if err := c.server.manager.Cancel(ctx, sess); err != nil {
				c.server.logger.Warn("cancel after bad request interrupted",
					"session_id", sessionID, "err", err)
			}
		}
	}
	c.conn.Close(websocket.StatusPolicyViolation, "bad request")
}

// attachWriter starts a writer goroutine draining the session's send queue
// onto this connection. At most one writer per session per connection.
func (c *clientConn) attachWriter(ctx context.Context, sess *gateway.Session) {
	c.mu.Lock()
	if _, ok := c.attached[sess.ID()]; ok {
		c.mu.Unlock()
		return
	}
	c.attached[sess.ID()] = struct{}{}
	c.writers.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.writers.Done()
		c.writeLoop(ctx, sess)
	}()
}

// writeLoop drains the session queue in FIFO order. It exits after writing a
// terminal message, when the connection context ends, or — once the session
// is cancelled — after draining whatever was already queued.
func (c *clientConn) writeLoop(ctx context.Context, sess *gateway.Session) {
	for {
		select {
		case msg := <-sess.Outbound():
			if !c.writeDirect(ctx, msg) {
				return
			}
			if msg.Terminal() {
				c.conn.Close(websocket.StatusNormalClosure, "stream complete")
				return
			}
		case <-sess.Done():
			// Cancelled: flush already-queued messages, then stop.
			for {
				select {
				case msg := <-sess.Outbound():
					if !c.writeDirect(ctx, msg) {
						return
					}
					if msg.Terminal() {
						c.conn.Close(websocket.StatusNormalClosure, "stream complete")
						return
					}
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// writeDirect marshals v and writes it as a single text frame. Reports
// whether the write succeeded.
func (c *clientConn) writeDirect(ctx context.Context, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.server.logger.Error("marshal outbound message", "err", err)
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}
