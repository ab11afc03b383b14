package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/bcorn-cely/Agent-Orchestration/codec"
	"github.com/bcorn-cely/Agent-Orchestration/stream"
)

// Server handles WebSocket, SSE, and HTTP RPC wire connections. It
// bridges the stream broker to connected clients and dispatches
// request frames to the handler.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec codec.Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	basePath     string
}

// NewServer creates a new wire server.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: codec.Default(),
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		basePath:     "/wire",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.conns }

// RegisterRoutes mounts wire endpoints on a chi router.
func (s *Server) RegisterRoutes(r chi.Router) {
	// Primary: WebSocket.
	r.Get(s.basePath, s.HandleWebSocket)

	// Fallback: SSE for read-only subscriptions.
	r.Get(s.basePath+"/sse", s.HandleSSE)

	// One-shot: HTTP RPC.
	r.Post(s.basePath+"/rpc", s.HandleRPC)
}

// wsSession serializes writes to one WebSocket connection. The read
// loop and the event forwarder write concurrently.
type wsSession struct {
	mu    sync.Mutex
	conn  net.Conn
	codec codec.Codec
}

func (sess *wsSession) writeFrame(frame *Frame) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	data, err := sess.codec.Marshal(frame)
	if err != nil {
		return err
	}
	return wsutil.WriteServerMessage(sess.conn, opForCodec(sess.codec), data)
}

// opForCodec picks the WebSocket opcode for a codec: text for JSON,
// binary for everything else.
func opForCodec(c codec.Codec) ws.OpCode {
	if c.Name() == codec.NameJSON {
		return ws.OpText
	}
	return ws.OpBinary
}

// HandleWebSocket upgrades the request and runs the frame loop. The
// first frame must be an auth request and is always JSON; the codec
// it negotiates applies from the auth response onward.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := "ws-" + GenerateFrameID()
	s.logger.Info("wire connected", slog.String("conn_id", connID))

	session := &wsSession{conn: conn, codec: &codec.JSON{}}

	// Wait for the auth frame.
	authData, _, readErr := wsutil.ReadClientData(conn)
	if readErr != nil {
		return
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		_ = session.writeFrame(NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return
	}
	if authFrame.Method != MethodAuth {
		_ = session.writeFrame(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			_ = session.writeFrame(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := s.auth.Authenticate(r.Context(), token)
	if authErr != nil {
		_ = session.writeFrame(NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return
	}

	// Negotiate codec.
	negotiated := s.defaultCodec
	if authReq.Format != "" {
		negotiated = codec.Get(authReq.Format)
	}

	wireConn := NewConnection(connID, identity, negotiated)
	s.conns.Add(wireConn)
	defer func() {
		s.broker.RemoveSubscriber(connID)
		s.conns.Remove(connID)
		s.logger.Info("wire disconnected", slog.String("conn_id", connID))
	}()

	// The auth response is still JSON; the negotiated codec takes over
	// after it.
	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    negotiated.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return
	}
	if err := session.writeFrame(resp); err != nil {
		return
	}
	session.mu.Lock()
	session.codec = negotiated
	session.mu.Unlock()

	s.logger.Info("wire authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", negotiated.Name()),
	)

	// Forward broker events to the socket.
	sub := s.broker.Subscribe(connID)
	go s.forwardEvents(session, sub)

	s.frameLoop(r.Context(), session, wireConn, identity, sub)
}

// frameLoop processes request frames until the connection drops.
func (s *Server) frameLoop(ctx context.Context, session *wsSession, wireConn *Connection, identity *Identity, sub *stream.Subscriber) {
	for {
		data, _, err := wsutil.ReadClientData(session.conn)
		if err != nil {
			return // Connection closed.
		}

		wireConn.Touch()

		var frame Frame
		if decErr := wireConn.Codec.Unmarshal(data, &frame); decErr != nil {
			s.writeOrWarn(session, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			s.writeOrWarn(session, &Frame{
				ID:        GenerateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			})
			continue
		}

		// Check authorization for the method.
		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				s.writeOrWarn(session, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		// Credits replenishment has no response.
		if frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		respFrame := s.handler.Handle(ctx, &frame, wireConn)
		if respFrame == nil {
			continue
		}

		// Subscribe/unsubscribe take effect only after the response
		// confirms them.
		if frame.Method == MethodSubscribe && respFrame.Type == FrameResponse {
			var subReq SubscribeRequest
			if json.Unmarshal(frame.Data, &subReq) == nil {
				s.broker.SubscribeTo(wireConn.ID, subReq.Channel)
				wireConn.AddSubscription(subReq.Channel)
				if subReq.Credits > 0 {
					sub.AddCredits(int64(subReq.Credits))
				}
			}
		} else if frame.Method == MethodUnsubscribe && respFrame.Type == FrameResponse {
			var unsubReq UnsubscribeRequest
			if json.Unmarshal(frame.Data, &unsubReq) == nil {
				s.broker.Unsubscribe(wireConn.ID, unsubReq.Channel)
				wireConn.RemoveSubscription(unsubReq.Channel)
			}
		}

		s.writeOrWarn(session, respFrame)
	}
}

// forwardEvents reads from the subscriber channel and writes event
// frames to the WebSocket.
func (s *Server) forwardEvents(session *wsSession, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := session.writeFrame(evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

func (s *Server) writeOrWarn(session *wsSession, frame *Frame) {
	if err := session.writeFrame(frame); err != nil {
		s.logger.Warn("wire write failed", slog.String("error", err.Error()))
	}
}

// WatchRun upgrades the request to a WebSocket subscribed to a single
// run's topic and forwards its events until the client disconnects.
// The API layer mounts this under GET /api/runs/{id}/watch; no auth
// frame is exchanged, the optional token travels as a query parameter.
func (s *Server) WatchRun(w http.ResponseWriter, r *http.Request, runID string) {
	identity, err := s.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !identity.HasScope(ScopeSubscribe) && !identity.HasScope(ScopeAll) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("watch upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := "watch-" + GenerateFrameID()
	sub := s.broker.Subscribe(connID, stream.RunTopic(runID))
	defer s.broker.RemoveSubscriber(connID)

	session := &wsSession{conn: conn, codec: s.defaultCodec}

	// Drain client frames so pings are answered and closes are seen.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, readErr := wsutil.ReadClientData(conn); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			evtFrame, frameErr := NewEventFrame(evt.Topic, evt)
			if frameErr != nil {
				continue
			}
			if writeErr := session.writeFrame(evtFrame); writeErr != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// HandleSSE serves read-only Server-Sent Events for clients that
// cannot hold a WebSocket. The topic comes from the channel query
// parameter, credentials from the token parameter.
func (s *Server) HandleSSE(w http.ResponseWriter, r *http.Request) {
	identity, err := s.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "channel parameter required", http.StatusBadRequest)
		return
	}
	if err := stream.ValidateTopic(channel); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !identity.HasScope(ScopeSubscribe) && !identity.HasScope(ScopeAll) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	connID := "sse-" + GenerateFrameID()
	sub := s.broker.Subscribe(connID, channel)
	defer s.broker.RemoveSubscriber(connID)

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, marshalErr := json.Marshal(evt)
			if marshalErr != nil {
				continue
			}
			if _, writeErr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data); writeErr != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleRPC handles one-shot HTTP RPC requests: a single JSON frame in,
// a single JSON frame out. The token rides on the frame or in the
// Authorization header.
func (s *Server) HandleRPC(w http.ResponseWriter, r *http.Request) {
	var frame Frame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeJSONFrame(w, http.StatusBadRequest, NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
		return
	}

	token := frame.Token
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeJSONFrame(w, http.StatusUnauthorized, NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
		return
	}

	reqScope := RequiredScope(frame.Method)
	if reqScope != "" && !identity.HasScope(reqScope) {
		writeJSONFrame(w, http.StatusForbidden, NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
		return
	}

	// A throwaway connection carries the identity scope.
	conn := NewConnection("rpc-"+GenerateFrameID(), identity, &codec.JSON{})

	resp := s.handler.Handle(r.Context(), &frame, conn)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status := http.StatusOK
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}
	}
	writeJSONFrame(w, status, resp)
}

func writeJSONFrame(w http.ResponseWriter, status int, frame *Frame) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(frame)
}
