package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"parity-league/internal/domain"
	"parity-league/internal/infra/middleware"
)

// Handler processes one validated envelope and optionally returns a reply.
type Handler func(ctx context.Context, env *domain.Envelope) (*domain.Envelope, error)

// Authenticator verifies an agent's bearer token. The registry implements it.
type Authenticator interface {
	Authenticate(agentID, token string) bool
}

// ServerConfig bounds the HTTP surface of a league peer.
type ServerConfig struct {
	Addr           string
	RequestsPerMin int
	BurstSize      int
}

// spectatorConn tracks one WebSocket feed subscriber.
type spectatorConn struct {
	ws        *websocket.Conn
	sendCh    chan domain.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Server exposes the JSON-RPC endpoint for league traffic plus a read-only
// WebSocket event feed for spectators. Envelope validation and auth happen
// here so handlers only ever see well-formed traffic.
type Server struct {
	cfg        ServerConfig
	auth       Authenticator
	bus        domain.EventBus
	handlersMu sync.RWMutex
	handlers   map[domain.MessageType]Handler
	logger     *slog.Logger
	httpSrv    *http.Server
	boundAddr  string
	nextID     atomic.Uint64
	spectators sync.Map // connID (uint64) -> *spectatorConn
	unsubAll   func()
	done       chan struct{}
	serveErr   error // written before done closes
}

// NewServer creates a league RPC server. bus may be nil to disable the
// spectator feed; auth may be nil when the peer accepts unauthenticated
// registration traffic only.
func NewServer(cfg ServerConfig, auth Authenticator, bus domain.EventBus, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		auth:     auth,
		bus:      bus,
		handlers: make(map[domain.MessageType]Handler),
		logger:   logger,
	}
}

// Handle registers a handler for one message type. Safe to call concurrently
// with in-flight requests.
func (s *Server) Handle(mt domain.MessageType, h Handler) {
	s.handlersMu.Lock()
	s.handlers[mt] = h
	s.handlersMu.Unlock()
}

// Start binds the listener and begins serving in the background. It returns
// once the server accepts connections, so callers can register with the
// league right after. Cancelling ctx shuts the server down; Wait blocks
// until serving ends.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.bus != nil {
		mux.HandleFunc("/ws", s.handleSpectator)
	}

	var handler http.Handler = mux
	if s.cfg.RequestsPerMin > 0 {
		limit := middleware.RateLimit(ctx, middleware.RateLimitConfig{
			RequestsPerMin: s.cfg.RequestsPerMin,
			BurstSize:      s.cfg.BurstSize,
		})
		handler = limit(mux)
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.forwardEvent)
	}

	s.logger.Info("rpc server started", "addr", s.boundAddr)

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr = fmt.Errorf("rpc serve: %w", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()
	return nil
}

// Wait blocks until the server has stopped serving and returns the serve
// error, if any. Only valid after Start.
func (s *Server) Wait() error {
	<-s.done
	return s.serveErr
}

// Stop gracefully shuts the server down, closing spectator feeds first.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}
	s.spectators.Range(func(key, value any) bool {
		sc := value.(*spectatorConn)
		sc.closeOnce.Do(func() { close(sc.done) })
		sc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.spectators.Delete(key)
		return true
	})
	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the listener address. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, newError(0, codeParseError, fmt.Errorf("decode request: %w", err)))
		return
	}
	if req.JSONRPC != jsonrpcVersion {
		s.writeResponse(w, newError(req.ID, codeInvalidRequest,
			fmt.Errorf("unsupported jsonrpc version %q", req.JSONRPC)))
		return
	}

	env, err := req.Envelope()
	if err != nil {
		s.writeResponse(w, newError(req.ID, codeInvalidParams, err))
		return
	}
	if req.Method != string(env.MessageType) {
		s.writeResponse(w, newError(req.ID, codeInvalidRequest,
			fmt.Errorf("method %q does not match message type %q", req.Method, env.MessageType)))
		return
	}
	if err := env.Validate(); err != nil {
		s.logger.Warn("envelope rejected", "message_type", env.MessageType, "sender", env.Sender, "error", err)
		s.writeResponse(w, newError(req.ID, codeInvalidParams, err))
		return
	}
	if err := s.authenticate(env); err != nil {
		s.logger.Warn("auth rejected", "sender", env.Sender, "error", err)
		s.writeResponse(w, newError(req.ID, codeInvalidParams, err))
		return
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[env.MessageType]
	s.handlersMu.RUnlock()
	if !ok {
		s.writeResponse(w, newError(req.ID, codeMethodNotFound,
			fmt.Errorf("%w: %s", domain.ErrRPCMethodNotFound, env.MessageType)))
		return
	}

	reply, err := handler(r.Context(), env)
	if err != nil {
		s.writeResponse(w, newError(req.ID, codeLeagueError, err))
		return
	}
	resp, err := newResult(req.ID, reply)
	if err != nil {
		s.writeResponse(w, newError(req.ID, codeInternalError, err))
		return
	}
	s.writeResponse(w, resp)
}

// authenticate checks the envelope token against the registry for message
// types that require auth. Registration requests carry no token yet and
// pass through.
func (s *Server) authenticate(env *domain.Envelope) error {
	if s.auth == nil || !env.MessageType.RequiresAuth() {
		return nil
	}
	_, agentID, ok := strings.Cut(env.Sender, ":")
	if !ok || agentID == "" {
		return domain.NewProtocolError(domain.CodeAuthTokenInvalid, "rpc.authenticate",
			domain.ErrAuthInvalid, "malformed sender "+env.Sender)
	}
	if !s.auth.Authenticate(agentID, env.AuthToken) {
		return domain.NewProtocolError(domain.CodeAuthTokenInvalid, "rpc.authenticate",
			domain.ErrAuthInvalid, agentID)
	}
	return nil
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write rpc response failed", "error", err)
	}
}

// forwardEvent fans a bus event out to every spectator. Slow readers drop
// events rather than stall the bus.
func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	s.spectators.Range(func(_, value any) bool {
		sc := value.(*spectatorConn)
		select {
		case sc.sendCh <- event:
		default:
			s.logger.Warn("dropped event for slow spectator")
		}
		return true
	})
}

func (s *Server) handleSpectator(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	sc := &spectatorConn{
		ws:     ws,
		sendCh: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
	s.spectators.Store(connID, sc)
	s.logger.Info("spectator connected", "conn_id", connID)

	go s.spectatorWriteLoop(sc)

	// Drain reads so pings are answered; the feed is one-way.
	readCtx := r.Context()
	for {
		if _, _, err := ws.Read(readCtx); err != nil {
			break
		}
	}

	sc.closeOnce.Do(func() { close(sc.done) })
	s.spectators.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("spectator disconnected", "conn_id", connID)
}

func (s *Server) spectatorWriteLoop(sc *spectatorConn) {
	for {
		select {
		case <-sc.done:
			return
		case event := <-sc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, sc.ws, event)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
