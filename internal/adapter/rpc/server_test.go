package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"parity-league/internal/domain"
)

// --- test doubles ---

type testBus struct {
	mu       sync.Mutex
	handlers []domain.EventHandler
}

func (b *testBus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	hs := make([]domain.EventHandler, len(b.handlers))
	copy(hs, b.handlers)
	b.mu.Unlock()
	for _, h := range hs {
		h(ctx, event)
	}
}

func (b *testBus) Subscribe(_ domain.EventType, _ domain.EventHandler) func() { return func() {} }

func (b *testBus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		b.handlers = nil
		b.mu.Unlock()
	}
}

func (b *testBus) Close() {}

type tokenAuth map[string]string // agentID -> token

func (a tokenAuth) Authenticate(agentID, token string) bool {
	want, ok := a[agentID]
	return ok && token == want
}

func startTestServer(t *testing.T, auth Authenticator, bus domain.EventBus) *Server {
	t.Helper()
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, auth, bus, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, srv.Start(ctx))
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv
}

func authedEnvelope(t *testing.T, mt domain.MessageType, sender, token string, payload any) *domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(mt, sender, "conv-1", payload)
	require.NoError(t, err)
	env.AuthToken = token
	return env
}

// --- tests ---

func TestServerDispatch(t *testing.T) {
	auth := tokenAuth{"P01": "tok-p01"}
	srv := startTestServer(t, auth, nil)

	srv.Handle(domain.MsgLeagueQuery, func(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
		var q domain.LeagueQuery
		if err := env.DecodePayload(&q); err != nil {
			return nil, err
		}
		reply, err := domain.NewEnvelope(domain.MsgLeagueQueryResponse, "league:L01", env.ConversationID,
			domain.LeagueQueryResponse{Query: q.Query, Status: "ACTIVE"})
		if err != nil {
			return nil, err
		}
		reply.AuthToken = "tok-league"
		return reply, nil
	})

	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "tok-p01",
		domain.LeagueQuery{Query: "status"})

	reply, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, domain.MsgLeagueQueryResponse, reply.MessageType)
	assert.Equal(t, "conv-1", reply.ConversationID)

	var resp domain.LeagueQueryResponse
	require.NoError(t, reply.DecodePayload(&resp))
	assert.Equal(t, "ACTIVE", resp.Status)
}

func TestServerRejectsBadToken(t *testing.T) {
	srv := startTestServer(t, tokenAuth{"P01": "tok-p01"}, nil)
	var called atomic.Bool
	srv.Handle(domain.MsgLeagueQuery, func(_ context.Context, _ *domain.Envelope) (*domain.Envelope, error) {
		called.Store(true)
		return nil, nil
	})

	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "wrong",
		domain.LeagueQuery{Query: "status"})

	_, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.Error(t, err)
	assert.Equal(t, domain.CodeAuthTokenInvalid, domain.ErrorCodeOf(err))
	assert.False(t, domain.Retryable(err))
	assert.False(t, called.Load(), "handler must not run for unauthenticated traffic")
}

func TestServerRegistrationBypassesAuth(t *testing.T) {
	srv := startTestServer(t, tokenAuth{}, nil)
	srv.Handle(domain.MsgLeagueRegisterRequest, func(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
		reply, err := domain.NewEnvelope(domain.MsgLeagueRegisterResponse, "league:L01", env.ConversationID,
			domain.RegisterResponse{Accepted: true, AgentID: "P01", AuthToken: "tok-p01"})
		if err != nil {
			return nil, err
		}
		reply.AuthToken = "tok-league"
		return reply, nil
	})

	client := NewClient(PooledTransportConfig{}, slog.Default())
	env, err := domain.NewEnvelope(domain.MsgLeagueRegisterRequest, "player:pending", "conv-reg",
		domain.RegisterRequest{DisplayName: "Alice", CallbackURL: "http://localhost:8101/mcp"})
	require.NoError(t, err)

	reply, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.NoError(t, err)

	var resp domain.RegisterResponse
	require.NoError(t, reply.DecodePayload(&resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "P01", resp.AgentID)
}

func TestServerRejectsInvalidTimestamp(t *testing.T) {
	srv := startTestServer(t, tokenAuth{"P01": "tok"}, nil)

	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "tok",
		domain.LeagueQuery{Query: "status"})
	env.Timestamp = "2026-01-02T10:00:00+00:00"

	_, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.Error(t, err)
	assert.Equal(t, domain.CodeInvalidTimestamp, domain.ErrorCodeOf(err))
}

func TestServerMethodNotFound(t *testing.T) {
	srv := startTestServer(t, tokenAuth{"P01": "tok"}, nil)

	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "tok",
		domain.LeagueQuery{Query: "status"})

	_, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRPCMethodNotFound)
}

func TestServerHandlerErrorKeepsCode(t *testing.T) {
	srv := startTestServer(t, tokenAuth{"REF01": "tok"}, nil)
	srv.Handle(domain.MsgMatchResultReport, func(_ context.Context, _ *domain.Envelope) (*domain.Envelope, error) {
		return nil, domain.NewProtocolError(domain.CodePlayerNotRegistered, "test",
			domain.ErrNotRegistered, "P99")
	})

	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgMatchResultReport, "referee:REF01", "tok",
		domain.MatchResultReport{MatchID: "R1M1", PlayerA: "P01", PlayerB: "P99"})

	_, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.Error(t, err)
	assert.Equal(t, domain.CodePlayerNotRegistered, domain.ErrorCodeOf(err))
}

func TestServerStartReturnsWhileServing(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0"}, tokenAuth{"P01": "tok"}, nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, srv.Start(ctx))
	srv.Handle(domain.MsgLeagueQuery, func(_ context.Context, env *domain.Envelope) (*domain.Envelope, error) {
		reply, err := domain.NewEnvelope(domain.MsgLeagueQueryResponse, "league:L01", env.ConversationID,
			domain.LeagueQueryResponse{Query: "status", Status: "ACTIVE"})
		if err != nil {
			return nil, err
		}
		reply.AuthToken = "tok-league"
		return reply, nil
	})

	// The caller regains control with the server live, so the work that
	// follows Start can talk to it right away.
	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "tok",
		domain.LeagueQuery{Query: "status"})
	reply, err := client.Call(context.Background(), "http://"+srv.BoundAddr()+"/mcp", env, 3*time.Second)
	require.NoError(t, err)
	require.NotNil(t, reply)

	cancel()
	waited := make(chan error, 1)
	go func() { waited <- srv.Wait() }()
	select {
	case err := <-waited:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down after cancellation")
	}
}

func TestServerRejectsMethodMismatch(t *testing.T) {
	srv := startTestServer(t, tokenAuth{"P01": "tok"}, nil)
	var called atomic.Bool
	srv.Handle(domain.MsgLeagueQuery, func(_ context.Context, _ *domain.Envelope) (*domain.Envelope, error) {
		called.Store(true)
		return nil, nil
	})

	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "tok",
		domain.LeagueQuery{Query: "status"})
	params, err := json.Marshal(env)
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: jsonrpcVersion, Method: string(domain.MsgGameOver), Params: params, ID: 7})
	require.NoError(t, err)

	httpResp, err := http.Post("http://"+srv.BoundAddr()+"/mcp", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var resp Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidRequest, resp.Error.Code)
	assert.False(t, called.Load(), "handler must not run for a mismatched frame")
}

func TestClientConnectionRefused(t *testing.T) {
	client := NewClient(PooledTransportConfig{}, slog.Default())
	env := authedEnvelope(t, domain.MsgLeagueQuery, "player:P01", "tok",
		domain.LeagueQuery{Query: "status"})

	_, err := client.Call(context.Background(), "http://127.0.0.1:1/mcp", env, 1*time.Second)
	require.Error(t, err)
	assert.Equal(t, domain.CodeConnection, domain.ErrorCodeOf(err))
	assert.True(t, domain.Retryable(err))
}

func TestSpectatorFeed(t *testing.T) {
	bus := &testBus{}
	srv := startTestServer(t, nil, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close(websocket.StatusNormalClosure, "")

	// Wait until the server has registered the spectator.
	deadline := time.Now().Add(2 * time.Second)
	for {
		registered := false
		srv.spectators.Range(func(_, _ any) bool { registered = true; return false })
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("spectator was not registered in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(context.Background(), domain.NewEvent(domain.EventMatchFinished,
		domain.MatchResultReport{MatchID: "R1M1"}))

	var got domain.Event
	require.NoError(t, wsjson.Read(ctx, ws, &got))
	assert.Equal(t, domain.EventMatchFinished, got.Type)
}
