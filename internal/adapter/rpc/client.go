package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"parity-league/internal/domain"
)

// PooledTransportConfig configures HTTP connection pooling for peer calls.
type PooledTransportConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// Default pool settings for league traffic: a handful of long-lived peers,
// short frequent calls.
const (
	defaultMaxIdleConns        = 20
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 20
	defaultIdleConnTimeout     = 120 * time.Second

	defaultConnTimeout = 5 * time.Second
)

// NewPooledTransport creates an http.Transport with connection pooling
// sized for league peer traffic.
func NewPooledTransport(connTimeout time.Duration, pool PooledTransportConfig) *http.Transport {
	if connTimeout == 0 {
		connTimeout = defaultConnTimeout
	}
	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	maxIdlePerHost := pool.MaxIdleConnsPerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = defaultMaxIdleConnsPerHost
	}
	maxConnsPerHost := pool.MaxConnsPerHost
	if maxConnsPerHost <= 0 {
		maxConnsPerHost = defaultMaxConnsPerHost
	}
	idleTimeout := pool.IdleConnTimeout
	if idleTimeout <= 0 {
		idleTimeout = defaultIdleConnTimeout
	}

	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdlePerHost,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     idleTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// Client posts league envelopes to peer endpoints as JSON-RPC calls.
// Transport failures come back as timeout or connection errors so the
// retry layer can tell transient faults from protocol rejections.
type Client struct {
	http   *http.Client
	logger *slog.Logger
	nextID atomic.Uint64
}

// NewClient creates a client with a pooled transport.
func NewClient(pool PooledTransportConfig, logger *slog.Logger) *Client {
	return &Client{
		http:   &http.Client{Transport: NewPooledTransport(0, pool)},
		logger: logger,
	}
}

// Call posts env to the peer's RPC endpoint and returns the reply envelope,
// nil for a one-way acknowledgment. timeout bounds the whole exchange.
func (c *Client) Call(ctx context.Context, endpoint string, env *domain.Envelope, timeout time.Duration) (*domain.Envelope, error) {
	op := fmt.Sprintf("rpc.Call(%s)", env.MessageType)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := NewRequest(c.nextID.Add(1), env)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewProtocolError(domain.CodeConnection, op,
			fmt.Errorf("%w: %w", domain.ErrConnection, err), endpoint)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(op, endpoint, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 4096))
		return nil, domain.NewProtocolError(domain.CodeConnection, op,
			fmt.Errorf("%w: unexpected status %d", domain.ErrConnection, httpResp.StatusCode), endpoint)
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, domain.NewProtocolError(domain.CodeConnection, op,
			fmt.Errorf("%w: decode response: %w", domain.ErrConnection, err), endpoint)
	}

	reply, err := resp.ResultEnvelope()
	if err != nil {
		c.logger.Debug("peer rejected call", "endpoint", endpoint, "message_type", env.MessageType, "error", err)
		return nil, domain.WrapOp(op, err)
	}
	return reply, nil
}

// classifyTransportErr maps http.Client failures onto the protocol error
// table: deadline hits are timeouts, everything else a connection failure.
func classifyTransportErr(op, endpoint string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewProtocolError(domain.CodeTimeout, op,
			fmt.Errorf("%w: %w", domain.ErrTimeout, err), endpoint)
	}
	return domain.NewProtocolError(domain.CodeConnection, op,
		fmt.Errorf("%w: %w", domain.ErrConnection, err), endpoint)
}
