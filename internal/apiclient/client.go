// Package apiclient is the portal's boundary to the remote investment API.
// Every response is sorted into one of four outcomes: success, session
// invalidation, transient failure, or a server business failure.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/ratelimit"

	"github.com/investa-id/investa_portal/internal/logging"
)

const (
	requestIDHeader  = "X-Request-ID"
	maxResponseBytes = 4 << 20
)

type requestIDKey struct{}

// ContextWithRequestID makes calls made with ctx reuse id as their
// X-Request-ID, so a gateway request and its upstream calls share one id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRateLimit throttles outgoing requests to perSecond. Zero or less disables throttling.
func WithRateLimit(perSecond int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = ratelimit.NewUnlimited()
			return
		}
		c.limiter = ratelimit.New(perSecond)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.Component(logger, "apiclient") }
}

// New builds a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: ratelimit.NewUnlimited(),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

type call struct {
	op             string
	method         string
	path           string
	token          string
	body           io.Reader
	contentType    string
	requireSuccess bool
}

func jsonCall(op, method, path, token string, payload any) (call, error) {
	c := call{op: op, method: method, path: path, token: token}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return call{}, fmt.Errorf("%s: encode request: %w", op, err)
		}
		c.body = bytes.NewReader(raw)
		c.contentType = "application/json"
	}
	return c, nil
}

// do sends the call and returns the decoded envelope of a successful response.
func (c *Client) do(ctx context.Context, req call) (*envelope, error) {
	c.limiter.Take()

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, req.body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(requestIDHeader, requestIDFrom(ctx))
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransientError{Op: req.op, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("api call",
		slog.String("op", req.op),
		slog.String("request_id", httpReq.Header.Get(requestIDHeader)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	envPtr := &env
	if decodeErr != nil {
		envPtr = nil
	}

	if req.token != "" {
		if invalid := classifyInvalidation(resp.StatusCode, envPtr, req.requireSuccess); invalid != nil {
			if invalid.Legacy {
				c.logger.Warn("session invalidated by message match", slog.String("op", req.op), slog.String("message", invalid.Reason))
			}
			return nil, invalid
		}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &TransientError{Op: req.op, Err: fmt.Errorf("server status %d", resp.StatusCode)}
	}
	if decodeErr != nil {
		return nil, &TransientError{Op: req.op, Err: fmt.Errorf("decode response (status %d): %w", resp.StatusCode, decodeErr)}
	}

	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &BusinessError{Status: resp.StatusCode, Message: msg}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &BusinessError{Status: resp.StatusCode, Message: msg}
	}

	return &env, nil
}

func decodeData(op string, env *envelope, out any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &TransientError{Op: op, Err: errors.New("response without data")}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &TransientError{Op: op, Err: fmt.Errorf("decode data: %w", err)}
	}
	return nil
}

// Ping checks that the API answers at all. Any HTTP response counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Op: "ping", Err: err}
	}
	resp.Body.Close()
	return nil
}
