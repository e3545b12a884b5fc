// Package client talks to a remote locial server. Client implements the
// discovery post source so a walker can run against a shared server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/locial/locial/internal/errors"
	"github.com/locial/locial/internal/geo"
	"github.com/locial/locial/internal/logging"
	"github.com/locial/locial/internal/metrics"
	"github.com/locial/locial/internal/post"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client is an HTTP client for the locial JSON API. Server errors and
// transport failures count against a circuit breaker; 4xx responses do not.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	name    string
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithName sets the breaker name used in logs and metrics.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		name:    "locial-api",
	}
	for _, opt := range opts {
		opt(c)
	}

	metrics.ClientBreakerState.WithLabelValues(c.name).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        c.name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var lErr *errors.LocialError
			return stderrors.As(err, &lErr) && lErr.Status < 500
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.ClientBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
	return c, nil
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

// FetchNearby returns the posts the server stores around coordinate.
func (c *Client) FetchNearby(ctx context.Context, coordinate geo.Coordinate) ([]post.Post, error) {
	return c.fetch(ctx, coordinate, "")
}

// FetchNearbyByCategory returns the posts of category around coordinate.
func (c *Client) FetchNearbyByCategory(ctx context.Context, coordinate geo.Coordinate, category string) ([]post.Post, error) {
	return c.fetch(ctx, coordinate, category)
}

func (c *Client) fetch(ctx context.Context, coordinate geo.Coordinate, category string) ([]post.Post, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coordinate.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(coordinate.Longitude, 'f', -1, 64))
	if category != "" {
		q.Set("category", category)
	}

	var out struct {
		Posts []post.Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/posts?"+q.Encode(), nil, &out); err != nil {
		return nil, errors.NewFetch(err)
	}
	return out.Posts, nil
}

// CreatePost publishes a post at coordinate as the token's user.
func (c *Client) CreatePost(ctx context.Context, content, category string, coordinate geo.Coordinate) (*post.Post, error) {
	in := map[string]any{
		"content":   content,
		"category":  category,
		"latitude":  coordinate.Latitude,
		"longitude": coordinate.Longitude,
	}
	var out struct {
		Post post.Post `json:"post"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/posts", in, &out); err != nil {
		return nil, err
	}
	return &out.Post, nil
}

// CurrentUser returns the user the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*post.User, error) {
	var u post.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// do sends a request through the breaker and decodes a JSON response into
// out. Error responses are decoded into *errors.LocialError.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, in)
	})
	if err != nil {
		if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
			return errors.NewUnavailable(fmt.Sprintf("server unavailable: %v", err))
		}
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in any) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, decodeError(resp.StatusCode, data)
	}
	return data, nil
}

// decodeError rebuilds the server's error from its JSON envelope.
func decodeError(status int, data []byte) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Error.Code == "" {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &errors.LocialError{Code: errors.ErrInternal, Status: status, Message: msg}
	}
	return &errors.LocialError{
		Code:    errors.ErrorCode(env.Error.Code),
		Status:  status,
		Message: env.Error.Message,
	}
}
