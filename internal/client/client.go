// Package client talks to the gramport import endpoints and drives a complete
// upload from a local archive.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gramport/internal/stage"
)

const (
	defaultHTTPTimeout    = 10 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 5 * time.Second
)

// Config mirrors GET /imports/config.
type Config struct {
	ChunkSize     int64 `json:"chunk_size"`
	MaxUploadSize int64 `json:"max_upload_size"`
}

// ChunkResult mirrors the POST /imports/chunks response.
type ChunkResult struct {
	Complete      bool   `json:"complete"`
	UploadID      string `json:"upload_id"`
	ChunkReceived int    `json:"chunk_received"`
	TotalChunks   int    `json:"total_chunks"`
	ChunksPresent int    `json:"chunks_present"`
}

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// Temporary reports whether repeating the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// Client is a thin protocol client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	bearer     string
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleeper    func(context.Context, time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithAPIKey sends "Authorization: ApiKey <key>".
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = strings.TrimSpace(key) }
}

// WithBearerToken sends "Authorization: Bearer <token>".
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearer = strings.TrimSpace(token) }
}

// WithRetry overrides the per-request attempt count and backoff bounds.
func WithRetry(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		attempts:   defaultRetryAttempts,
		baseDelay:  defaultRetryBaseDelay,
		maxDelay:   defaultRetryMaxDelay,
		sleeper:    sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}
	return c
}

// Config fetches the server's chunking parameters.
func (c *Client) Config(ctx context.Context) (Config, error) {
	var cfg Config
	err := c.withRetry(ctx, "fetch config", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/imports/config", nil)
		if err != nil {
			return err
		}
		return c.do(req, "fetch config", &cfg)
	})
	return cfg, err
}

// UploadChunk sends one chunk. Chunks overwrite by index so a retried call is safe.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index, total int, data []byte) (ChunkResult, error) {
	op := fmt.Sprintf("upload chunk %d", index)
	var res ChunkResult
	err := c.withRetry(ctx, op, func() error {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		fields := map[string]string{
			"session_id":   sessionID,
			"chunk_index":  strconv.Itoa(index),
			"total_chunks": strconv.Itoa(total),
		}
		for k, v := range fields {
			if err := mw.WriteField(k, v); err != nil {
				return err
			}
		}
		part, err := mw.CreateFormFile("chunk", "blob")
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
		if err := mw.Close(); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/imports/chunks", body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		res = ChunkResult{}
		return c.do(req, op, &res)
	})
	return res, err
}

// Advance asks the server to run one import phase.
func (c *Client) Advance(ctx context.Context, sessionID string, status stage.Phase) (stage.Result, error) {
	op := fmt.Sprintf("advance %s", status)
	var res stage.Result
	err := c.withRetry(ctx, op, func() error {
		form := url.Values{}
		form.Set("session_id", sessionID)
		form.Set("status", string(status))

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/imports/process",
			strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		res = stage.Result{}
		return c.do(req, op, &res)
	})
	return res, err
}

func (c *Client) do(req *http.Request, op string, out any) error {
	switch {
	case c.apiKey != "":
		req.Header.Set("Authorization", "ApiKey "+c.apiKey)
	case c.bearer != "":
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &env)
		return &StatusError{Op: op, Status: resp.StatusCode, Message: env.Error}
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: response has no data", op)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// withRetry repeats fn on transport errors and temporary statuses with
// exponential backoff. Client errors are returned at once.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return err
		}
		lastErr = err
		if attempt == c.attempts {
			break
		}
		if err := c.sleeper(ctx, c.backoffDelay(attempt)); err != nil {
			return err
		}
	}
	if c.attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", op, c.attempts, lastErr)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// attempt 1 -> base, attempt 2 -> base*2, ... capped at maxDelay.
func (c *Client) backoffDelay(attempt int) time.Duration {
	if c.baseDelay <= 0 {
		return 0
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.maxDelay > 0 && delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
