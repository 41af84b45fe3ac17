// Package queue provides an HTTP client for the remote job queue the worker
// pulls job descriptors from and reports job updates to.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrikpihlstrom/anna-worker/common/redact"
	"github.com/patrikpihlstrom/anna-worker/common/trace"
	"github.com/patrikpihlstrom/anna-worker/common/version"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

const defaultTimeout = 10 * time.Second

// Client talks to a single queue endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Options tunes a Client.
type Options struct {
	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient replaces the default client entirely.
	HTTPClient *http.Client
}

// New creates a client for baseURL (e.g. "https://anna.example.com")
// authenticating with a bearer token.
func New(baseURL, token string, opts ...Options) *Client {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	hc := o.HTTPClient
	if hc == nil {
		timeout := o.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: hc,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("queue %s %s → %d: %s", e.Method, e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("queue %s %s → %d", e.Method, e.Path, e.Code)
}

// IsNotFound reports whether err is a 404 from the queue.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// ErrorResponse is the queue's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Fetch downloads and validates the descriptor of job id.
func (c *Client) Fetch(ctx context.Context, id string) (job.Descriptor, error) {
	body, err := c.get(ctx, "/api/jobs/"+url.PathEscape(id))
	if err != nil {
		return job.Descriptor{}, fmt.Errorf("fetch job %s: %w", id, err)
	}
	d, err := job.ParseDescriptor(body)
	if err != nil {
		return job.Descriptor{}, fmt.Errorf("fetch job %s: %w", id, err)
	}
	return d, nil
}

// Reserve claims job id for this worker so no other worker picks it up.
func (c *Client) Reserve(ctx context.Context, id string) error {
	if err := c.post(ctx, "/api/jobs/"+url.PathEscape(id)+"/reserve", nil); err != nil {
		return fmt.Errorf("reserve job %s: %w", id, err)
	}
	return nil
}

// Update reports the current state of a job.
func (c *Client) Update(ctx context.Context, snap job.Snapshot) error {
	if err := c.post(ctx, "/api/jobs/update", snap); err != nil {
		return fmt.Errorf("update job %s: %w", snap.ID, err)
	}
	return nil
}

// --- internal helpers ---

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, ctx)
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req, ctx)
	_, err = c.do(req)
	return err
}

func (c *Client) setHeaders(req *http.Request, ctx context.Context) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode}
		var errResp ErrorResponse
		if jsonErr := json.Unmarshal(bodyBytes, &errResp); jsonErr == nil {
			se.Message = redact.String(errResp.Error, c.token)
		}
		return nil, se
	}
	return bodyBytes, nil
}
