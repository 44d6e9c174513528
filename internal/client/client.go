package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/GriffinCanCode/armctl/backend/internal/domain/manager"
	"github.com/GriffinCanCode/armctl/backend/internal/domain/pipeline"
)

// Options tune the HTTP transport
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
}

// DefaultOptions returns the options used by the CLI
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		UserAgent:    "armctl/1.0",
	}
}

// APIError is a non-2xx answer from the server
type APIError struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("server returned %d: %s (request %s)", e.Status, e.Message, e.RequestID)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404 from the server or a 4004 close
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// PipelineList is the answer of GET /pipelines
type PipelineList struct {
	Available []pipeline.Meta `json:"available_pipelines"`
	Running   []string        `json:"running_pipelines"`
}

// StartResult is the answer of POST /pipelines/:name/start
type StartResult struct {
	Pipeline string  `json:"pipeline"`
	RunID    string  `json:"run_id"`
	State    *string `json:"state"`
	Message  string  `json:"message"`
}

// StopResult is the answer of POST /pipelines/:name/stop
type StopResult struct {
	Pipeline string `json:"pipeline"`
	Graceful bool   `json:"graceful"`
	Message  string `json:"message"`
}

// SignalResult is the answer of POST /pipelines/:name/signal
type SignalResult struct {
	Pipeline string `json:"pipeline"`
	Signal   string `json:"signal"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// Client is a pipeline server client
type Client struct {
	base  *url.URL
	resty *resty.Client
	ws    *websocketDialer
}

// New creates a client for the server at baseURL
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.CheckRetry = retryPolicy
	retryClient.Logger = nil

	r := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(base.String()).
		SetTimeout(opts.Timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Accept", "application/json")
	if opts.UserAgent != "" {
		r.SetHeader("User-Agent", opts.UserAgent)
	}

	return &Client{base: base, resty: r, ws: newWebsocketDialer(opts.Timeout)}, nil
}

// Info returns the server banner
func (c *Client) Info(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/", nil, &out)
	return out, err
}

// List returns the registered and running pipelines
func (c *Client) List(ctx context.Context) (*PipelineList, error) {
	var out PipelineList
	if err := c.do(ctx, http.MethodGet, "/pipelines", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start creates the named pipeline. A nil override uses the defaults.
func (c *Client) Start(ctx context.Context, name string, override pipeline.Config) (*StartResult, error) {
	var body any
	if override != nil {
		body = override
	}
	var out StartResult
	if err := c.do(ctx, http.MethodPost, pipelinePath(name, "start"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stop stops the named pipeline
func (c *Client) Stop(ctx context.Context, name string) (*StopResult, error) {
	var out StopResult
	if err := c.do(ctx, http.MethodPost, pipelinePath(name, "stop"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signal queues a signal. An empty priority means NORMAL.
func (c *Client) Signal(ctx context.Context, name, signal, priority string) (*SignalResult, error) {
	req := map[string]string{"signal": signal}
	if priority != "" {
		req["priority"] = priority
	}
	var out SignalResult
	if err := c.do(ctx, http.MethodPost, pipelinePath(name, "signal"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns one pipeline's status
func (c *Client) Status(ctx context.Context, name string) (*manager.Snapshot, error) {
	var out manager.Snapshot
	if err := c.do(ctx, http.MethodGet, pipelinePath(name, "status"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StatusAll returns the status of every running pipeline
func (c *Client) StatusAll(ctx context.Context) ([]manager.Snapshot, error) {
	var out struct {
		Pipelines []manager.Snapshot `json:"pipelines"`
	}
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, err
	}
	return out.Pipelines, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var apiErr APIError
	req := c.resty.R().SetContext(ctx).SetError(&apiErr)
	if out != nil {
		req.SetResult(out)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		return &apiErr
	}
	return nil
}

func pipelinePath(name, action string) string {
	return "/pipelines/" + url.PathEscape(name) + "/" + action
}

// retryPolicy retries transport failures and the statuses that mean
// "not yet", never a failed operation.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}
