package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tbmahfudi/app-buildify-sub002/internal/ir"
)

// TypeCallEndpoint is the call-external-endpoint action type.
const TypeCallEndpoint = "call-external-endpoint"

// Retry defaults for endpoint calls.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 200 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultCallTimeout    = 10 * time.Second
)

// maxResponseBody bounds how much of a response is read into the result.
const maxResponseBody = 64 << 10

// EndpointRequest is an outbound HTTP call.
type EndpointRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// EndpointResponse is the result of an outbound call.
type EndpointResponse struct {
	StatusCode int
	Body       []byte
}

// EndpointCaller performs a single outbound call. Retries are the
// handler's job.
type EndpointCaller interface {
	Call(ctx context.Context, req EndpointRequest) (EndpointResponse, error)
}

// HTTPCaller is the net/http EndpointCaller.
type HTTPCaller struct {
	Client *http.Client
}

// NewHTTPCaller creates an HTTPCaller with a per-call timeout.
func NewHTTPCaller(timeout time.Duration) *HTTPCaller {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &HTTPCaller{Client: &http.Client{Timeout: timeout}}
}

// Call implements EndpointCaller.
func (c *HTTPCaller) Call(ctx context.Context, req EndpointRequest) (EndpointResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return EndpointResponse{}, fmt.Errorf("build request: %w", err)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return EndpointResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return EndpointResponse{StatusCode: resp.StatusCode}, fmt.Errorf("read response: %w", err)
	}
	return EndpointResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// RetryPolicy bounds endpoint retries. Backoff doubles per attempt up to
// MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the default endpoint retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// backoff returns the wait before attempt n+1 (n counts from 1).
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("endpoint returned HTTP %d", e.code)
}

// retryable reports whether a failed call may succeed if repeated:
// transport errors, 5xx and 429.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// EndpointHandler calls an external HTTP endpoint with bounded retries.
type EndpointHandler struct {
	caller EndpointCaller
	policy RetryPolicy
}

// NewEndpointHandler creates the call-external-endpoint handler.
func NewEndpointHandler(caller EndpointCaller, policy RetryPolicy) *EndpointHandler {
	return &EndpointHandler{caller: caller, policy: policy.normalized()}
}

func (h *EndpointHandler) Type() string { return TypeCallEndpoint }

func (h *EndpointHandler) Template() Template {
	return Template{
		Type:        TypeCallEndpoint,
		Name:        "Call external endpoint",
		Description: "Send an HTTP request to an external system. Retries transport errors, 429 and 5xx.",
		Schema: `{
			"type": "object",
			"required": ["url"],
			"properties": {
				"url":     {"type": "string", "minLength": 1},
				"method":  {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}},
				"body":    {}
			},
			"additionalProperties": false
		}`,
		Example: map[string]any{
			"url":    "https://erp.example.com/hooks/invoice",
			"method": "POST",
			"body":   map[string]any{"invoice": "${record_id}", "amount": "${record.amount}"},
		},
	}
}

func (h *EndpointHandler) Validate(params map[string]any) error {
	url := stringParam(params, "url")
	if HasPlaceholder(url) {
		return nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("url must be http or https: %q", url)
	}
	return nil
}

func (h *EndpointHandler) Execute(ctx context.Context, ec *ExecContext, params map[string]any) ir.ActionResult {
	req := EndpointRequest{
		Method: stringParam(params, "method"),
		URL:    stringParam(params, "url"),
	}
	if req.Method == "" {
		req.Method = http.MethodPost
	}
	if headers, ok := params["headers"].(map[string]any); ok {
		req.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			req.Headers[k], _ = v.(string)
		}
	}
	if body, ok := params["body"]; ok && body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Failed(TypeCallEndpoint, 0, fmt.Errorf("marshal body: %w", err))
		}
		req.Body = data
	}

	var (
		resp     EndpointResponse
		err      error
		attempts int
	)
	for attempts = 1; ; attempts++ {
		resp, err = h.caller.Call(ctx, req)
		if err == nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
			err = &statusError{code: resp.StatusCode}
		}
		if err == nil || attempts >= h.policy.MaxAttempts || !retryable(err) {
			break
		}
		wait := h.policy.backoff(attempts)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Failed(TypeCallEndpoint, attempts, fmt.Errorf("%w (last error: %v)", ctx.Err(), err))
		case <-timer.C:
		}
	}
	if err != nil {
		return Failed(TypeCallEndpoint, attempts, err)
	}

	output := map[string]any{"status_code": resp.StatusCode}
	var decoded any
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &decoded) == nil {
		output["response"] = decoded
	}
	return ir.ActionResult{
		Type:     TypeCallEndpoint,
		Status:   ir.ActionSuccess,
		Attempts: attempts,
		Output:   output,
	}
}
