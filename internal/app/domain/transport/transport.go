// Package transport sends requests to the clinic backend.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
	"github.com/FACorreiaa/clinic-admin/internal/app/observability/metrics"
)

const (
	ContentTypeJSON = "application/json"
	RequestIDHeader = "X-Request-Id"
)

// Request is replayable: the body is held in memory so a retry can resend it.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Header      http.Header
	Body        []byte
	ContentType string
}

// Clone copies headers so decorators can mutate them per attempt.
func (r *Request) Clone() *Request {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return &out
}

// NewJSONRequest marshals body, if any, as the request payload.
func NewJSONRequest(method, path string, body any) (*Request, error) {
	req := &Request{Method: method, Path: path, Header: http.Header{}}
	if body == nil {
		return req, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
	}
	req.Body = raw
	req.ContentType = ContentTypeJSON
	return req, nil
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Doer sends one request. Non-2xx responses come back as *models.HTTPError.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(ctx context.Context, req *Request) (*Response, error)

func (f DoerFunc) Do(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

var _ Doer = (*HTTPDoer)(nil)

// HTTPDoer is the undecorated client bound to the backend base URL.
type HTTPDoer struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

func NewHTTPDoer(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPDoer {
	return &HTTPDoer{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// WithClient swaps the underlying client, mostly for tests.
func (d *HTTPDoer) WithClient(c *http.Client) *HTTPDoer {
	d.client = c
	return d
}

func (d *HTTPDoer) Do(ctx context.Context, req *Request) (*Response, error) {
	target := d.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", req.Method, req.Path, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", ContentTypeJSON)
	requestID := httpReq.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set(RequestIDHeader, requestID)
	}

	l := d.logger.With(
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("request_id", requestID),
	)

	start := time.Now()
	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		record(ctx, req.Method, 0, time.Since(start))
		l.Warn("Backend request failed", zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", req.Method, req.Path, err)
	}
	record(ctx, req.Method, httpResp.StatusCode, time.Since(start))

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: raw}
	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		l.Debug("Backend returned error status", zap.Int("status", httpResp.StatusCode))
		return resp, NewHTTPError(resp)
	}
	return resp, nil
}

func record(ctx context.Context, method string, status int, elapsed time.Duration) {
	m := metrics.Get()
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.Int("http.status_code", status),
	)
	m.BackendRequestsTotal.Add(ctx, 1, attrs)
	m.BackendRequestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// NewHTTPError extracts a human message from common backend error bodies.
func NewHTTPError(resp *Response) *models.HTTPError {
	return &models.HTTPError{
		Status:  resp.Status,
		Body:    resp.Body,
		Message: ErrorMessage(resp.Body),
	}
}

// ErrorMessage reads message, title, or the first entry of errors.
func ErrorMessage(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	var payload struct {
		Message string          `json:"message"`
		Title   string          `json:"title"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	if msg := firstError(payload.Errors); msg != "" {
		return msg
	}
	return payload.Title
}

// firstError accepts ["msg"] as well as {"field": ["msg"]}.
func firstError(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 {
			return list[0]
		}
		return ""
	}
	var byField map[string][]string
	if err := json.Unmarshal(raw, &byField); err == nil {
		for _, msgs := range byField {
			if len(msgs) > 0 {
				return msgs[0]
			}
		}
	}
	return ""
}
