package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

// HTTPConfig configures the outbound HTTP client of the executors.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

func (c HTTPConfig) withDefaults() HTTPConfig {
	if c.MaxResponseBody <= 0 {
		c.MaxResponseBody = defaultMaxResponseBody
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = defaultHTTPTimeout
	}
	if c.Client == nil {
		c.Client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return c
}

const httpRequestLabel = "HTTP Request"

var httpMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
	http.MethodPatch:  true,
}

func methodHasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// HTTPResponse is what an HTTP_REQUEST node stores under its variable name.
type HTTPResponse struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Data       any    `json:"data"`
}

// HTTPRequestExecutor implements the HTTP_REQUEST node.
//
// Config: endpoint (required, templated), method (GET by default), body
// (templated JSON, "{}" by default, sent for POST, PUT and PATCH) and
// variableName (required). The response lands in the context as
// {variableName: {httpResponse: {status, statusText, data}}}.
type HTTPRequestExecutor struct {
	base
	config HTTPConfig
}

// NewHTTPRequestExecutor creates the HTTP_REQUEST executor.
func NewHTTPRequestExecutor(cfg HTTPConfig) *HTTPRequestExecutor {
	return &HTTPRequestExecutor{
		base:   base{nodeType: schema.NodeTypeHTTPRequest},
		config: cfg.withDefaults(),
	}
}

type httpRequestConfig struct {
	endpoint     string
	method       string
	body         string
	variableName string
}

func parseHTTPRequestConfig(m map[string]any) (httpRequestConfig, error) {
	var c httpRequestConfig
	var err error
	if c.endpoint, err = requireString(m, httpRequestLabel, "endpoint"); err != nil {
		return c, err
	}
	if c.variableName, err = requireString(m, httpRequestLabel, "variableName"); err != nil {
		return c, err
	}
	c.method = strings.ToUpper(stringParam(m, "method", http.MethodGet))
	if !httpMethods[c.method] {
		return c, schema.NewErrorf(schema.ErrCodeValidation, "%s: unsupported method %q", httpRequestLabel, c.method).
			WithDetails(map[string]any{"field": "method"})
	}
	c.body = stringParam(m, "body", "")
	if strings.TrimSpace(c.body) == "" {
		c.body = "{}"
	}
	return c, nil
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, p Params) (schema.Context, error) {
	return run(ctx, p, e.Channel(), func(ctx context.Context) (schema.Context, error) {
		cfg, err := parseHTTPRequestConfig(p.Config)
		if err != nil {
			return schema.Context{}, err
		}
		return runStep(ctx, p.Steps, "http-request", func(ctx context.Context) (schema.Context, error) {
			resp, err := e.do(ctx, cfg, p.Context)
			if err != nil {
				return schema.Context{}, err
			}
			return p.Context.With(cfg.variableName, map[string]any{"httpResponse": resp})
		})
	})
}

func (e *HTTPRequestExecutor) do(ctx context.Context, cfg httpRequestConfig, data schema.Context) (*HTTPResponse, error) {
	vars := data.Map()
	endpoint, err := expressions.Render(cfg.endpoint, vars)
	if err != nil {
		return nil, err
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid endpoint %q", httpRequestLabel, endpoint).
			WithDetails(map[string]any{"field": "endpoint"})
	}

	var bodyReader io.Reader
	if methodHasBody(cfg.method) {
		body, err := expressions.Render(cfg.body, vars)
		if err != nil {
			return nil, err
		}
		if !json.Valid([]byte(body)) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: body is not valid JSON", httpRequestLabel).
				WithDetails(map[string]any{"field": "body"})
		}
		bodyReader = strings.NewReader(body)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, cfg.method, endpoint, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: failed to create request", httpRequestLabel).WithCause(err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := e.config.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "%s: request failed: %v", httpRequestLabel, err).WithCause(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, e.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "%s: failed to read response body", httpRequestLabel).WithCause(err)
	}

	out := &HTTPResponse{
		Status:     res.StatusCode,
		StatusText: statusText(res),
		Data:       decodeBody(res.Header.Get("Content-Type"), raw),
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeExternalCall, "%s: server returned %d", httpRequestLabel, res.StatusCode).
			WithDetails(map[string]any{"status": out.Status, "statusText": out.StatusText, "data": out.Data})
	}
	return out, nil
}

// statusText strips the numeric code from a response status line.
func statusText(res *http.Response) string {
	text := strings.TrimPrefix(res.Status, strconv.Itoa(res.StatusCode))
	text = strings.TrimSpace(text)
	if text == "" {
		text = http.StatusText(res.StatusCode)
	}
	return text
}

// decodeBody parses JSON bodies and returns anything else as text.
func decodeBody(contentType string, raw []byte) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

// postJSON sends payload as JSON and decodes a 2xx JSON response into out
// when out is non-nil. Any other status is an EXTERNAL_CALL_ERROR carrying
// a prefix of the response body.
func postJSON(ctx context.Context, cfg HTTPConfig, label, endpoint string, headers map[string]string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: failed to marshal request", label).WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: failed to create request", label).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := cfg.Client.Do(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "%s: request failed: %v", label, err).WithCause(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, cfg.MaxResponseBody))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "%s: failed to read response body", label).WithCause(err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "%s: server returned %d", label, res.StatusCode).
			WithDetails(map[string]any{"status": res.StatusCode, "body": truncate(string(raw), 512)})
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeExternalCall, "%s: malformed response", label).WithCause(err)
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
