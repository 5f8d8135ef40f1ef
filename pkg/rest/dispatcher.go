// Package rest builds, signs, throttles, and executes authenticated REST
// calls against exchange HTTP APIs.
//
// Every private call consumes one unit from a shared rate budget before it
// is issued; when the budget is exhausted the calling goroutine blocks
// until a token is available. The dispatcher never retries on its own;
// callers decide retry policy from the typed error they receive.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/marketbridge/connector/pkg/logging"
	"github.com/marketbridge/connector/pkg/ratelimit"
)

// Request is an ephemeral value describing one REST call. A Request is
// constructed per call and never reused: the signature and nonce attached
// during signing are single-use on every exchange modeled here.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte

	// Header entries added during signing.
	Header http.Header
}

// NewRequest creates a request with empty query and header sets.
func NewRequest(method, path string) Request {
	return Request{
		Method: method,
		Path:   path,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

// Config holds dispatcher configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Budget  ratelimit.Budget
	Signer  Signer // nil for public-only dispatchers
	Logger  logging.Logger
}

// Dispatcher executes REST requests with signing and rate-limit pacing.
// It is safe for concurrent use; concurrent calls serialize only on the
// rate budget.
type Dispatcher struct {
	baseURL string
	client  *http.Client
	budget  ratelimit.Budget
	signer  Signer
	logger  logging.Logger
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. A zero timeout defaults to 15s and a
// nil budget to 10 requests per second.
func NewDispatcher(cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	budget := cfg.Budget
	if budget == nil {
		budget = ratelimit.NewBudget(ratelimit.PerSecond(10))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		budget:  budget,
		signer:  cfg.Signer,
		logger:  logger,
		now:     time.Now,
	}
}

// exchangeError is the error envelope most exchanges return alongside a
// non-2xx status.
type exchangeError struct {
	Code json.Number `json:"code"`
	Msg  string      `json:"msg"`
}

// Execute signs and issues one request, returning the response body.
// Failures are always typed: *Error for HTTP/exchange rejections, a
// wrapped context error for cancellation and timeouts.
func (d *Dispatcher) Execute(ctx context.Context, req Request) ([]byte, error) {
	if err := d.budget.Wait(ctx); err != nil {
		return nil, err
	}

	if d.signer != nil {
		if err := d.signer.Sign(&req, d.now()); err != nil {
			return nil, fmt.Errorf("signing request %s %s: %w", req.Method, req.Path, err)
		}
	}

	httpReq, err := d.buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := d.now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request %s %s cancelled: %w", req.Method, req.Path, ctx.Err())
		}
		return nil, &Error{Method: req.Method, Path: req.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Method: req.Method, Path: req.Path, Status: resp.StatusCode, Err: err}
	}

	d.logger.Debug("rest call",
		logging.String("method", req.Method),
		logging.String("path", req.Path),
		logging.Int("status", resp.StatusCode),
		logging.Duration("elapsed", d.now().Sub(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, d.statusError(req, resp.StatusCode, body)
	}
	return body, nil
}

func (d *Dispatcher) buildHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := d.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building request %s %s: %w", req.Method, req.Path, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func (d *Dispatcher) statusError(req Request, status int, body []byte) error {
	reqErr := &Error{
		Method: req.Method,
		Path:   req.Path,
		Status: status,
	}
	var envelope exchangeError
	if err := json.Unmarshal(body, &envelope); err == nil {
		reqErr.Code = envelope.Code.String()
		reqErr.Message = envelope.Msg
	}
	switch {
	case status == http.StatusTooManyRequests || status == 418:
		// 418 is Binance's "auto-banned" response to repeated 429s.
		reqErr.Kind = KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		reqErr.Kind = KindAuth
	default:
		reqErr.Kind = KindExchange
	}
	return reqErr
}
