package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/gatewaykit/gatewaylib/logger"
)

const (
	DefaultTimeout = time.Second * 30
)

type Request struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte

	// Zero falls back to Options.Timeout
	Timeout time.Duration
}

type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Executor runs a single HTTP request. A non-2xx status is still a successful execution.
type Executor interface {
	Execute(ctx context.Context, request Request) (*Response, error)
}

type Options struct {
	// Retry transport errors, 429s and 5xxs with exponential backoff
	Retry bool

	// Upper bound on time spent retrying one request
	MaxElapsedTime time.Duration

	// Used by requests that do not set their own timeout
	Timeout time.Duration

	Transport http.RoundTripper
}

type HttpClient struct {
	logger  *logger.Logger
	options Options
}

func New(logger *logger.Logger, options Options) *HttpClient {
	if options.Transport == nil {
		options.Transport = http.DefaultTransport
	}

	return &HttpClient{
		logger:  logger,
		options: options,
	}
}

func (h *HttpClient) Execute(ctx context.Context, request Request) (*Response, error) {
	if _, err := url.ParseRequestURI(request.URL); err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", request.URL, err)
	}

	if request.Method == "" {
		request.Method = http.MethodGet
	}

	// If there is no backoff, then only execute request once
	if !h.options.Retry {
		return h.request(ctx, request)
	}

	backoffParams := backoff.NewExponentialBackOff()
	if h.options.MaxElapsedTime > 0 {
		backoffParams.MaxElapsedTime = h.options.MaxElapsedTime
	}

	var response *Response
	operation := func() error {
		var err error
		if response, err = h.request(ctx, request); err != nil {
			return err
		} else if retryable(response.StatusCode) {
			return fmt.Errorf("%s request failed with status %d", request.Method, response.StatusCode)
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		h.logger.Errorf("retrying in %s: %s", next.Round(time.Millisecond), err)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(backoffParams, ctx), notify); err != nil {
		// the last response still tells the caller what the server said
		if response != nil {
			return response, nil
		}
		return nil, err
	}

	return response, nil
}

func (h *HttpClient) request(ctx context.Context, request Request) (*Response, error) {
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = h.options.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Make our Client
	client := http.Client{
		Timeout:   timeout,
		Transport: h.options.Transport,
	}

	var body io.Reader
	if request.Body != nil {
		body = bytes.NewReader(request.Body)
	}

	// Build our Request
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", request.Method, err)
	}
	if request.Headers != nil {
		httpRequest.Header = request.Headers.Clone()
	}

	// Make our Request
	httpResponse, err := client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", request.Method, err)
	}
	defer httpResponse.Body.Close()

	responseBody, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response body: %w", request.Method, err)
	}

	return &Response{
		StatusCode: httpResponse.StatusCode,
		Headers:    httpResponse.Header,
		Body:       responseBody,
	}, nil
}

func retryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError
}
