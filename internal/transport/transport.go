// Package transport defines the narrow HTTP surface the token pipeline
// depends on. The core never constructs sockets itself; everything goes
// through a Sender, which hosts may replace wholesale (tests use an
// in-memory implementation).
package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Response is the subset of an HTTP response the pipeline consumes. The
// body is fully read before the Response is returned, so no connection
// state leaks past the Sender boundary.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Sender performs outbound HTTP calls for the pipeline.
type Sender interface {
	// SendPost issues a form-encoded POST to endpoint. The context carries
	// cancellation; an aborted call returns the context error.
	SendPost(ctx context.Context, endpoint string, headers map[string]string, body url.Values) (*Response, error)

	// SendGet issues a GET to endpoint.
	SendGet(ctx context.Context, endpoint string, headers map[string]string) (*Response, error)
}

// HTTPSender is the default Sender over net/http.
type HTTPSender struct {
	client *http.Client
}

// Option configures an HTTPSender.
type Option func(*HTTPSender)

// WithClient replaces the underlying http.Client.
func WithClient(client *http.Client) Option {
	return func(s *HTTPSender) {
		s.client = client
	}
}

// New creates an HTTPSender with connection limits suited to a client
// that talks to a single identity provider, wrapped with OTel HTTP
// instrumentation.
func New(opts ...Option) *HTTPSender {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConns = 20
	base.MaxConnsPerHost = 10

	s := &HTTPSender{
		client: &http.Client{
			Transport: otelhttp.NewTransport(base),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *HTTPSender) SendPost(ctx context.Context, endpoint string, headers map[string]string, body url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	return s.send(req, headers)
}

func (s *HTTPSender) SendGet(ctx context.Context, endpoint string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	return s.send(req, headers)
}

func (s *HTTPSender) send(req *http.Request, headers map[string]string) (*Response, error) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}
