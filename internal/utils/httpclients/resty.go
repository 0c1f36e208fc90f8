package httpclients

import (
	"context"
	"net"
	"net/http"
	"time"

	"jan-server/tools/model-updater/internal/utils/redact"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

type HTTPClientStartsAt struct{}

// Timeouts bounds a single request.
type Timeouts struct {
	Connect time.Duration
	Request time.Duration
}

// NewHTTPClient builds the underlying transport with a dial timeout.
func NewHTTPClient(timeouts Timeouts) *http.Client {
	dialer := &net.Dialer{
		Timeout:   timeouts.Connect,
		KeepAlive: 30 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = timeouts.Connect
	transport.MaxIdleConnsPerHost = 32
	return &http.Client{Transport: transport}
}

// NewClient returns a resty client that logs every call at debug level with secrets masked.
func NewClient(clientName string, hc *http.Client, timeouts Timeouts, log zerolog.Logger, sanitizer *redact.Sanitizer) *resty.Client {
	if hc == nil {
		hc = NewHTTPClient(timeouts)
	}
	client := resty.NewWithClient(hc)
	if timeouts.Request > 0 {
		client.SetTimeout(timeouts.Request)
	}
	client.AddRequestMiddleware(func(c *resty.Client, r *resty.Request) error {
		ctx := context.WithValue(r.Context(), HTTPClientStartsAt{}, time.Now())
		r.SetContext(ctx)
		return nil
	})
	client.AddResponseMiddleware(func(c *resty.Client, r *resty.Response) error {
		if r.Request == nil || r.Request.RawRequest == nil {
			return nil
		}
		startTime, _ := r.Request.Context().Value(HTTPClientStartsAt{}).(time.Time)
		latency := time.Since(startTime)

		event := log.Debug().
			Str("client", clientName).
			Int("status", r.StatusCode()).
			Str("method", r.Request.RawRequest.Method).
			Str("path", r.Request.RawRequest.URL.Path).
			Str("query", r.Request.RawRequest.URL.RawQuery).
			Dur("latency", latency)
		if sanitizer != nil {
			event = event.Interface("req_headers", sanitizer.Headers(r.Request.RawRequest.Header))
		}
		event.Msg("HTTP client request")
		return nil
	})
	return client
}
