package modelapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jan-server/tools/model-updater/internal/domain/model"
	"jan-server/tools/model-updater/internal/utils/httpclients"
	"jan-server/tools/model-updater/internal/utils/platformerrors"
	"jan-server/tools/model-updater/internal/utils/redact"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

var (
	DefaultListEndpoints   = []string{"/models", "/models/", "/models/list", "/v1/models"}
	DefaultUpdateEndpoints = []string{"/models/model/update", "/models/update"}
)

const (
	DefaultAPIBasePath    = "/api/v1"
	DefaultGetEndpoint    = "/models/model"
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second

	maxErrorBody = 512
)

// Config is the immutable connection description for a Client.
type Config struct {
	BaseURL         string
	APIBasePath     string
	ListEndpoints   []string
	GetEndpoint     string
	UpdateEndpoints []string
	UpdateMethod    string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	Auth            Authenticator
}

func (c Config) withDefaults() Config {
	if c.APIBasePath == "" {
		c.APIBasePath = DefaultAPIBasePath
	}
	if len(c.ListEndpoints) == 0 {
		c.ListEndpoints = DefaultListEndpoints
	}
	if c.GetEndpoint == "" {
		c.GetEndpoint = DefaultGetEndpoint
	}
	if len(c.UpdateEndpoints) == 0 {
		c.UpdateEndpoints = DefaultUpdateEndpoints
	}
	if c.UpdateMethod == "" {
		c.UpdateMethod = http.MethodPost
	}
	c.UpdateMethod = strings.ToUpper(c.UpdateMethod)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Auth == nil {
		c.Auth = NoAuth{}
	}
	return c
}

// Client talks to the model-management API. It keeps no state between calls.
type Client struct {
	client    *resty.Client
	cfg       Config
	baseURL   string
	sanitizer *redact.Sanitizer
	log       zerolog.Logger
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config, log zerolog.Logger, sanitizer *redact.Sanitizer) (*Client, error) {
	cfg = cfg.withDefaults()

	parsed, err := url.ParseRequestURI(strings.TrimSpace(cfg.BaseURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, platformerrors.NewError(context.Background(), platformerrors.LayerConfig, platformerrors.ErrorTypeConfiguration,
			fmt.Sprintf("invalid API base URL %q", cfg.BaseURL), err, "")
	}
	switch cfg.UpdateMethod {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil, platformerrors.NewError(context.Background(), platformerrors.LayerConfig, platformerrors.ErrorTypeConfiguration,
			fmt.Sprintf("unsupported update method %q", cfg.UpdateMethod), nil, "")
	}

	timeouts := httpclients.Timeouts{Connect: cfg.ConnectTimeout, Request: cfg.RequestTimeout}
	client := httpclients.NewClient("model-api", nil, timeouts, log, sanitizer)
	client.SetHeader("Accept", "application/json")

	return &Client{
		client:    client,
		cfg:       cfg,
		baseURL:   strings.TrimSuffix(parsed.String(), "/") + "/" + strings.Trim(cfg.APIBasePath, "/"),
		sanitizer: sanitizer,
		log:       log.With().Str("component", "model-api-client").Logger(),
	}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// ListModels fetches every model record, trying each listing endpoint in turn.
func (c *Client) ListModels(ctx context.Context) ([]model.Record, error) {
	var lastErr error
	for _, path := range c.cfg.ListEndpoints {
		endpoint := c.endpoint(path)
		c.log.Debug().Str("endpoint", endpoint).Msg("Fetching models")

		resp, err := c.request(ctx).Get(endpoint)
		if err != nil {
			return nil, c.connectionError(ctx, "list models", endpoint, err)
		}

		if resp.IsError() {
			classified := c.statusError(ctx, resp, "list models")
			if platformerrors.IsFatal(classified) {
				return nil, classified
			}
			c.log.Debug().Str("endpoint", endpoint).Int("status", resp.StatusCode()).Msg("Listing endpoint rejected request, trying next")
			lastErr = classified
			continue
		}

		records, err := decodeListing(resp.Bytes())
		if err != nil {
			c.log.Debug().Err(err).Str("endpoint", endpoint).Msg("Listing endpoint returned no model list, trying next")
			lastErr = platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
				"list models returned an unexpected body", err, "", map[string]any{"endpoint": endpoint})
			continue
		}

		c.log.Info().Str("endpoint", endpoint).Int("count", len(records)).Msg("Fetched models")
		return records, nil
	}

	if lastErr == nil {
		lastErr = platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeConfiguration,
			"no listing endpoint configured", nil, "")
	}
	return nil, lastErr
}

// GetModel reads a single record by id.
func (c *Client) GetModel(ctx context.Context, id string) (*model.Record, error) {
	endpoint := c.endpoint(c.cfg.GetEndpoint)
	resp, err := c.request(ctx).
		SetQueryParam("id", id).
		Get(endpoint)
	if err != nil {
		return nil, c.connectionError(ctx, "get model", endpoint, err)
	}
	if resp.IsError() {
		return nil, c.statusError(ctx, resp, fmt.Sprintf("get model %s", id))
	}

	var rec model.Record
	if err := json.Unmarshal(resp.Bytes(), &rec); err != nil || rec.Payload == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			fmt.Sprintf("get model %s returned an unexpected body", id), err, "")
	}
	return &rec, nil
}

// UpdateModel writes payload for id. Endpoints answering 404/405 fall through to the next one.
func (c *Client) UpdateModel(ctx context.Context, id string, payload map[string]any) error {
	var lastErr error
	for _, path := range c.cfg.UpdateEndpoints {
		endpoint := c.endpoint(path)

		resp, err := c.request(ctx).
			SetHeader("Content-Type", "application/json").
			SetQueryParam("id", id).
			SetBody(payload).
			Execute(c.cfg.UpdateMethod, endpoint)
		if err != nil {
			return c.connectionError(ctx, fmt.Sprintf("update model %s", id), endpoint, err)
		}

		if resp.IsError() {
			lastErr = c.statusError(ctx, resp, fmt.Sprintf("update model %s", id))
			if platformerrors.IsErrorType(lastErr, platformerrors.ErrorTypeNotFound) {
				continue
			}
			return lastErr
		}

		return c.verifyUpdated(ctx, id, resp.Bytes())
	}
	return lastErr
}

// verifyUpdated rejects a success response that describes a different record.
func (c *Client) verifyUpdated(ctx context.Context, id string, body []byte) error {
	var echoed map[string]any
	if len(bytes.TrimSpace(body)) == 0 || json.Unmarshal(body, &echoed) != nil {
		return nil
	}
	got, ok := echoed[model.FieldID]
	if !ok || got == nil {
		return nil
	}
	if fmt.Sprintf("%v", got) != id {
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeExternal,
			fmt.Sprintf("update model %s returned record %v", id, got), nil, "", map[string]any{"model_id": id})
	}
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	r := c.client.R().SetContext(ctx)
	c.cfg.Auth.Apply(r)
	return r
}

func (c *Client) endpoint(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.baseURL
	}
	if strings.HasPrefix(path, "/") {
		return c.baseURL + path
	}
	return c.baseURL + "/" + path
}

func (c *Client) connectionError(ctx context.Context, op, endpoint string, err error) error {
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeConnection,
		op, err, "", map[string]any{"endpoint": endpoint})
}

func (c *Client) statusError(ctx context.Context, resp *resty.Response, op string) error {
	status := resp.StatusCode()
	body := strings.TrimSpace(resp.String())
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	// error bodies end up in summaries and logs
	if c.sanitizer != nil {
		body = c.sanitizer.Text(body)
	}
	message := fmt.Sprintf("%s: status %d", op, status)
	if body != "" {
		message = fmt.Sprintf("%s: %s", message, body)
	}
	return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure, platformerrors.ErrorTypeFromStatus(status),
		message, nil, "", map[string]any{"status": status})
}

// decodeListing accepts a bare array or an object wrapping it under "models" or "data".
func decodeListing(body []byte) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	if trimmed[0] == '[' {
		var records []model.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, err
	}
	for _, key := range []string{"models", "data"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		var records []model.Record
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		return records, nil
	}
	return nil, fmt.Errorf("body is neither a list nor wraps one under models or data")
}
