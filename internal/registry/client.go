package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"assetlib/internal/logging"
	"assetlib/internal/services"
)

const component = "registry"

// API defines the registry operations consumed by checkout, staging and the
// local HTTP surface.
type API interface {
	ListAssets(ctx context.Context, opts ListOptions) ([]Asset, error)
	GetAsset(ctx context.Context, name string) (*Asset, error)
	Upload(ctx context.Context, name, version, filename string, content io.Reader) error
	Checkout(ctx context.Context, name, holder string) (*Asset, error)
	Checkin(ctx context.Context, name, filename string, content io.Reader) (VersionMap, error)
	CommitMetadata(ctx context.Context, name string, metadata Metadata) error
	Download(ctx context.Context, name string, dst io.Writer) (int64, error)
}

// Client talks to the asset-management REST service.
type Client struct {
	baseURL       string
	trailingSlash bool
	httpClient    *http.Client
	tracer        trace.Tracer
	logger        *slog.Logger
}

var _ API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithTrailingSlash controls whether endpoint paths end in "/".
func WithTrailingSlash(enabled bool) Option {
	return func(c *Client) {
		c.trailingSlash = enabled
	}
}

// WithLogger attaches a logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, component)
	}
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *Client) {
		if provider != nil {
			c.tracer = provider.Tracer("assetlib/internal/registry")
		}
	}
}

// New creates a registry client.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("registry base url required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("registry base url: %w", err)
	}
	client := &Client{
		baseURL:       baseURL,
		trailingSlash: true,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		tracer:        otel.Tracer("assetlib/internal/registry"),
		logger:        logging.NewComponentLogger(nil, component),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// ListAssets returns assets matching opts.
func (c *Client) ListAssets(ctx context.Context, opts ListOptions) ([]Asset, error) {
	query := url.Values{}
	if opts.Search != "" {
		query.Set("search", opts.Search)
	}
	if opts.Author != "" {
		query.Set("author", opts.Author)
	}
	if opts.CheckedInOnly {
		query.Set("checkedInOnly", "true")
	}
	if opts.SortBy != "" {
		query.Set("sortBy", opts.SortBy)
	}

	var payload assetsEnvelope
	if err := c.doJSON(ctx, "list", http.MethodGet, c.endpoint(query, "assets"), nil, "", &payload); err != nil {
		return nil, err
	}
	return payload.Assets, nil
}

// GetAsset returns the current registry view of name, including lock state.
func (c *Client) GetAsset(ctx context.Context, name string) (*Asset, error) {
	if err := requireName(name, "get"); err != nil {
		return nil, err
	}
	var payload assetEnvelope
	if err := c.doJSON(ctx, "get", http.MethodGet, c.endpoint(nil, "assets", name), nil, "", &payload); err != nil {
		return nil, err
	}
	if payload.Asset == nil {
		return nil, services.Wrap(services.ErrUnavailable, component, "get", "response missing asset", nil)
	}
	return payload.Asset, nil
}

// Upload creates a new asset from an archive.
func (c *Client) Upload(ctx context.Context, name, version, filename string, content io.Reader) error {
	if err := requireName(name, "upload"); err != nil {
		return err
	}
	body, contentType, err := multipartBody(filename, content, map[string]string{"version": version})
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "upload", "build multipart body", err)
	}
	return c.doJSON(ctx, "upload", http.MethodPost, c.endpoint(nil, "assets", name, "upload"), body, contentType, nil)
}

// Checkout requests the edit lock on name for holder. A held lock surfaces as
// services.ErrConflict.
func (c *Client) Checkout(ctx context.Context, name, holder string) (*Asset, error) {
	if err := requireName(name, "checkout"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(holder) == "" {
		return nil, services.Wrap(services.ErrValidation, component, "checkout", "holder is required", nil)
	}
	encoded, err := json.Marshal(checkoutRequest{Holder: holder})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "checkout", "encode request", err)
	}
	var payload assetEnvelope
	if err := c.doJSON(ctx, "checkout", http.MethodPost, c.endpoint(nil, "assets", name, "checkout"), bytes.NewReader(encoded), "application/json", &payload); err != nil {
		return nil, err
	}
	if payload.Asset == nil {
		return &Asset{Name: name, Holder: holder, IsCheckedOut: true}, nil
	}
	return payload.Asset, nil
}

// Checkin uploads new content for name and returns the storage version map.
func (c *Client) Checkin(ctx context.Context, name, filename string, content io.Reader) (VersionMap, error) {
	if err := requireName(name, "checkin"); err != nil {
		return nil, err
	}
	body, contentType, err := multipartBody(filename, content, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, "checkin", "build multipart body", err)
	}
	var payload checkinEnvelope
	if err := c.doJSON(ctx, "checkin", http.MethodPost, c.endpoint(nil, "assets", name, "checkin"), body, contentType, &payload); err != nil {
		return nil, err
	}
	if payload.VersionMap == nil {
		payload.VersionMap = VersionMap{}
	}
	return payload.VersionMap, nil
}

// CommitMetadata records the metadata phase of a check-in.
func (c *Client) CommitMetadata(ctx context.Context, name string, metadata Metadata) error {
	if err := requireName(name, "commit_metadata"); err != nil {
		return err
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "commit_metadata", "encode metadata", err)
	}
	return c.doJSON(ctx, "commit_metadata", http.MethodPost, c.endpoint(nil, "metadata", name), bytes.NewReader(encoded), "application/json", nil)
}

// Download streams the asset archive into dst and returns the bytes written.
func (c *Client) Download(ctx context.Context, name string, dst io.Writer) (int64, error) {
	if err := requireName(name, "download"); err != nil {
		return 0, err
	}
	ctx, span := c.startSpan(ctx, "download", http.MethodGet)
	defer span.End()

	resp, err := c.send(ctx, "download", http.MethodGet, c.endpoint(nil, "assets", name, "download"), nil, "")
	if err != nil {
		recordSpanError(span, err)
		return 0, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := statusFailure("download", resp, body)
		recordSpanError(span, err)
		return 0, err
	}
	written, err := io.Copy(dst, resp.Body)
	if err != nil {
		err = services.Wrap(services.ErrUnavailable, component, "download", "read archive body", err)
		recordSpanError(span, err)
		return written, err
	}
	span.SetAttributes(attribute.Int64("assetlib.download.bytes", written))
	return written, nil
}

func (c *Client) doJSON(ctx context.Context, operation, method, endpoint string, body io.Reader, contentType string, out any) error {
	ctx, span := c.startSpan(ctx, operation, method)
	defer span.End()

	resp, err := c.send(ctx, operation, method, endpoint, body, contentType)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		err = services.Wrap(services.ErrUnavailable, component, operation, "read response body", err)
		recordSpanError(span, err)
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := statusFailure(operation, resp, data)
		recordSpanError(span, err)
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		err = services.Wrap(services.ErrUnavailable, component, operation, "decode response", err)
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (c *Client) send(ctx context.Context, operation, method, endpoint string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, component, operation, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		logging.WithContext(ctx, c.logger).Debug("registry request failed",
			logging.String("operation", operation),
			logging.Duration("latency", latency),
			logging.Error(err),
		)
		return nil, services.Wrap(services.ErrUnavailable, component, operation, "request failed", err)
	}
	logging.WithContext(ctx, c.logger).Debug("registry request",
		logging.String("operation", operation),
		logging.String("method", method),
		logging.Int("status", resp.StatusCode),
		logging.Duration("latency", latency),
	)
	return resp, nil
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(segment))
	}
	if c.trailingSlash {
		b.WriteByte('/')
	}
	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(query.Encode())
	}
	return b.String()
}

func (c *Client) startSpan(ctx context.Context, operation, method string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("assetlib.registry.operation", operation),
	}
	if name, ok := services.AssetFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("assetlib.asset", name))
	}
	return c.tracer.Start(ctx, "registry."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, services.Kind(err))
}

func requireName(name, operation string) error {
	if strings.TrimSpace(name) == "" {
		return services.Wrap(services.ErrValidation, component, operation, "asset name is required", nil)
	}
	return nil
}

func multipartBody(filename string, content io.Reader, fields map[string]string) (io.Reader, string, error) {
	if content == nil {
		return nil, "", errors.New("content is required")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, "", err
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
