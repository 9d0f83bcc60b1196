// Package extract talks to the document extraction service.
//
// A Client posts one document as a multipart upload and normalizes the JSON
// array it gets back into entities. Only one request is in flight per client:
// concurrent calls for the same document share it, anything else is refused
// with ErrBusy.
package extract

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/kingrea/tally/internal/entity"
)

const (
	// DefaultEndpoint is where the bundled service listens.
	DefaultEndpoint = "http://localhost:8000/api/process_document"
	DefaultTimeout  = 60 * time.Second
	// FileField is the multipart field carrying the document.
	FileField = "file"

	maxResponseBytes = 8 << 20
)

var (
	ErrNoDocument        = errors.New("extract: no document selected")
	ErrBusy              = errors.New("extract: a document is already being processed")
	ErrUnavailable       = errors.New("extract: service unreachable")
	ErrMalformedResponse = errors.New("extract: malformed response")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	status := e.Status
	if status == "" {
		status = fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
	}
	if e.Message == "" {
		return fmt.Sprintf("extract: service returned %s", status)
	}
	return fmt.Sprintf("extract: service returned %s: %s", status, e.Message)
}

// Document is one upload.
type Document struct {
	Name    string
	Content []byte
}

// LoadDocument reads the document at path.
func LoadDocument(path string) (Document, error) {
	if strings.TrimSpace(path) == "" {
		return Document{}, ErrNoDocument
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("extract: read %s: %w", path, err)
	}
	doc := Document{Name: filepath.Base(path), Content: content}
	return doc, doc.Validate()
}

// Validate rejects documents with no name or no content.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Name) == "" || len(d.Content) == 0 {
		return ErrNoDocument
	}
	return nil
}

// Sum is the hex SHA-256 of name and content.
func (d Document) Sum() string {
	h := sha256.New()
	h.Write([]byte(d.Name))
	h.Write([]byte{0})
	h.Write(d.Content)
	return hex.EncodeToString(h.Sum(nil))
}

// Result is a successful extraction.
type Result struct {
	RunID    string
	Document string
	Entities []entity.Entity
	Duration time.Duration
	// Cached is set when the result came from the response cache.
	Cached bool
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit spaces consecutive requests. A non-positive rate disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCache keeps successful results for ttl, keyed by document hash.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl <= 0 {
			c.cache = nil
			return
		}
		c.cache = gocache.New(ttl, 2*ttl)
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	limiter  *rate.Limiter
	cache    *gocache.Cache
	logger   *zap.Logger

	group   singleflight.Group
	mu      sync.Mutex
	active  string
	waiters int
}

// New builds a client for endpoint. An empty endpoint uses DefaultEndpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("extract: endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("extract: endpoint %q must be http or https", endpoint)
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{},
		timeout:  DefaultTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Endpoint returns the service URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Busy reports whether a request is in flight.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != ""
}

// Extract sends doc to the service and returns its normalized entities.
func (c *Client) Extract(ctx context.Context, doc Document) (Result, error) {
	if err := doc.Validate(); err != nil {
		return Result{}, err
	}
	key := doc.Sum()
	if res, ok := c.cached(key); ok {
		return res, nil
	}
	if !c.acquire(key) {
		return Result{}, ErrBusy
	}
	defer c.release()

	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.do(ctx, doc, key)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	res.Entities = entity.Clone(res.Entities)
	if shared {
		c.logger.Debug("extraction shared", zap.String("document", doc.Name))
	}
	return res, nil
}

func (c *Client) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != "" && c.active != key {
		return false
	}
	c.active = key
	c.waiters++
	return true
}

func (c *Client) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters--
	if c.waiters <= 0 {
		c.waiters = 0
		c.active = ""
	}
}

func (c *Client) cached(key string) (Result, bool) {
	if c.cache == nil {
		return Result{}, false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return Result{}, false
	}
	res := v.(Result)
	res.RunID = uuid.NewString()
	res.Entities = entity.Clone(res.Entities)
	res.Duration = 0
	res.Cached = true
	return res, true
}

func (c *Client) do(ctx context.Context, doc Document, key string) (Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("extract: rate limit: %w", err)
		}
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, contentType, err := encodeDocument(doc)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return Result{}, fmt.Errorf("extract: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("extraction request failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{
			Code:    resp.StatusCode,
			Status:  resp.Status,
			Message: errorMessage(data),
		}
	}
	if len(data) > maxResponseBytes {
		return Result{}, fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedResponse, maxResponseBytes)
	}

	items, err := entity.DecodeItems(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	entities, err := entity.Normalize(items)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	res := Result{
		RunID:    uuid.NewString(),
		Document: doc.Name,
		Entities: entities,
		Duration: time.Since(start),
	}
	if c.cache != nil {
		c.cache.SetDefault(key, Result{Document: res.Document, Entities: entity.Clone(entities)})
	}
	c.logger.Info("extraction complete",
		zap.String("run_id", res.RunID),
		zap.String("document", doc.Name),
		zap.Int("entities", len(entities)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func encodeDocument(doc Document) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(FileField, doc.Name)
	if err != nil {
		return nil, "", fmt.Errorf("extract: encode: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, "", fmt.Errorf("extract: encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("extract: encode: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// errorMessage pulls the message out of an {"error": "..."} body, falling
// back to the trimmed body text.
func errorMessage(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
