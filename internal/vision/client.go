// Package vision calls the external vision model that judges whether an
// uploaded photo was taken live at the event venue.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-retryablehttp"

	"eventlens/internal/attestation/scoring"
	"eventlens/internal/platform/config"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/circuit"
)

const (
	maxReferenceImages = 3
	temperature        = 0.1
	maxReplyBytes      = 1 << 20
)

// Image is one binary image with its MIME type.
type Image struct {
	Data     []byte
	MimeType string
}

// Request is one assessment.
type Request struct {
	Image      Image
	EventName  string
	Location   string
	References []Image
}

// Assessment is the normalized vision verdict.
type Assessment struct {
	Confidence int
	Reason     string
	Venue      scoring.VenueVerdict
}

// Client talks to a generateContent-compatible endpoint. Every failure mode
// surfaces as CodeVisionUnavailable; the caller never scores on a guess.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	apiKey  string
	model   string
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithHTTPClient replaces the transport client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http.HTTPClient = hc }
}

// New builds a client that retries once on transport errors, 429 and 5xx.
func New(cfg config.VisionConfig, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 1
	rc.RetryWaitMin = cfg.RetryWait
	rc.RetryWaitMax = 2 * cfg.RetryWait
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	c := &Client{
		http:    rc,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		breaker: circuit.New("vision",
			circuit.WithFailureThreshold(threshold),
			circuit.WithSuccessThreshold(1),
			circuit.WithOpenTimeout(30*time.Second)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Assess sends the image (plus up to three references) and returns the
// normalized verdict.
func (c *Client) Assess(ctx context.Context, req Request) (*Assessment, error) {
	if !c.breaker.Allow() {
		c.metrics.call("breaker_open", 0)
		return nil, dErrors.New(dErrors.CodeVisionUnavailable, "vision service circuit open")
	}

	refs := req.References
	if len(refs) > maxReferenceImages {
		refs = refs[:maxReferenceImages]
	}

	start := time.Now()
	reply, result, err := c.generate(ctx, req, refs)
	c.metrics.call(result, time.Since(start))
	if err != nil {
		// A caller that went away says nothing about the vision service.
		if ctx.Err() == nil {
			c.recordFailure(ctx, err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeVisionUnavailable, "vision service unavailable")
	}
	c.recordSuccess()

	a := &Assessment{
		Confidence: int(math.Round(*reply.Confidence)),
		Reason:     reply.Reason,
	}
	if len(refs) > 0 && reply.VenueMatch != nil {
		if *reply.VenueMatch {
			a.Venue = scoring.VenueMatch
		} else {
			a.Venue = scoring.VenueMismatch
		}
	}
	return a, nil
}

func (c *Client) generate(ctx context.Context, req Request, refs []Image) (verdictReply, string, error) {
	parts := []part{
		{Text: buildPrompt(req.EventName, req.Location, len(refs) > 0)},
		inline(req.Image),
	}
	for _, ref := range refs {
		parts = append(parts, inline(ref))
	}
	body, err := json.Marshal(generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{Temperature: temperature, ResponseMimeType: "application/json"},
	})
	if err != nil {
		return verdictReply{}, "malformed", fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(c.model))
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return verdictReply{}, "http_error", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)
	if id := chimw.GetReqID(ctx); id != "" {
		httpReq.Header.Set(chimw.RequestIDHeader, id)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return verdictReply{}, "http_error", fmt.Errorf("call vision: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return verdictReply{}, "http_error", fmt.Errorf("read vision reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return verdictReply{}, "http_error", fmt.Errorf("vision returned status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return verdictReply{}, "malformed", fmt.Errorf("%w: %v", errMalformedReply, err)
	}
	v, err := parseVerdict(gen.text())
	if err != nil {
		return verdictReply{}, "malformed", err
	}
	return v, "ok", nil
}

func inline(img Image) part {
	mime := img.MimeType
	if mime == "" {
		mime = http.DetectContentType(img.Data)
	}
	return part{InlineData: &inlineData{MimeType: mime, Data: base64.StdEncoding.EncodeToString(img.Data)}}
}

func (c *Client) recordFailure(ctx context.Context, err error) {
	_, change := c.breaker.RecordFailure()
	c.logger.WarnContext(ctx, "vision call failed", "error", err)
	if change.Opened {
		c.metrics.breaker(true)
		c.logger.ErrorContext(ctx, "vision circuit breaker opened")
	}
}

func (c *Client) recordSuccess() {
	_, change := c.breaker.RecordSuccess()
	if change.Closed {
		c.metrics.breaker(false)
		c.logger.Info("vision circuit breaker closed")
	}
}
