// Package ledger is the client for the ledger node's HTTP gateway: asset
// creation, opt-in queries, transfer, freeze, confirmation and holdings.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/patrickmn/go-cache"

	"eventlens/internal/platform/config"
	dErrors "eventlens/pkg/domain-errors"
	"eventlens/pkg/platform/sentinel"
)

// ErrTxRejected means the ledger accepted the submission but the transaction
// failed in the pool.
var ErrTxRejected = errors.New("ledger rejected transaction")

const maxBodyBytes = 1 << 20

// Client is safe for concurrent use.
type Client struct {
	http           *retryablehttp.Client
	baseURL        string
	apiKey         string
	issuer         string
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	optIns         *cache.Cache
	metrics        *Metrics
	logger         *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New builds a client. Writes carry an idempotency key so retries of
// transport errors and 5xx replies are safe.
func New(cfg config.LedgerConfig, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	ttl := cfg.OptInCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	poll := cfg.ConfirmPoll
	if poll <= 0 {
		poll = time.Second
	}
	c := &Client{
		http:           rc,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		issuer:         cfg.IssuerAddress,
		confirmTimeout: cfg.ConfirmTimeout,
		confirmPoll:    poll,
		optIns:         cache.New(ttl, 2*ttl),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAsset creates a soulbound asset and waits for confirmation.
func (c *Client) CreateAsset(ctx context.Context, a Asset) (uint64, error) {
	req := createAssetRequest{
		Asset:         a,
		Decimals:      0,
		DefaultFrozen: false,
		Manager:       c.issuer,
		Reserve:       c.issuer,
		Freeze:        c.issuer,
		Clawback:      c.issuer,
	}
	var resp createAssetResponse
	if err := c.do(ctx, "create_asset", http.MethodPost, "/v1/assets", "", req, &resp); err != nil {
		return 0, err
	}
	if err := c.WaitForConfirmation(ctx, resp.TxID); err != nil {
		return 0, err
	}
	return resp.AssetID, nil
}

// IsOptedIn reports whether address holds an opt-in for assetID. Positive
// answers are cached; an opt-in cannot silently disappear while a badge is pending.
func (c *Client) IsOptedIn(ctx context.Context, address string, assetID uint64) (bool, error) {
	key := address + ":" + strconv.FormatUint(assetID, 10)
	if _, ok := c.optIns.Get(key); ok {
		c.metrics.cache("hit")
		return true, nil
	}
	c.metrics.cache("miss")

	var h Holding
	path := fmt.Sprintf("/v1/accounts/%s/assets/%d", url.PathEscape(address), assetID)
	err := c.do(ctx, "opt_in_check", http.MethodGet, path, "", nil, &h)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	c.optIns.SetDefault(key, true)
	return true, nil
}

// Holdings lists every asset balance on an account.
func (c *Client) Holdings(ctx context.Context, address string) ([]Holding, error) {
	var resp holdingsResponse
	path := fmt.Sprintf("/v1/accounts/%s/assets", url.PathEscape(address))
	err := c.do(ctx, "holdings", http.MethodGet, path, "", nil, &resp)
	if errors.Is(err, sentinel.ErrNotFound) {
		return []Holding{}, nil
	}
	if err != nil {
		return nil, err
	}
	return resp.Assets, nil
}

// BuildOptInTxn returns an unsigned zero-amount self transfer.
func (c *Client) BuildOptInTxn(ctx context.Context, address string, assetID uint64) (*OptInTxn, error) {
	var resp OptInTxn
	if err := c.do(ctx, "opt_in_txn", http.MethodPost, "/v1/opt-in-txns", "", optInRequest{AssetID: assetID, Sender: address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transfer sends one unit to receiver. The same idempotency key always
// yields the same transaction.
func (c *Client) Transfer(ctx context.Context, assetID uint64, receiver, idempotencyKey string) (string, error) {
	var resp txResponse
	req := transferRequest{AssetID: assetID, Receiver: receiver, Amount: 1, IdempotencyKey: idempotencyKey}
	if err := c.do(ctx, "transfer", http.MethodPost, "/v1/transfers", idempotencyKey, req, &resp); err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// Freeze freezes target's holding of assetID.
func (c *Client) Freeze(ctx context.Context, assetID uint64, target, idempotencyKey string) (string, error) {
	var resp txResponse
	req := freezeRequest{AssetID: assetID, Target: target, Frozen: true, IdempotencyKey: idempotencyKey}
	if err := c.do(ctx, "freeze", http.MethodPost, "/v1/freezes", idempotencyKey, req, &resp); err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// RecordProof writes the attestation proof on chain.
func (c *Client) RecordProof(ctx context.Context, p Proof) (string, error) {
	var resp txResponse
	key := "proof:" + p.EventID + ":" + p.Attendee
	if err := c.do(ctx, "record_proof", http.MethodPost, "/v1/proofs", key, p, &resp); err != nil {
		return "", err
	}
	return resp.TxID, nil
}

// WaitForConfirmation polls until txID is confirmed, rejected or the
// confirmation timeout passes.
func (c *Client) WaitForConfirmation(ctx context.Context, txID string) error {
	if txID == "" {
		return dErrors.New(dErrors.CodeLedgerUnavailable, "ledger returned no transaction id")
	}
	if c.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.confirmTimeout)
		defer cancel()
	}

	start := time.Now()
	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()
	path := "/v1/transactions/" + url.PathEscape(txID)
	for {
		var st txStatus
		err := c.do(ctx, "tx_status", http.MethodGet, path, "", nil, &st)
		switch {
		case err == nil && st.PoolError != "":
			return dErrors.Wrap(fmt.Errorf("%w: %s", ErrTxRejected, st.PoolError),
				dErrors.CodeLedgerUnavailable, "transaction "+txID+" rejected")
		case err == nil && st.ConfirmedRound > 0:
			c.metrics.confirmed(time.Since(start))
			return nil
		case err != nil && !errors.Is(err, sentinel.ErrNotFound) && !dErrors.HasCode(err, dErrors.CodeLedgerUnavailable):
			return err
		}

		select {
		case <-ctx.Done():
			return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeLedgerUnavailable,
				"transaction "+txID+" not confirmed in time")
		case <-ticker.C:
		}
	}
}

// Ping checks gateway reachability.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "health", http.MethodGet, "/v1/health", "", nil, nil)
}

// do performs one call and maps the reply:
//   - transport errors, 429 and 5xx: CodeLedgerUnavailable
//   - 404: sentinel.ErrNotFound
//   - 409: sentinel.ErrConflict
//   - other 4xx: CodeMalformedInput with the gateway message
func (c *Client) do(ctx context.Context, op, method, path, idempotencyKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "encode ledger request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "build ledger request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if id := chimw.GetReqID(ctx); id != "" {
		req.Header.Set(chimw.RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.call(op, "unavailable", time.Since(start))
		c.logger.WarnContext(ctx, "ledger call failed", "op", op, "error", err)
		return dErrors.Wrap(fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err), dErrors.CodeLedgerUnavailable, "ledger unavailable")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.metrics.call(op, "unavailable", time.Since(start))
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "read ledger reply")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.metrics.call(op, "ok", time.Since(start))
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.call(op, "not_found", time.Since(start))
		return sentinel.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		c.metrics.call(op, "conflict", time.Since(start))
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, gatewayMessage(raw))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.metrics.call(op, "unavailable", time.Since(start))
		c.logger.WarnContext(ctx, "ledger call failed", "op", op, "status", resp.StatusCode)
		return dErrors.Wrap(sentinel.ErrUnavailable, dErrors.CodeLedgerUnavailable,
			fmt.Sprintf("ledger returned status %d", resp.StatusCode))
	default:
		c.metrics.call(op, "rejected", time.Since(start))
		return dErrors.New(dErrors.CodeMalformedInput, "ledger rejected request: "+gatewayMessage(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeLedgerUnavailable, "decode ledger reply")
	}
	return nil
}

func gatewayMessage(raw []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
