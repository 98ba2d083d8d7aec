package payment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
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

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// HTTPConfig configures the processor's REST API.
type HTTPConfig struct {
	BaseURL  string
	APIKey   string
	Currency string
	Timeout  time.Duration
	Client   *http.Client
}

// HTTPGateway talks to the card processor over JSON/HTTP.
type HTTPGateway struct {
	baseURL  string
	apiKey   string
	currency string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPGateway validates cfg and builds the client.
func NewHTTPGateway(cfg HTTPConfig, logger *slog.Logger) (*HTTPGateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("payment base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid payment base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}

	return &HTTPGateway{
		baseURL:  base,
		apiKey:   cfg.APIKey,
		currency: currency,
		client:   hc,
		logger:   logger,
	}, nil
}

type authorizeRequest struct {
	CustomerRef string `json:"customer_ref"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	JobID       string `json:"job_id"`
}

type authorizeResponse struct {
	AuthorizationRef string `json:"authorization_ref"`
}

type captureRequest struct {
	PayoutAccountRef *string `json:"payout_account_ref"`
	AmountCents      int64   `json:"amount_cents"`
	Tier             string  `json:"tier"`
}

type captureResponse struct {
	PlatformFeeCents    int64 `json:"platform_fee_cents"`
	ProviderPayoutCents int64 `json:"provider_payout_cents"`
}

type incidentRequest struct {
	CustomerRef      string `json:"customer_ref"`
	PaymentMethodRef string `json:"payment_method_ref"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason"`
}

type incidentResponse struct {
	ChargeRef string `json:"charge_ref"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (g *HTTPGateway) Authorize(ctx context.Context, customerRef string, amount domain.Money, jobID string) (string, error) {
	var resp authorizeResponse
	err := g.do(ctx, "/v1/authorizations", authorizeKey(jobID, customerRef, amount), authorizeRequest{
		CustomerRef: customerRef,
		AmountCents: int64(amount),
		Currency:    g.currency,
		JobID:       jobID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AuthorizationRef == "" {
		return "", domain.PaymentUnavailable(errors.New("authorization response missing reference"))
	}
	return resp.AuthorizationRef, nil
}

func (g *HTTPGateway) CaptureAndSplit(ctx context.Context, authRef string, payoutAccountRef *string, amount domain.Money, tier domain.PayoutTier) (SplitResult, error) {
	var resp captureResponse
	path := "/v1/authorizations/" + url.PathEscape(authRef) + "/capture"
	err := g.do(ctx, path, "capture:"+authRef, captureRequest{
		PayoutAccountRef: payoutAccountRef,
		AmountCents:      int64(amount),
		Tier:             string(tier),
	}, &resp)
	if err != nil {
		return SplitResult{}, err
	}
	return SplitResult{
		PlatformFee:    domain.Money(resp.PlatformFeeCents),
		ProviderPayout: domain.Money(resp.ProviderPayoutCents),
	}, nil
}

// authorizeKey is stable for one job, card and amount. A retry with another
// card or amount is a new request rather than a replay of an earlier decline.
func authorizeKey(jobID, customerRef string, amount domain.Money) string {
	sum := sha256.Sum256([]byte(customerRef + "|" + strconv.FormatInt(int64(amount), 10)))
	return "authorize:" + jobID + ":" + hex.EncodeToString(sum[:8])
}

func (g *HTTPGateway) ChargeIncident(ctx context.Context, chargeID, customerRef, paymentMethodRef string, amount domain.Money, reason string) (string, error) {
	if chargeID == "" {
		return "", errors.New("charge id is required")
	}
	var resp incidentResponse
	err := g.do(ctx, "/v1/incident-charges", "incident:"+chargeID, incidentRequest{
		CustomerRef:      customerRef,
		PaymentMethodRef: paymentMethodRef,
		AmountCents:      int64(amount),
		Currency:         g.currency,
		Reason:           reason,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ChargeRef == "" {
		return "", domain.PaymentUnavailable(errors.New("charge response missing reference"))
	}
	return resp.ChargeRef, nil
}

// do POSTs body to path and decodes a 2xx response into out. Transport
// failures, 429 and 5xx are transient; any other non-2xx is a decline.
func (g *HTTPGateway) do(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create payment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("Payment gateway request failed", slog.String("path", path), slog.Any("error", err))
		return domain.PaymentUnavailable(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentUnavailable(fmt.Errorf("read payment response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(data, out); err != nil {
			return domain.PaymentUnavailable(fmt.Errorf("decode payment response: %w", err))
		}
		return nil
	}

	cause := gatewayError(resp.StatusCode, data)
	g.logger.Warn("Payment gateway rejected request",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Any("error", cause),
	)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return domain.PaymentUnavailable(cause)
	}
	return domain.PaymentDeclined(cause)
}

func gatewayError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Code != "" {
			return fmt.Errorf("gateway status %d: %s (%s)", status, e.Error, e.Code)
		}
		return fmt.Errorf("gateway status %d: %s", status, e.Error)
	}
	return fmt.Errorf("gateway status %d", status)
}
