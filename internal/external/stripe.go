package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"vitalog/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig configures a StripeClient.
type StripeClientConfig struct {
	SecretKey types.SecretString
	BaseURL   string // override for tests; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient reconciles subscription state against the Stripe REST
// API through BaseClient. Webhooks are the primary source of truth;
// this client exists for the admin reconciliation path, where an
// operator wants the provider's current view of a subscription.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "VitaLog/1.0")

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient over a caller-provided
// BaseClient, for tests that need to control retry and breaker behavior.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// SubscriptionView is the provider's current state of one subscription,
// normalized for comparison against the local entitlement row.
type SubscriptionView struct {
	SubscriptionID    string
	CustomerID        string
	PriceID           string
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
	TrialEnd          *time.Time
}

// GetSubscription fetches one subscription by ID.
func (s *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionView, error) {
	resp, err := s.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, s.wrapTransportError("GetSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode subscription response", err)
	}
	return mapSubscriptionView(&sub), nil
}

// GetCustomerSubscription fetches the customer's newest subscription,
// or (nil, nil) when the customer has none.
func (s *StripeClient) GetCustomerSubscription(ctx context.Context, customerID string) (*SubscriptionView, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", "1")
	params.Set("status", "all")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return nil, s.wrapTransportError("GetCustomerSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetCustomerSubscription")
	}

	var list stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode subscription list", err)
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return mapSubscriptionView(&list.Data[0]), nil
}

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Value())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	return s.base.Do(req)
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: status %d with unreadable body", operation, resp.StatusCode), readErr)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: status %d with non-JSON body", operation, resp.StatusCode), jsonErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: rate limit exceeded", operation), nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: server error: %s", operation, stripeErr.Error.Message), nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message), nil)
	}
}

func (s *StripeClient) wrapTransportError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: request failed", operation), err)
}

// stripeSubscription is the slice of the subscription object this
// service reads.
type stripeSubscription struct {
	ID                 string                  `json:"id"`
	Customer           string                  `json:"customer"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	TrialEnd           int64                   `json:"trial_end"`
	Items              stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

func mapSubscriptionView(sub *stripeSubscription) *SubscriptionView {
	view := &SubscriptionView{
		SubscriptionID:    sub.ID,
		CustomerID:        sub.Customer,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PeriodStart:       time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:         time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if len(sub.Items.Data) > 0 {
		view.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		view.TrialEnd = &trialEnd
	}
	return view
}

// StripeVerifier checks webhook signatures with stripe-go's
// HMAC-SHA256 validation, including timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a webhook payload against the signature header.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
