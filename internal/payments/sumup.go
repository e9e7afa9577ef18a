package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/services"
)

const (
	defaultSumUpBaseURL = "https://api.sumup.com"
	defaultSumUpTimeout = 15 * time.Second
	maxSumUpResponse    = 1 << 20
)

// SumUpConfig configures the SumUp Cloud API reader client.
type SumUpConfig struct {
	APIKey       string
	MerchantCode string
	BaseURL      string
	Currency     string
	Description  string
	HTTPClient   *http.Client
	Logger       Logger
}

// SumUpGateway drives SumUp Solo readers through the Cloud API.
type SumUpGateway struct {
	apiKey      string
	merchant    string
	baseURL     string
	currency    Currency
	description string
	client      *http.Client
	logger      Logger
}

var _ Provider = (*SumUpGateway)(nil)

// APIError represents a non-2xx answer from a gateway HTTP API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payments: gateway responded %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payments: gateway responded %d: %s", e.StatusCode, e.Message)
}

// Unwrap classifies the failure as transient or rejected.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return ErrGatewayUnavailable
	}
	return ErrCheckoutRejected
}

// NewSumUpGateway validates the configuration and builds the client.
func NewSumUpGateway(cfg SumUpConfig) (*SumUpGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("sumup: api key is required")
	}
	if strings.TrimSpace(cfg.MerchantCode) == "" {
		return nil, errors.New("sumup: merchant code is required")
	}
	cur, err := ParseCurrency(defaultString(cfg.Currency, "EUR"))
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(defaultString(cfg.BaseURL, defaultSumUpBaseURL), "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("sumup: invalid base url: %w", err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultSumUpTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &SumUpGateway{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		merchant:    strings.TrimSpace(cfg.MerchantCode),
		baseURL:     base,
		currency:    cur,
		description: defaultString(cfg.Description, "Kiosk order"),
		client:      client,
		logger:      logger,
	}, nil
}

func (g *SumUpGateway) Name() string { return "sumup" }

type sumUpAmount struct {
	Currency  string `json:"currency"`
	MinorUnit int    `json:"minor_unit"`
	Value     int64  `json:"value"`
}

type sumUpCheckoutRequest struct {
	TotalAmount sumUpAmount `json:"total_amount"`
	Description string      `json:"description,omitempty"`
}

type sumUpCheckoutResponse struct {
	Data struct {
		ClientTransactionID string `json:"client_transaction_id"`
	} `json:"data"`
}

type sumUpTransaction struct {
	ID                  string  `json:"id"`
	ClientTransactionID string  `json:"client_transaction_id"`
	Amount              float64 `json:"amount"`
	Currency            string  `json:"currency"`
	Status              string  `json:"status"`
	SimpleStatus        string  `json:"simple_status"`
}

type sumUpErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	Errors    struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (g *SumUpGateway) CreateCheckout(ctx context.Context, req services.TerminalCheckoutRequest) (services.TerminalCheckout, error) {
	reader := strings.TrimSpace(req.ReaderRef)
	if reader == "" {
		return services.TerminalCheckout{}, errors.New("sumup: reader reference is required")
	}
	if req.Amount <= 0 {
		return services.TerminalCheckout{}, errors.New("sumup: amount must be positive")
	}
	body := sumUpCheckoutRequest{
		TotalAmount: sumUpAmount{
			Currency:  g.currency.Code,
			MinorUnit: g.currency.Scale,
			Value:     req.Amount,
		},
		Description: g.description,
	}
	if req.OrderRef != "" {
		body.Description = fmt.Sprintf("%s %s", g.description, req.OrderRef)
	}

	var resp sumUpCheckoutResponse
	path := fmt.Sprintf("/v0.1/merchants/%s/readers/%s/checkout", url.PathEscape(g.merchant), url.PathEscape(reader))
	if err := g.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return services.TerminalCheckout{}, err
	}
	txID := strings.TrimSpace(resp.Data.ClientTransactionID)
	if txID == "" {
		return services.TerminalCheckout{}, errors.New("sumup: checkout response missing client_transaction_id")
	}
	g.logger(ctx, "payments.sumup.checkout.created", map[string]any{
		"reader":            reader,
		"order":             req.OrderRef,
		"clientTransaction": txID,
	})
	return services.TerminalCheckout{ClientTransactionID: txID}, nil
}

func (g *SumUpGateway) CancelCheckout(ctx context.Context, readerRef string) error {
	reader := strings.TrimSpace(readerRef)
	if reader == "" {
		return errors.New("sumup: reader reference is required")
	}
	path := fmt.Sprintf("/v0.1/merchants/%s/readers/%s/terminate", url.PathEscape(g.merchant), url.PathEscape(reader))
	if err := g.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return err
	}
	g.logger(ctx, "payments.sumup.checkout.terminated", map[string]any{"reader": reader})
	return nil
}

func (g *SumUpGateway) LookupCheckout(ctx context.Context, clientTransactionID string) (services.TerminalCheckoutStatus, error) {
	txID := strings.TrimSpace(clientTransactionID)
	if txID == "" {
		return services.TerminalCheckoutStatus{}, errors.New("sumup: client transaction id is required")
	}
	var tx sumUpTransaction
	path := "/v0.1/me/transactions?client_transaction_id=" + url.QueryEscape(txID)
	if err := g.do(ctx, http.MethodGet, path, nil, &tx); err != nil {
		return services.TerminalCheckoutStatus{}, err
	}
	status := services.TerminalCheckoutStatus{
		ClientTransactionID: txID,
		Status:              sumUpPaymentStatus(tx.Status, tx.SimpleStatus),
	}
	if tx.Amount > 0 {
		minor := g.currency.Minor(decimal.NewFromFloat(tx.Amount))
		status.Amount = &minor
	}
	return status, nil
}

func sumUpPaymentStatus(status, simple string) domain.PaymentStatus {
	if strings.EqualFold(simple, "REFUNDED") {
		return domain.PaymentStatusRefunded
	}
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESSFUL":
		return domain.PaymentStatusSuccessful
	case "FAILED", "CANCELLED":
		return domain.PaymentStatusFailed
	default:
		return domain.PaymentStatusPending
	}
}

func (g *SumUpGateway) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sumup: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sumup: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSumUpResponse))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed sumUpErrorBody
		if json.Unmarshal(data, &parsed) == nil {
			apiErr.Code = parsed.ErrorCode
			if parsed.Message != "" {
				apiErr.Message = parsed.Message
			} else if parsed.Errors.Detail != "" {
				apiErr.Message = parsed.Errors.Detail
			}
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("sumup: decode response: %w", err)
	}
	return nil
}
