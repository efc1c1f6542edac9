package webpay

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

	"github.com/ferramas/ferramas-backend/pkg/config"
	pkgerrors "github.com/ferramas/ferramas-backend/pkg/errors"
)

const (
	IntegrationBaseURL      = "https://webpay3gint.transbank.cl"
	IntegrationCommerceCode = "597055555532"

	ResponseCodeApproved = 0
	ResponseCodeAborted  = -1

	StatusInitialized = "INITIALIZED"
	StatusAuthorized  = "AUTHORIZED"
	StatusFailed      = "FAILED"
	StatusReversed    = "REVERSED"
	StatusNullified   = "NULLIFIED"
)

const (
	transactionsPath       = "/rswebpaytransaction/api/webpay/v1.2/transactions"
	headerAPIKeyID         = "Tbk-Api-Key-Id"
	headerAPIKeySecret     = "Tbk-Api-Key-Secret"
	responseBodyReadLimit  = 4096
	defaultTimeout         = 15 * time.Second
	maxBuyOrderLength      = 26
	maxSessionIDLength     = 61
	lockedMessageFragment  = "locked"
	alreadyMessageFragment = "already"
)

var (
	// ErrTransactionLocked is returned when Webpay refuses a commit because the token is
	// being (or has been) committed by another caller.
	ErrTransactionLocked = errors.New("webpay transaction already locked")

	errCommerceCodeRequired = errors.New("webpay commerce code is required")
	errAPIKeyRequired       = errors.New("webpay api key is required")
)

// APIError carries a non-2xx Webpay response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("webpay status %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes ErrTransactionLocked for 422 lock responses.
func (e *APIError) Unwrap() error {
	if e.StatusCode != http.StatusUnprocessableEntity {
		return nil
	}
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, lockedMessageFragment) || strings.Contains(msg, alreadyMessageFragment) {
		return ErrTransactionLocked
	}
	return nil
}

// Client talks to the Webpay Plus REST API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	commerceCode string
	apiKey       string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured Webpay base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds a Webpay client from configuration.
func NewClient(cfg config.WebpayConfig, opts ...Option) (*Client, error) {
	code := strings.TrimSpace(cfg.CommerceCode)
	if code == "" {
		return nil, errCommerceCodeRequired
	}
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errAPIKeyRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = IntegrationBaseURL
	}

	client := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		commerceCode: code,
		apiKey:       key,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// CreateRequest starts a Webpay Plus transaction.
type CreateRequest struct {
	BuyOrder  string `json:"buy_order"`
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
	ReturnURL string `json:"return_url"`
}

// CreateResponse holds the token and the form URL the browser is redirected to.
type CreateResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// CardDetail is the masked card returned by commit and status.
type CardDetail struct {
	CardNumber string `json:"card_number"`
}

// Transaction is the commit/status payload.
type Transaction struct {
	VCI                string     `json:"vci"`
	Amount             int64      `json:"amount"`
	Status             string     `json:"status"`
	BuyOrder           string     `json:"buy_order"`
	SessionID          string     `json:"session_id"`
	CardDetail         CardDetail `json:"card_detail"`
	AccountingDate     string     `json:"accounting_date"`
	TransactionDate    string     `json:"transaction_date"`
	AuthorizationCode  string     `json:"authorization_code"`
	PaymentTypeCode    string     `json:"payment_type_code"`
	ResponseCode       *int       `json:"response_code"`
	InstallmentsNumber int        `json:"installments_number"`
}

// Approved reports a zero response code.
func (t *Transaction) Approved() bool {
	return t != nil && t.ResponseCode != nil && *t.ResponseCode == ResponseCodeApproved
}

// Pending reports a transaction the cardholder has not finished.
func (t *Transaction) Pending() bool {
	return t != nil && t.Status == StatusInitialized
}

// Code returns the response code, treating a missing code as aborted.
func (t *Transaction) Code() int {
	if t == nil || t.ResponseCode == nil {
		return ResponseCodeAborted
	}
	return *t.ResponseCode
}

// RefundResponse is returned by the refunds endpoint.
type RefundResponse struct {
	Type              string `json:"type"`
	AuthorizationCode string `json:"authorization_code,omitempty"`
	AuthorizationDate string `json:"authorization_date,omitempty"`
	NullifiedAmount   int64  `json:"nullified_amount,omitempty"`
	Balance           int64  `json:"balance,omitempty"`
	ResponseCode      *int   `json:"response_code,omitempty"`
}

// Create opens a transaction and returns the redirect token.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*CreateResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "webpay client not configured")
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	var out CreateResponse
	if err := c.do(ctx, http.MethodPost, c.transactionsURL(""), req, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "webpay create failed")
	}
	if out.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "webpay create returned empty token")
	}
	return &out, nil
}

// Commit confirms the transaction identified by token.
func (c *Client) Commit(ctx context.Context, token string) (*Transaction, error) {
	return c.transaction(ctx, http.MethodPut, token, "webpay commit failed")
}

// Status reads the current gateway state of a transaction without committing it.
func (c *Client) Status(ctx context.Context, token string) (*Transaction, error) {
	return c.transaction(ctx, http.MethodGet, token, "webpay status failed")
}

// Refund reverses or nullifies amount for the given token.
func (c *Client) Refund(ctx context.Context, token string, amount int64) (*RefundResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "webpay client not configured")
	}
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	var out RefundResponse
	body := map[string]int64{"amount": amount}
	if err := c.do(ctx, http.MethodPost, c.transactionsURL(token)+"/refunds", body, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "webpay refund failed")
	}
	return &out, nil
}

func (c *Client) transaction(ctx context.Context, method, token, failure string) (*Transaction, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "webpay client not configured")
	}
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}

	var out Transaction
	if err := c.do(ctx, method, c.transactionsURL(token), nil, &out); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, failure)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerAPIKeyID, c.commerceCode)
	httpReq.Header.Set(headerAPIKeySecret, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) transactionsURL(token string) string {
	base := strings.TrimRight(c.baseURL, "/") + transactionsPath
	if token == "" {
		return base
	}
	return base + "/" + url.PathEscape(token)
}

func errorMessage(raw []byte) string {
	var payload struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.ErrorMessage != "" {
		return payload.ErrorMessage
	}
	return strings.TrimSpace(string(raw))
}

func validateCreate(req CreateRequest) error {
	switch {
	case strings.TrimSpace(req.BuyOrder) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "buy order is required")
	case len(req.BuyOrder) > maxBuyOrderLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("buy order exceeds %d characters", maxBuyOrderLength))
	case strings.TrimSpace(req.SessionID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	case len(req.SessionID) > maxSessionIDLength:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("session id exceeds %d characters", maxSessionIDLength))
	case req.Amount <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	case strings.TrimSpace(req.ReturnURL) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "return url is required")
	}
	return nil
}
