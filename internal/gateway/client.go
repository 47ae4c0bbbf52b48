package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
)

// default time of retry after
const delaySeconds = 60

// InvoiceRequest describes a payment attempt to be opened at the gateway
type InvoiceRequest struct {
	FiatAmount   decimal.Decimal
	FiatCurrency string
	PayCurrency  string
}

// Invoice is the gateway's quote for an opened payment attempt
type Invoice struct {
	PaymentID  string
	Amount     decimal.Decimal
	Currency   string
	FiatAmount decimal.Decimal
	PayURL     string
}

// Webhook is a gateway payment notification. Amount fields stay raw wire
// strings: the signature covers the exact bytes the gateway sent, so the
// payload must not be reformatted before verification.
type Webhook struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	AmountPaid     string `json:"amount_paid"`
	AmountRequired string `json:"amount_required"`
	FiatAmount     string `json:"fiat_amount"`
	Currency       string `json:"currency"`
	Signature      string `json:"signature"`
}

func (w Webhook) canonicalString() string {
	return strings.Join([]string{w.PaymentID, w.Status, w.AmountPaid, w.AmountRequired, w.FiatAmount, w.Currency}, ":")
}

// Client represents HTTP client for the crypto payment gateway
type Client struct {
	client  *http.Client
	baseURL string
	secret  string
}

// NewGatewayClient creates new Client instance
func NewGatewayClient(baseURL, secret string) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL: baseURL,
		secret:  secret,
	}
}

type createInvoiceRequest struct {
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	PayCurrency    string `json:"pay_currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

type invoiceResponse struct {
	PaymentID   string `json:"payment_id"`
	PayAmount   string `json:"pay_amount"`
	PayCurrency string `json:"pay_currency"`
	FiatAmount  string `json:"fiat_amount"`
	Currency    string `json:"currency"`
	PayURL      string `json:"pay_url"`
}

// CreateInvoice opens a payment attempt at the gateway and returns its
// quote: the crypto amount to pay and the hosted payment URL.
// 201 - invoice opened
// 429 - request rate exceeded, honor Retry-After
// 500 - gateway internal error
func (c *Client) CreateInvoice(ctx context.Context, invReq InvoiceRequest) (*Invoice, error) {
	// POST /api/v1/invoices
	url, err := url.JoinPath(c.baseURL, "api", "v1", "invoices")
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(createInvoiceRequest{
		Amount:         invReq.FiatAmount.StringFixed(models.FiatPlaces),
		Currency:       invReq.FiatCurrency,
		PayCurrency:    invReq.PayCurrency,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		invResp := invoiceResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&invResp); err != nil {
			return nil, err
		}
		return parseInvoice(invResp)
	case http.StatusTooManyRequests:
		t := delaySeconds
		if val := resp.Header.Get("Retry-After"); val != "" {
			if parsed, err := strconv.Atoi(val); err == nil {
				t = parsed
			}
		}
		return nil, models.NewTooManyRequestsError(time.Duration(t) * time.Second)
	default:
		return nil, models.ErrInternalError
	}
}

func parseInvoice(resp invoiceResponse) (*Invoice, error) {
	amount, err := decimal.NewFromString(resp.PayAmount)
	if err != nil {
		return nil, err
	}
	fiat, err := decimal.NewFromString(resp.FiatAmount)
	if err != nil {
		return nil, err
	}

	return &Invoice{
		PaymentID:  resp.PaymentID,
		Amount:     amount,
		Currency:   resp.PayCurrency,
		FiatAmount: fiat,
		PayURL:     resp.PayURL,
	}, nil
}

// VerifyWebhook checks the HMAC-SHA256 signature computed over the
// canonical payload string against the shared secret.
func (c *Client) VerifyWebhook(hook Webhook) error {
	want := sign(c.secret, hook)
	got := strings.ToLower(hook.Signature)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return models.ErrInvalidSignature
	}

	return nil
}

func sign(secret string, hook Webhook) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(hook.canonicalString()))
	return hex.EncodeToString(mac.Sum(nil))
}
