// Package mpesa implements payment initiation and status queries against the
// Safaricom Daraja API (STK push). It is the concrete StatusProvider behind
// the confirmation engine: Daraja gives no push channel back to the caller,
// only a query endpoint, which is why the engine polls.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"soko-orders/internal/domain"
	"soko-orders/internal/payment"
)

const (
	tokenPath    = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath  = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath = "/mpesa/stkpushquery/v1/query"

	// Daraja's "transaction is being processed" error code on the query
	// endpoint. It means the customer has not acted on the PIN prompt yet.
	codeProcessing = "500.001.1001"

	timestampLayout = "20060102150405"
	maxRefLen       = 12
)

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
	lg   *zap.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time

	now func() time.Time
}

func New(cfg Config, lg *zap.Logger) (*Client, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.ShortCode == "" || cfg.Passkey == "" {
		return nil, fmt.Errorf("mpesa: consumer key/secret, shortcode and passkey are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		lg:   lg,
		now:  time.Now,
	}, nil
}

// NormalizePhone converts local formats (07…, 01…, +254…) to the 2547…
// MSISDN form Daraja expects.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.ReplaceAll(p, " ", "")
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") && len(p) == 10 {
		p = "254" + p[1:]
	}
	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", domain.ErrInvalidPhone
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", domain.ErrInvalidPhone
		}
	}
	return p, nil
}

// InitiatePayment fires an STK push at the customer's phone and returns the
// CheckoutRequestID as the opaque checkout handle.
func (c *Client) InitiatePayment(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	phone, err := NormalizePhone(req.PhoneNumber)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	ts := c.now().Format(timestampLayout)

	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int64(req.Amount),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  truncate(req.AccountRef, maxRefLen),
		"TransactionDesc":   truncate("Order "+req.VendorName, maxRefLen),
	}

	var resp struct {
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		MerchantRequestID   string `json:"MerchantRequestID"`
		ErrorCode           string `json:"errorCode"`
		ErrorMessage        string `json:"errorMessage"`
	}
	if err := c.postJSON(ctx, stkPushPath, payload, &resp); err != nil {
		return domain.CheckoutResponse{}, err
	}
	if resp.ErrorCode != "" {
		return domain.CheckoutResponse{}, fmt.Errorf("mpesa: stk push rejected: %s %s", resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("mpesa: stk push failed: %s", resp.ResponseDescription)
	}

	c.lg.Info("stk_push_sent",
		zap.String("checkout_handle", resp.CheckoutRequestID),
		zap.Int64("amount", int64(req.Amount)))
	return domain.CheckoutResponse{
		CheckoutHandle: resp.CheckoutRequestID,
		MerchantRef:    resp.MerchantRequestID,
	}, nil
}

// CheckStatus queries the STK push outcome for a checkout handle. Transient
// failures (network, 5xx, token trouble) are wrapped in payment.ErrTransport
// so the engine keeps polling.
func (c *Client) CheckStatus(ctx context.Context, checkoutHandle string) (domain.PaymentStatus, error) {
	ts := c.now().Format(timestampLayout)
	payload := map[string]any{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": checkoutHandle,
	}

	var resp struct {
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := c.postJSON(ctx, stkQueryPath, payload, &resp); err != nil {
		return domain.PaymentPending, err
	}

	switch {
	case resp.ErrorCode == codeProcessing:
		return domain.PaymentPending, nil
	case resp.ErrorCode != "":
		return domain.PaymentPending, fmt.Errorf("%w: %s %s", payment.ErrTransport, resp.ErrorCode, resp.ErrorMessage)
	case resp.ResultCode == "0":
		return domain.PaymentSuccessful, nil
	case resp.ResultCode == "":
		// A reply carrying neither a result nor an error code tells us
		// nothing about the payment.
		return domain.PaymentPending, fmt.Errorf("%w: malformed query response", payment.ErrTransport)
	default:
		// 1032 cancelled by user, 2001 wrong PIN, 1037 unreachable, etc.
		c.lg.Info("stk_query_declined",
			zap.String("result_code", resp.ResultCode),
			zap.String("result_desc", resp.ResultDesc))
		return domain.PaymentFailed, nil
	}
}

func (c *Client) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + ts))
}

// accessToken returns a cached OAuth token, fetching a fresh one when the
// cached one is within 30s of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExp.Add(-30*time.Second)) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", payment.ErrTransport, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token request: status %d", payment.ErrTransport, res.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: token decode: %v", payment.ErrTransport, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", payment.ErrTransport)
	}

	ttl := time.Hour
	if secs, err := time.ParseDuration(body.ExpiresIn + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	c.token = body.AccessToken
	c.tokenExp = c.now().Add(ttl)
	return c.token, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrTransport, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", payment.ErrTransport, err)
	}
	// Daraja reports application-level conditions inside 4xx and even 5xx
	// bodies ("still processing" ships as an HTTP 500 with errorCode
	// 500.001.1001), so a decodable body always wins over the status code.
	if err := json.Unmarshal(data, out); err != nil {
		if res.StatusCode >= 500 {
			return fmt.Errorf("%w: status %d", payment.ErrTransport, res.StatusCode)
		}
		return fmt.Errorf("%w: decode response: %v", payment.ErrTransport, err)
	}
	return nil
}

// truncate caps s at n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
