// Package twilio is a minimal client for the parts of the Twilio Voice API the
// gateway uses: call creation/update, webhook signatures, TwiML and Media
// Streams frames.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const DefaultBaseURL = "https://api.twilio.com"

// StatusCallbackEvents are the call progress events the gateway subscribes to.
var StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string

	// Timeout bounds a single HTTP attempt.
	Timeout    time.Duration
	MaxRetries int
	// RetryBase is the first backoff step; it doubles per attempt.
	RetryBase  time.Duration
	HTTPClient *http.Client
}

type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 250 * time.Millisecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		accountSID: strings.TrimSpace(cfg.AccountSID),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: max(0, cfg.MaxRetries),
		retryBase:  retryBase,
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.accountSID != "" && c.authToken != ""
}

// APIError is a non-2xx response from the Twilio REST API.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio error (status %d, code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio error (status %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type CallResource struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	To        string `json:"to"`
	From      string `json:"from"`
	Direction string `json:"direction"`
}

type CreateCallParams struct {
	To             string
	From           string
	URL            string
	StatusCallback string
	Record         bool
	// RecordingStatusCallback is only sent when Record is true.
	RecordingStatusCallback string
	// Timeout is the ring timeout in seconds; zero leaves Twilio's default.
	Timeout int
}

func (p CreateCallParams) form() (url.Values, error) {
	if strings.TrimSpace(p.To) == "" {
		return nil, errors.New("to is required")
	}
	if strings.TrimSpace(p.From) == "" {
		return nil, errors.New("from is required")
	}
	if strings.TrimSpace(p.URL) == "" {
		return nil, errors.New("url is required")
	}
	v := url.Values{}
	v.Set("To", p.To)
	v.Set("From", p.From)
	v.Set("Url", p.URL)
	v.Set("Method", http.MethodPost)
	if p.StatusCallback != "" {
		v.Set("StatusCallback", p.StatusCallback)
		v.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range StatusCallbackEvents {
			v.Add("StatusCallbackEvent", ev)
		}
	}
	if p.Record {
		v.Set("Record", "true")
		if p.RecordingStatusCallback != "" {
			v.Set("RecordingStatusCallback", p.RecordingStatusCallback)
			v.Set("RecordingStatusCallbackMethod", http.MethodPost)
		}
	}
	if p.Timeout > 0 {
		v.Set("Timeout", strconv.Itoa(p.Timeout))
	}
	return v, nil
}

// CreateCall places an outbound call. Transport errors are not retried here
// since the call may already have been placed.
func (c *Client) CreateCall(ctx context.Context, p CreateCallParams) (*CallResource, error) {
	form, err := p.form()
	if err != nil {
		return nil, err
	}
	return c.callsRequest(ctx, c.callsPath(""), form, false)
}

// HangUp ends an in-progress call.
func (c *Client) HangUp(ctx context.Context, callSID string) (*CallResource, error) {
	if strings.TrimSpace(callSID) == "" {
		return nil, errors.New("call sid is required")
	}
	form := url.Values{}
	form.Set("Status", "completed")
	return c.callsRequest(ctx, c.callsPath(callSID), form, true)
}

// Redirect replaces the call's current TwiML.
func (c *Client) Redirect(ctx context.Context, callSID, twiml string) (*CallResource, error) {
	if strings.TrimSpace(callSID) == "" {
		return nil, errors.New("call sid is required")
	}
	if strings.TrimSpace(twiml) == "" {
		return nil, errors.New("twiml is required")
	}
	form := url.Values{}
	form.Set("Twiml", twiml)
	return c.callsRequest(ctx, c.callsPath(callSID), form, true)
}

func (c *Client) callsPath(callSID string) string {
	p := "/2010-04-01/Accounts/" + url.PathEscape(c.accountSID) + "/Calls"
	if callSID != "" {
		p += "/" + url.PathEscape(callSID)
	}
	return p + ".json"
}

func (c *Client) callsRequest(ctx context.Context, path string, form url.Values, retryTransport bool) (*CallResource, error) {
	if !c.Configured() {
		return nil, errors.New("twilio credentials are not configured")
	}

	backoff := retry.NewExponential(c.retryBase)
	backoff = retry.WithCappedDuration(5*time.Second, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(c.maxRetries), backoff)

	var out CallResource
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.postForm(ctx, path, form, &out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.Temporary() {
				return retry.RetryableError(err)
			}
			return err
		}
		if retryTransport && isTransportError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func isTransportError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Per-attempt timeout; the parent context is checked by retry.Do.
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
