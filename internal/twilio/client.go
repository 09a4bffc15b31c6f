package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.twilio.com"

// Client talks to the Twilio Messages API for one account
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a Twilio client for the given account credentials
func NewClient(accountSID, authToken string) *Client {
	return NewClientWithBaseURL(defaultBaseURL, accountSID, authToken)
}

// NewClientWithBaseURL creates a client against a custom endpoint (for tests)
func NewClientWithBaseURL(baseURL, accountSID, authToken string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendParams are the fields of one outbound message submission
type SendParams struct {
	From           string
	To             string
	Body           string
	StatusCallback string
}

// Message is the provider's representation of an accepted message
type Message struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
}

// APIError is a non-2xx response from the Messages API
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
	HTTPStatus int    `json:"status"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio: error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("twilio: http %d: %s", e.HTTPStatus, e.Message)
}

// SendMessage submits one message and returns the provider's record.
// Acceptance is not delivery; delivery truth arrives via the status callback.
func (c *Client) SendMessage(ctx context.Context, params SendParams) (*Message, error) {
	form := url.Values{}
	form.Set("From", params.From)
	form.Set("To", params.To)
	form.Set("Body", params.Body)
	if params.StatusCallback != "" {
		form.Set("StatusCallback", params.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.HTTPStatus = resp.StatusCode
		return nil, apiErr
	}

	var message Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if message.SID == "" {
		return nil, fmt.Errorf("message sid missing in response")
	}

	return &message, nil
}
