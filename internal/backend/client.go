// ABOUTME: HTTP client for the portal backend: token issuance, topic registration, inbound webhook
// ABOUTME: All calls are JSON POSTs; non-2xx responses become *StatusError

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrNoToken is returned when the token endpoint answers without a token.
var ErrNoToken = errors.New("token endpoint returned no token")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL          string
	TokenPath        string
	SubscriptionPath string
	WebhookURL       string
	Timeout          time.Duration
	HTTPClient       *http.Client
	Logger           *slog.Logger
}

// Client talks to the portal backend.
type Client struct {
	baseURL          string
	tokenPath        string
	subscriptionPath string
	webhookURL       string
	client           *http.Client
	logger           *slog.Logger
}

// New creates a backend client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokenPath := opts.TokenPath
	if tokenPath == "" {
		tokenPath = "/auth/chat-token"
	}
	subscriptionPath := opts.SubscriptionPath
	if subscriptionPath == "" {
		subscriptionPath = "/chat/subscriptions"
	}
	return &Client{
		baseURL:          strings.TrimSuffix(opts.BaseURL, "/"),
		tokenPath:        tokenPath,
		subscriptionPath: subscriptionPath,
		webhookURL:       opts.WebhookURL,
		client:           httpClient,
		logger:           logger.With("component", "backend"),
	}
}

type tokenRequest struct {
	ClientID string `json:"client_id"`
}

type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// IssueToken asks the token endpoint for a session token.
func (c *Client) IssueToken(ctx context.Context, clientID string) (string, error) {
	var resp tokenResponse
	if err := c.post(ctx, c.baseURL+c.tokenPath, "", tokenRequest{ClientID: clientID}, &resp); err != nil {
		return "", fmt.Errorf("issuing token: %w", err)
	}
	token := resp.Token
	if token == "" {
		token = resp.AccessToken
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

type subscriptionRequest struct {
	Topic string `json:"topic"`
}

// RegisterSubscription tells the backend which topic the client listens on.
func (c *Client) RegisterSubscription(ctx context.Context, bearer, topic string) error {
	if err := c.post(ctx, c.baseURL+c.subscriptionPath, bearer, subscriptionRequest{Topic: topic}, nil); err != nil {
		return fmt.Errorf("registering subscription: %w", err)
	}
	c.logger.Debug("subscription registered", "topic", topic)
	return nil
}

// PostInbound delivers an outbound envelope to the inbound webhook.
func (c *Client) PostInbound(ctx context.Context, bearer string, envelope any) error {
	if err := c.post(ctx, c.webhookURL, bearer, envelope, nil); err != nil {
		return fmt.Errorf("posting to inbound webhook: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url, bearer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleErrorResponse extracts an error message from non-2xx responses.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var e errorBody
		if json.Unmarshal(body, &e) == nil {
			if e.Error != "" {
				return &StatusError{Code: resp.StatusCode, Message: e.Error}
			}
			if e.Message != "" {
				return &StatusError{Code: resp.StatusCode, Message: e.Message}
			}
		}
	}

	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
