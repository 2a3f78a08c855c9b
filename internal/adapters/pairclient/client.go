// Package pairclient talks to a running msd server on behalf of the CLI.
package pairclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/multisession/internal/domain"
)

const (
	maxResponseBytes      = 1 << 20
	defaultRequestTimeout = 90 * time.Second
	tokenHeader           = "X-Pairing-Token"
)

var ErrUnauthorized = errors.New("pairing token rejected by server")

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// RequestTimeout bounds calls made without a caller deadline. It must
	// exceed the server's pairing timeout.
	RequestTimeout time.Duration
}

type Health struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version"`
}

type codeResponse struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type sessionResponse struct {
	ID                   string     `json:"id"`
	State                string     `json:"state"`
	Registered           bool       `json:"registered"`
	Account              string     `json:"account"`
	RetryCount           int        `json:"retry_count"`
	LastDisconnectReason string     `json:"last_disconnect_reason"`
	ConnectedAt          *time.Time `json:"connected_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// RequestCode asks the server for a pairing code. Server outcomes come back
// as the matching domain errors.
func (c Client) RequestCode(ctx context.Context, number string) (string, error) {
	endpoint, err := buildAPIURL(c.BaseURL, "/get-pair-code")
	if err != nil {
		return "", err
	}
	endpoint += "?" + url.Values{"number": {number}}.Encode()

	resp, err := c.get(ctx, endpoint, "request pairing code")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("request pairing code: %w", decodeError(resp))
	}

	var payload codeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode pairing response: %w", err)
	}
	if payload.Code == "" {
		return "", errors.New("pairing response missing code")
	}

	return payload.Code, nil
}

func (c Client) Sessions(ctx context.Context) ([]domain.SessionStatus, error) {
	endpoint, err := buildAPIURL(c.BaseURL, "/sessions")
	if err != nil {
		return nil, err
	}

	resp, err := c.get(ctx, endpoint, "list sessions")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: %w", decodeError(resp))
	}

	var payload sessionsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sessions response: %w", err)
	}

	statuses := make([]domain.SessionStatus, 0, len(payload.Sessions))
	for _, s := range payload.Sessions {
		status := domain.SessionStatus{
			ID:                   domain.SessionID(s.ID),
			State:                domain.SessionState(s.State),
			Registered:           s.Registered,
			Account:              s.Account,
			RetryCount:           s.RetryCount,
			LastDisconnectReason: domain.DisconnectReason(s.LastDisconnectReason),
			UpdatedAt:            s.UpdatedAt,
		}
		if s.ConnectedAt != nil {
			status.ConnectedAt = *s.ConnectedAt
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

func (c Client) Health(ctx context.Context) (Health, error) {
	endpoint, err := buildAPIURL(c.BaseURL, "/healthz")
	if err != nil {
		return Health{}, err
	}

	resp, err := c.get(ctx, endpoint, "check health")
	if err != nil {
		return Health{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Health{}, fmt.Errorf("check health: %w", decodeError(resp))
	}

	var health Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&health); err != nil {
		return Health{}, fmt.Errorf("decode health response: %w", err)
	}
	return health, nil
}

func (c Client) get(ctx context.Context, endpoint string, action string) (*http.Response, error) {
	requestCtx, cancel := c.requestContext(ctx)

	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create %s request: %w", action, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set(tokenHeader, c.Token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s: %w", action, err)
	}

	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	requestTimeout := c.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}

	return context.WithTimeout(ctx, requestTimeout)
}

func decodeError(resp *http.Response) error {
	var payload errorResponse
	message := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err == nil {
		message = payload.Error
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = domain.ErrInvalidIdentifier
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusConflict:
		sentinel = domain.ErrAlreadyRegistered
		if strings.Contains(message, domain.ErrPairingInProgress.Error()) {
			sentinel = domain.ErrPairingInProgress
		}
	case http.StatusBadGateway:
		sentinel = domain.ErrPairingFailed
	case http.StatusGatewayTimeout:
		sentinel = domain.ErrTimeout
	case http.StatusServiceUnavailable:
		sentinel = domain.ErrRegistryClosed
	default:
		if message == "" {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, message)
	}

	if message == "" || message == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w (%s)", sentinel, message)
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("server url is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("server url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("server url host is required")
	}

	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}
