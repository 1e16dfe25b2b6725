// ABOUTME: HTTP client for the Remote Gateway REST API
// ABOUTME: Maps transport and status failures onto the shared error taxonomy
package gateway

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

	"github.com/harperreed/vendas/models"
	"go.uber.org/zap"
)

// DefaultTimeout caps any single request that has no deadline of its own.
const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to the Remote Gateway.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a client for the gateway at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q", baseURL)
	}

	c := &Client{
		baseURL: u.String(),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("gateway")
	return c, nil
}

type submitResponse struct {
	ServerID int64 `json:"serverId"`
}

// SubmitOrder posts one order. A replay of an already accepted local id
// returns the original server id.
func (c *Client) SubmitOrder(ctx context.Context, sub models.Submission) (int64, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/orders", sub, &resp); err != nil {
		return 0, err
	}
	if resp.ServerID <= 0 {
		return 0, fmt.Errorf("gateway accepted order %s without a server id", sub.LocalID)
	}
	c.logger.Debug("order accepted", zap.String("local_id", sub.LocalID), zap.Int64("server_id", resp.ServerID))
	return resp.ServerID, nil
}

type approvalRegistration struct {
	ID            string             `json:"id"`
	OrderID       string             `json:"orderId"`
	CompanyID     string             `json:"companyId"`
	Violations    []models.Violation `json:"violations"`
	Justification string             `json:"justification"`
	ApproverID    string             `json:"approverId"`
	RequesterID   string             `json:"requesterId"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// RegisterApproval sends a locally created approval request to the server.
func (c *Client) RegisterApproval(ctx context.Context, req models.ApprovalRequest) error {
	body := approvalRegistration{
		ID:            req.ID,
		OrderID:       req.OrderID,
		CompanyID:     req.CompanyID,
		Violations:    req.Violations,
		Justification: req.Justification,
		ApproverID:    req.ApproverID,
		RequesterID:   req.RequesterID,
		CreatedAt:     req.CreatedAt,
	}
	return c.do(ctx, http.MethodPost, "/orders/approvals", body, nil)
}

// GetApproval fetches the server's view of an approval request.
func (c *Client) GetApproval(ctx context.Context, id string) (models.ApprovalState, error) {
	var state models.ApprovalState
	err := c.do(ctx, http.MethodGet, "/orders/approvals/"+url.PathEscape(id), nil, &state)
	var remote *models.RemoteError
	if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
		return state, fmt.Errorf("approval %s: %w", id, models.ErrNotFound)
	}
	return state, err
}

type approvalResponse struct {
	Status        models.ApprovalStatus `json:"status"`
	Justification string                `json:"justification,omitempty"`
}

// RespondApproval answers an approval request. A request already answered
// returns models.ErrAlreadyResponded.
func (c *Client) RespondApproval(ctx context.Context, id string, status models.ApprovalStatus, justification string) (models.ApprovalState, error) {
	var state models.ApprovalState
	err := c.do(ctx, http.MethodPatch, "/orders/approvals/"+url.PathEscape(id),
		approvalResponse{Status: status, Justification: justification}, &state)

	var remote *models.RemoteError
	if errors.As(err, &remote) {
		switch remote.StatusCode {
		case http.StatusConflict:
			return state, fmt.Errorf("%w: %s", models.ErrAlreadyResponded, remote.Message)
		case http.StatusNotFound:
			return state, fmt.Errorf("approval %s: %w", id, models.ErrNotFound)
		}
	}
	return state, err
}

// FetchReference returns the raw JSON array of one reference entity for a company.
func (c *Client) FetchReference(ctx context.Context, entity, companyID string) ([]byte, error) {
	path := "/reference/" + url.PathEscape(entity) + "?companyId=" + url.QueryEscape(companyID)
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Health reports whether the gateway answers its liveness probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

type errorBody struct {
	Error string `json:"error"`
}

// do performs one request. Transport failures, timeouts, and 5xx become
// models.ErrNetworkUnavailable; 401 becomes models.ErrUnauthenticated; other
// 4xx become *models.RemoteError carrying the server's message.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s timed out: %w", models.ErrNetworkUnavailable, method, path, context.DeadlineExceeded)
		}
		return fmt.Errorf("%w: %s %s: %v", models.ErrNetworkUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	message := readErrorMessage(resp)
	c.logger.Debug("gateway error", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.String("message", message))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", models.ErrUnauthenticated, message)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: gateway returned %d: %s", models.ErrNetworkUnavailable, resp.StatusCode, message)
	default:
		return &models.RemoteError{StatusCode: resp.StatusCode, Message: message}
	}
}

func readErrorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
