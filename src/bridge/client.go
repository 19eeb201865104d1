// Package bridge provisions remote trading-account proxies and
// reconciles their execution history into the trade store. The remote
// service hosts a proxy of the user's MT4/MT5 account so this backend
// never holds a live terminal session.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/username/tradelog/backend/src/models"
	"github.com/username/tradelog/backend/src/parsers/fields"
)

// ProvisionRequest carries the account metadata and credential needed
// to create a remote account proxy. The credential is forwarded to the
// remote service and never persisted here.
type ProvisionRequest struct {
	Platform    string `json:"platform"`
	Environment string `json:"type"`
	Server      string `json:"server"`
	Login       string `json:"login"`
	Credential  string `json:"password"`
}

// AccountState is the remote deployment state of an account proxy.
type AccountState string

const (
	StateDeploying    AccountState = "DEPLOYING"
	StateDeployed     AccountState = "DEPLOYED"
	StateDeployFailed AccountState = "DEPLOY_FAILED"
	StateUndeployed   AccountState = "UNDEPLOYED"
)

// AccountClient is the remote provisioning/history contract the import
// service depends on. Satisfied by Client; faked in tests.
type AccountClient interface {
	ProvisionAccount(ctx context.Context, req ProvisionRequest) (string, error)
	DeployAccount(ctx context.Context, accountID string) error
	GetAccountState(ctx context.Context, accountID string) (AccountState, error)
	UpdateAccountCredentials(ctx context.Context, accountID, credential string) error
	GetDeals(ctx context.Context, accountID string, from, to time.Time) ([]models.RawDeal, error)
}

// Client is a REST client for the remote account-proxy service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a remote-bridge client authenticating every request
// with the given API token.
func NewClient(baseURL, apiToken string, opts ...Option) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiToken})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = 30 * time.Second

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) request(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewAPIError(KindServerError, fmt.Sprintf("execute request: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewAPIError(KindServerError, fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := string(respBody)
		var errResp struct {
			Message string `json:"message"`
		}
		if jsonErr := json.Unmarshal(respBody, &errResp); jsonErr == nil && errResp.Message != "" {
			message = errResp.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Kind: statusToKind(resp.StatusCode), Message: message}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewAPIError(KindServerError, fmt.Sprintf("decode response: %v", err))
		}
	}
	return nil
}

// ProvisionAccount creates a remote account proxy and returns its id.
func (c *Client) ProvisionAccount(ctx context.Context, req ProvisionRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.request(ctx, http.MethodPost, "/users/current/accounts", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// DeployAccount requests deployment of a provisioned account proxy.
func (c *Client) DeployAccount(ctx context.Context, accountID string) error {
	return c.request(ctx, http.MethodPost, "/users/current/accounts/"+accountID+"/deploy", nil, nil)
}

// GetAccountState fetches the remote deployment state.
func (c *Client) GetAccountState(ctx context.Context, accountID string) (AccountState, error) {
	var resp struct {
		State AccountState `json:"state"`
	}
	if err := c.request(ctx, http.MethodGet, "/users/current/accounts/"+accountID, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// UpdateAccountCredentials pushes a changed credential to the proxy.
func (c *Client) UpdateAccountCredentials(ctx context.Context, accountID, credential string) error {
	body := map[string]string{"password": credential}
	return c.request(ctx, http.MethodPut, "/users/current/accounts/"+accountID, body, nil)
}

// remoteDeal is the wire shape of one execution fill from the remote
// history endpoint.
type remoteDeal struct {
	ID         string    `json:"id"`
	PositionID string    `json:"positionId"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"`
	EntryType  string    `json:"entryType"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Swap       float64   `json:"swap"`
	Time       time.Time `json:"time"`
}

// GetDeals fetches the execution fills inside one [from, to) window.
func (c *Client) GetDeals(ctx context.Context, accountID string, from, to time.Time) ([]models.RawDeal, error) {
	path := fmt.Sprintf("/users/current/accounts/%s/history-deals/time/%s/%s",
		accountID, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	var resp struct {
		Deals []remoteDeal `json:"deals"`
	}
	if err := c.request(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	deals := make([]models.RawDeal, 0, len(resp.Deals))
	for _, d := range resp.Deals {
		deals = append(deals, models.RawDeal{
			ExternalID:  d.ID,
			PositionKey: d.PositionID,
			Symbol:      d.Symbol,
			SideHint:    d.Type,
			Price:       d.Price,
			Volume:      d.Volume,
			Profit:      d.Profit,
			Commission:  d.Commission,
			Swap:        d.Swap,
			Timestamp:   d.Time,
			EntryMarker: fields.ParseEntryMarker(d.EntryType),
		})
	}
	return deals, nil
}
