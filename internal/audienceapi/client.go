// Package audienceapi is the client for the remote audience service
// that receives imported subscriber records.
package audienceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/list-loader/internal/domain"
	"github.com/ignite/list-loader/internal/pkg/httpretry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Client is the audience service API client
type Client struct {
	baseURL   string
	apiKey    string
	accountID string
	listID    string

	// Submissions get exactly one wire attempt per call: the executor
	// schedules retries with classified delays, and a retrying
	// transport underneath it would multiply the attempt budget.
	submitClient httpretry.HTTPDoer

	// Metadata reads are safe to retry transparently.
	readClient httpretry.HTTPDoer

	tokens oauth2.TokenSource
}

// NewClient creates a new audience service client
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:      strings.TrimRight(config.BaseURL, "/"),
		apiKey:       config.APIKey,
		accountID:    config.AccountID,
		listID:       config.ListID,
		submitClient: &http.Client{Timeout: timeout},
		readClient:   httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}

	if config.OAuthTokenURL != "" && config.APIKey == "" {
		cc := clientcredentials.Config{
			ClientID:     config.OAuthClientID,
			ClientSecret: config.OAuthClientSecret,
			TokenURL:     config.OAuthTokenURL,
			Scopes:       config.OAuthScopes,
		}
		c.tokens = cc.TokenSource(context.Background())
	}

	return c
}

// SetHTTPClient sets the client used for submissions (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.submitClient = client
}

// SetReadClient sets the client used for metadata reads (useful for testing)
func (c *Client) SetReadClient(client httpretry.HTTPDoer) {
	c.readClient = client
}

// ListID returns the list this client submits to.
func (c *Client) ListID() string {
	return c.listID
}

func (c *Client) setAuth(req *http.Request) error {
	if c.tokens == nil {
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("X-ACCOUNT-ID", c.accountID)
		return nil
	}

	tok, err := c.tokens.Token()
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return newAPIError(rerr.Response.StatusCode, rerr.Response.Header, rerr.Body)
		}
		return fmt.Errorf("fetch access token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

// doRequest performs an authenticated request against the audience API
func (c *Client) doRequest(ctx context.Context, doer httpretry.HTTPDoer, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if err := c.setAuth(req); err != nil {
		return nil, err
	}

	resp, err := doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, resp.Header, respBody)
	}

	return respBody, nil
}

// ========== Contact Methods ==========

// SubmitContact submits a single subscriber record to the configured
// list. Failures come back as *APIError whenever the service answered,
// so callers can classify them.
func (c *Client) SubmitContact(ctx context.Context, record domain.ImportRecord, overwrite bool) (*SubmitResult, error) {
	endpoint := fmt.Sprintf("/api/v1/lists/%s/contacts", c.listID)

	respBody, err := c.doRequest(ctx, c.submitClient, http.MethodPost, endpoint, contactFromRecord(record, overwrite))
	if err != nil {
		return nil, err
	}

	var response SubmitResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, protocolError(http.StatusOK, fmt.Sprintf("unparseable submit response: %v", err))
	}
	if response.Metadata.Error {
		return nil, protocolError(http.StatusOK, response.Metadata.Message)
	}

	return &response.Payload, nil
}

// SubmitBulk submits a batch of records through the bulk import
// endpoint in a single call. The pipeline itself submits record by
// record; this path serves oversized backfills where per-record
// acknowledgements are not needed.
func (c *Client) SubmitBulk(ctx context.Context, records []domain.ImportRecord, overwrite bool) (*BulkResult, error) {
	endpoint := fmt.Sprintf("/api/v1/lists/%s/contacts/bulk", c.listID)

	payload := bulkRequest{
		Contacts:  make([]contactRequest, 0, len(records)),
		Overwrite: overwrite,
	}
	for _, record := range records {
		payload.Contacts = append(payload.Contacts, contactFromRecord(record, overwrite))
	}

	respBody, err := c.doRequest(ctx, c.submitClient, http.MethodPost, endpoint, payload)
	if err != nil {
		return nil, err
	}

	var response BulkResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, protocolError(http.StatusOK, fmt.Sprintf("unparseable bulk response: %v", err))
	}
	if response.Metadata.Error {
		return nil, protocolError(http.StatusOK, response.Metadata.Message)
	}

	return &response.Payload, nil
}

// ========== List Methods ==========

// GetList retrieves metadata for the configured list
func (c *Client) GetList(ctx context.Context) (*ListInfo, error) {
	endpoint := fmt.Sprintf("/api/v1/lists/%s", c.listID)

	respBody, err := c.doRequest(ctx, c.readClient, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var response ListResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, protocolError(http.StatusOK, fmt.Sprintf("unparseable list response: %v", err))
	}
	if response.Metadata.Error {
		return nil, protocolError(http.StatusOK, response.Metadata.Message)
	}

	return &response.Payload, nil
}

// Ping verifies connectivity and credentials before a session starts
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, c.readClient, http.MethodGet, "/api/v1/ping", nil)
	return err
}

// contactFromRecord flattens a record into the wire shape, keeping only
// populated fields.
func contactFromRecord(record domain.ImportRecord, overwrite bool) contactRequest {
	fields := make(map[string]string)
	for _, name := range domain.CanonicalFieldNames {
		if name == "email" {
			continue
		}
		if v := record.Field(name); v != "" {
			fields[name] = v
		}
	}
	for k, v := range record.Extra {
		if v != "" {
			fields[k] = v
		}
	}

	return contactRequest{
		Email:     record.Email,
		Fields:    fields,
		Overwrite: overwrite,
	}
}
