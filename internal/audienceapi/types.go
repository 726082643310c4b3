package audienceapi

import "time"

// Config holds connection settings for the audience service API.
// When OAuthTokenURL is set and APIKey is empty, the client fetches
// bearer tokens via the client-credentials grant; otherwise it sends
// the static key headers.
type Config struct {
	BaseURL   string
	APIKey    string
	AccountID string
	ListID    string

	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	OAuthScopes       []string

	Timeout time.Duration
}

// ResponseMetadata is the envelope header on every API response
type ResponseMetadata struct {
	Error   bool   `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
	Total   string `json:"total,omitempty"`
}

// SubmitResult is the payload returned for a single accepted contact
type SubmitResult struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Existing bool   `json:"existing"`
	Created  int64  `json:"created,omitempty"`
}

// SubmitResponse wraps a single-contact submission
type SubmitResponse struct {
	Metadata ResponseMetadata `json:"metadata"`
	Payload  SubmitResult     `json:"payload"`
}

// BulkResult summarizes a bulk import call
type BulkResult struct {
	ImportID  string `json:"import_id"`
	Total     int    `json:"total"`
	Success   int    `json:"success"`
	Failed    int    `json:"failed"`
	Duplicate int    `json:"duplicate"`
}

// BulkResponse wraps a bulk import submission
type BulkResponse struct {
	Metadata ResponseMetadata `json:"metadata"`
	Payload  BulkResult       `json:"payload"`
}

// ListInfo describes a contact list on the remote service
type ListInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	TotalContacts int64  `json:"total_contacts"`
}

// ListResponse wraps a list lookup
type ListResponse struct {
	Metadata ResponseMetadata `json:"metadata"`
	Payload  ListInfo         `json:"payload"`
}

// contactRequest is the wire form of one subscriber record
type contactRequest struct {
	Email     string            `json:"email"`
	Fields    map[string]string `json:"fields,omitempty"`
	Overwrite bool              `json:"overwrite"`
}

// bulkRequest is the wire form of a bulk import
type bulkRequest struct {
	Contacts  []contactRequest `json:"contacts"`
	Overwrite bool             `json:"overwrite"`
}
