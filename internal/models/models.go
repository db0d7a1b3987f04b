// Package models defines the persisted entity types.
package models

import "time"

// Bin is a named container for captured webhook requests.
type Bin struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   *string    `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	RequestCount  int        `json:"request_count"`
	LastRequestAt *time.Time `json:"last_request_at,omitempty"`
}

// CapturedRequest is an immutable record of one request delivered to a bin.
type CapturedRequest struct {
	ID            string            `json:"id"`
	BinID         string            `json:"bin_id"`
	Method        string            `json:"method"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers"`
	Body          string            `json:"body"`
	QueryParams   map[string]string `json:"query_params"`
	IPAddress     string            `json:"ip_address,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int               `json:"content_length"`
	ReceivedAt    time.Time         `json:"received_at"`
}

// APIToken is the full internal record of a bearer token.
type APIToken struct {
	ID             string     `json:"id"`
	Token          string     `json:"token"`
	Name           string     `json:"name,omitempty"`
	Description    string     `json:"description,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	DailyQuota     int        `json:"daily_quota,omitempty"`
	UsageCount     int        `json:"usage_count"`
	UsageResetDate string     `json:"usage_reset_date,omitempty"`
	TotalRequests  int64      `json:"total_requests"`
}

// TokenCreation is returned once, at issuance. It carries the full secret
// and none of the usage accounting.
type TokenCreation struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// TokenListing is the display-safe view used when enumerating tokens.
type TokenListing struct {
	ID          string     `json:"id"`
	Token       string     `json:"token"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// TokenIdentity is what a successful validation yields.
type TokenIdentity struct {
	TokenID string `json:"tokenId"`
	Name    string `json:"name"`
}

// CaptureResult acknowledges a captured webhook.
type CaptureResult struct {
	BinID     string `json:"bin_id"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}
