// Package types defines the API request and response types.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rsclarke/echohook/internal/models"
)

// Envelope wraps every JSON response body.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Days is a day count that decodes from either a JSON number or a string.
// Decoding never fails on the value itself; interpretation is left to the
// token engine.
type Days string

func (d *Days) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Days(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expiresIn: %w", err)
	}
	*d = Days(n.String())
	return nil
}

// DaysOf returns n as a Days value.
func DaysOf(n int) Days { return Days(strconv.Itoa(n)) }

// CreateTokenRequest is the request body for POST /auth/token.
type CreateTokenRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	ExpiresIn   Days   `json:"expiresIn,omitempty"`
	DailyQuota  *int   `json:"dailyQuota,omitempty"`
}

// CreateBinRequest is the request body for POST /bins.
type CreateBinRequest struct {
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// UpdateBinRequest is the request body for PUT /bins/{binId}. A nil field
// is left unchanged; an empty Description clears it.
type UpdateBinRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// BinResponse is a bin plus the URL webhooks should be sent to.
type BinResponse struct {
	models.Bin
	CaptureURL string `json:"capture_url,omitempty"`
}

// CaptureResponse acknowledges a webhook delivery.
type CaptureResponse struct {
	Success   bool   `json:"success"`
	BinID     string `json:"bin_id"`
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// InfoResponse describes the running service.
type InfoResponse struct {
	Message        string            `json:"message"`
	Version        string            `json:"version"`
	Storage        string            `json:"storage"`
	Authentication string            `json:"authentication"`
	Endpoints      map[string]string `json:"endpoints"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}
