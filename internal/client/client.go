// Package client is a Go client for the echohook API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rsclarke/echohook/internal/auth"
	"github.com/rsclarke/echohook/internal/models"
	"github.com/rsclarke/echohook/internal/types"
)

type Client struct {
	BaseURL    string
	APIKey     string
	AdminKey   string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return req, nil
}

// call sends req and decodes the envelope's data into out when out is
// non-nil. It returns the envelope message.
func (c *Client) call(req *http.Request, want int, out any) (string, error) {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return "", parseError(resp)
	}

	var env types.Envelope[json.RawMessage]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", err
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", err
		}
	}
	return env.Message, nil
}

func (c *Client) CreateToken(ctx context.Context, in types.CreateTokenRequest) (*models.TokenCreation, error) {
	req, err := c.newRequest(ctx, "POST", "/auth/token", in)
	if err != nil {
		return nil, err
	}
	req.Header.Set(auth.AdminHeader, c.AdminKey)

	var result models.TokenCreation
	if _, err := c.call(req, http.StatusCreated, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListTokens(ctx context.Context) ([]models.TokenListing, error) {
	req, err := c.newRequest(ctx, "GET", "/auth/tokens", nil)
	if err != nil {
		return nil, err
	}
	var result []models.TokenListing
	if _, err := c.call(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) DeleteToken(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, "DELETE", "/auth/tokens/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	_, err = c.call(req, http.StatusOK, nil)
	return err
}

func (c *Client) ListBins(ctx context.Context) ([]types.BinResponse, error) {
	req, err := c.newRequest(ctx, "GET", "/bins", nil)
	if err != nil {
		return nil, err
	}
	var result []types.BinResponse
	if _, err := c.call(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) CreateBin(ctx context.Context, in types.CreateBinRequest) (*types.BinResponse, error) {
	req, err := c.newRequest(ctx, "POST", "/bins", in)
	if err != nil {
		return nil, err
	}
	var result types.BinResponse
	if _, err := c.call(req, http.StatusCreated, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetBin(ctx context.Context, id string) (*types.BinResponse, error) {
	req, err := c.newRequest(ctx, "GET", "/bins/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var result types.BinResponse
	if _, err := c.call(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) UpdateBin(ctx context.Context, id string, in types.UpdateBinRequest) (*types.BinResponse, error) {
	req, err := c.newRequest(ctx, "PUT", "/bins/"+url.PathEscape(id), in)
	if err != nil {
		return nil, err
	}
	var result types.BinResponse
	if _, err := c.call(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeleteBin(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, "DELETE", "/bins/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	_, err = c.call(req, http.StatusOK, nil)
	return err
}

func (c *Client) ListRequests(ctx context.Context, binID string) ([]models.CapturedRequest, error) {
	req, err := c.newRequest(ctx, "GET", "/bins/"+url.PathEscape(binID)+"/requests", nil)
	if err != nil {
		return nil, err
	}
	var result []models.CapturedRequest
	if _, err := c.call(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Send delivers a webhook to a bin. It needs no credentials.
func (c *Client) Send(ctx context.Context, binID, method, contentType string, body []byte) (*types.CaptureResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+"/webhook/"+url.PathEscape(binID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	var result types.CaptureResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("request failed with status %d", resp.StatusCode)}
	}

	var errResp types.Envelope[json.RawMessage]
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
}
