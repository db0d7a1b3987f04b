// Package capture turns inbound webhook deliveries into persisted requests.
package capture

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/echohook/internal/logging"
	"github.com/rsclarke/echohook/internal/models"
	"github.com/rsclarke/echohook/internal/store"
)

// DefaultMaxBody is the largest body a capture will read.
const DefaultMaxBody int64 = 10 << 20

// SuccessMessage acknowledges a stored capture.
const SuccessMessage = "Webhook captured successfully"

// ErrBodyTooLarge is returned when a delivery exceeds the body limit.
var ErrBodyTooLarge = errors.New("Request body too large")

// Pipeline records webhook deliveries into bins.
type Pipeline struct {
	repo    *store.Repository
	logger  *zap.Logger
	maxBody int64
}

// New returns a Pipeline writing through repo. A non-positive maxBody uses
// DefaultMaxBody.
func New(repo *store.Repository, logger *zap.Logger, maxBody int64) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	return &Pipeline{repo: repo, logger: logger, maxBody: maxBody}
}

// Capture stores r as a new request in the bin binID and bumps the bin's
// counters. Bins are never created implicitly.
func (p *Pipeline) Capture(ctx context.Context, binID string, r *http.Request) (*models.CaptureResult, error) {
	if strings.TrimSpace(binID) == "" {
		return nil, store.ErrInvalidID
	}
	if _, err := p.repo.GetBin(ctx, binID); err != nil {
		return nil, err
	}

	req, err := p.materialize(binID, r)
	if err != nil {
		return nil, err
	}

	if _, err := p.repo.RecordCapture(ctx, req); err != nil {
		return nil, err
	}

	p.logger.Info("webhook captured",
		logging.BinID(binID),
		logging.RequestID(req.ID),
		logging.Method(req.Method),
		logging.RemoteIP(req.IPAddress),
		zap.Int("content_length", req.ContentLength))

	return &models.CaptureResult{
		BinID:     binID,
		RequestID: req.ID,
		Message:   SuccessMessage,
	}, nil
}

func (p *Pipeline) materialize(binID string, r *http.Request) (*models.CapturedRequest, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, p.maxBody+1))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, ErrBodyTooLarge
			}
			return nil, err
		}
		if int64(len(body)) > p.maxBody {
			return nil, ErrBodyTooLarge
		}
	}

	headers := FlattenHeaders(r)
	return &models.CapturedRequest{
		ID:            p.repo.NewID(),
		BinID:         binID,
		Method:        r.Method,
		URL:           requestURL(r),
		Headers:       headers,
		Body:          string(body),
		QueryParams:   flattenQuery(r),
		IPAddress:     ClientIP(headers, r.RemoteAddr),
		UserAgent:     headers["user-agent"],
		ContentType:   headers["content-type"],
		ContentLength: len(body),
		ReceivedAt:    p.repo.Now(),
	}, nil
}

// FlattenHeaders collapses r's headers into a map with lower-cased names.
// For repeated headers the last value wins. Host is included.
func FlattenHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[len(values)-1]
	}
	if r.Host != "" {
		out["host"] = r.Host
	}
	return out
}

func flattenQuery(r *http.Request) map[string]string {
	q := r.URL.Query()
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// ClientIP picks the delivering client's address: cf-connecting-ip, then
// x-forwarded-for, then the peer address.
func ClientIP(headers map[string]string, remoteAddr string) string {
	if ip := headers["cf-connecting-ip"]; ip != "" {
		return ip
	}
	if ip := headers["x-forwarded-for"]; ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
