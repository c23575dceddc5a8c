package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fitforge-ai/fitforge/pkg/models"
)

// UpstreamClient calls the chat-completions research API.
type UpstreamClient interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
}

// HTTPUpstream is the production UpstreamClient.
type HTTPUpstream struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewUpstream creates an HTTPUpstream for the given API endpoint.
func NewUpstream(baseURL, apiKey string, timeout time.Duration) *HTTPUpstream {
	return &HTTPUpstream{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete sends one completion request and classifies any failure into the
// gateway error taxonomy.
func (u *HTTPUpstream) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindAPI, Message: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindAPI, Message: "create request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		kind := KindNetwork
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = KindTimeout
		}
		return nil, &Error{Kind: kind, Message: "upstream request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "read response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var completion models.CompletionResponse
		if err := json.Unmarshal(respBody, &completion); err != nil {
			return nil, &Error{Kind: KindAPI, Status: resp.StatusCode, Message: "decode response", Err: err}
		}
		return &completion, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimit,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    "upstream rate limited",
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &Error{Kind: KindAuth, Status: resp.StatusCode, Message: "upstream rejected credentials"}

	case resp.StatusCode >= 500:
		return nil, &Error{
			Kind:       KindServerError,
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    fmt.Sprintf("upstream server error: %s", truncate(respBody, 256)),
		}

	default:
		return nil, &Error{
			Kind:    KindAPI,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("upstream error: %s", truncate(respBody, 256)),
		}
	}
}

// parseRetryAfter reads a Retry-After header as delta-seconds or an HTTP
// date. Returns zero when absent or unparseable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
