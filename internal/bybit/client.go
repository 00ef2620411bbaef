package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	recvWindow = "5000"

	maxRetries     = 2
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// Client is a signed Bybit v5 REST client
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	filters *filtersCache
}

// NewClient creates a new Client. API keys are trimmed because stray
// whitespace breaks signature generation.
func NewClient(apiKey, secretKey, baseURL string, logger zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "BybitClient").Logger(),
		filters:    newFiltersCache(5 * time.Minute),
	}
}

// sign computes the v5 request signature over ts + apiKey + recvWindow + payload
func (c *Client) sign(ts, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(ts + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// buildQuery renders params in stable key order, as the v5 signature requires
func buildQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// get performs a signed GET and unmarshals the result payload into out
func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	query := buildQuery(params)
	url := c.baseURL + path
	if query != "" {
		url += "?" + query
	}

	return c.do(ctx, http.MethodGet, url, query, nil, out)
}

// post performs a signed JSON POST and unmarshals the result payload into out
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, string(payload), payload, out)
}

func (c *Client) do(ctx context.Context, method, url, payload string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Refresh timestamp and signature for each attempt
		ts := fmt.Sprintf("%d", time.Now().UnixMilli())

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		req.Header.Set("X-BAPI-SIGN", c.sign(ts, payload))
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries && ctx.Err() == nil {
				delay := calculateRetryDelay(attempt)
				c.logger.Warn().Err(err).Str("method", method).Str("url", url).
					Int("attempt", attempt+1).Dur("retry_in", delay).
					Msg("Request failed, retrying")
				time.Sleep(delay)
				continue
			}
			return err
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("bybit: HTTP %d: %s", resp.StatusCode, string(raw))
			if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
				delay := calculateRetryDelay(attempt)
				c.logger.Warn().Int("status", resp.StatusCode).Str("method", method).
					Int("attempt", attempt+1).Dur("retry_in", delay).
					Msg("HTTP error, retrying")
				time.Sleep(delay)
				continue
			}
			return lastErr
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("error parsing response: %w", err)
		}
		if env.RetCode != 0 {
			// Venue rejection: never retried at transport level, the
			// engine owns any domain-level fallback.
			return &APIError{Code: env.RetCode, Msg: env.RetMsg}
		}
		if out != nil && len(env.Result) > 0 {
			if err := json.Unmarshal(env.Result, out); err != nil {
				return fmt.Errorf("error parsing result payload: %w", err)
			}
		}
		return nil
	}

	return lastErr
}

// isRetryableStatus reports whether an HTTP status is worth a transport retry
func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// calculateRetryDelay returns the exponential backoff delay for an attempt
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}
