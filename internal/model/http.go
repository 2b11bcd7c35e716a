package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/andywolf/gamepilot/internal/metrics"
	"github.com/andywolf/gamepilot/internal/version"
)

// maxErrorBody is how much of an error response body is kept.
const maxErrorBody = 500

// Config configures an HTTPClient.
type Config struct {
	Endpoint          string
	Model             string
	MaxTokens         int
	Temperature       float64
	Timeout           time.Duration
	RequestsPerMinute int // 0 disables pacing
}

// APIError is a non-2xx reply from the model endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient calls an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	cfg        Config
	auth       Authorizer
	limiter    *rate.Limiter
	httpClient *http.Client
}

// NewHTTPClient creates a client. auth may be nil for endpoints that need no
// credentials.
func NewHTTPClient(cfg Config, auth Authorizer) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("model endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &HTTPClient{
		cfg:        cfg,
		auth:       auth,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return c, nil
}

// HasCredentials reports whether the client can authorize requests.
func (c *HTTPClient) HasCredentials() bool {
	if c.auth == nil {
		return false
	}
	_, err := c.auth.Authorization()
	return err == nil
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	kind := req.Kind
	if kind == "" {
		kind = KindCycle
	}
	start := time.Now()
	reply, status, err := c.complete(ctx, req)
	metrics.ModelCallDuration.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
	return reply, err
}

func (c *HTTPClient) complete(ctx context.Context, req Request) (string, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", "rate_limited", fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := c.encode(req)
	if err != nil {
		return "", "encode_error", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.Endpoint, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "request_error", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if c.auth != nil {
		authz, err := c.auth.Authorization()
		if err != nil {
			return "", "auth_error", fmt.Errorf("failed to authorize model request: %w", err)
		}
		httpReq.Header.Set("Authorization", authz)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "transport_error", fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", status, &APIError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", status, fmt.Errorf("failed to decode model response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", status, errors.New("model response has no choices")
	}
	return cr.Choices[0].Message.Content, status, nil
}

func (c *HTTPClient) encode(req Request) ([]byte, error) {
	parts := []contentPart{{Type: "text", Text: req.User}}
	if req.Image != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, req.Image); err != nil {
			return nil, fmt.Errorf("failed to encode frame: %w", err)
		}
		parts = append(parts, contentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())},
		})
	}

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: parts})

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal model request: %w", err)
	}
	return body, nil
}
