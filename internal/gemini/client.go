// Package gemini is a thin REST client for the Gemini streamGenerateContent
// API. It exposes the upstream response as a channel of typed chunks; the
// relay layer decides what to do with them.
package gemini

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Client talks to the Gemini API for one configured model.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger

	// Built-in tools
	enableGoogleSearch bool
	enableURLContext   bool

	mu          sync.Mutex
	lastRequest time.Time
}

// DefaultConfig returns sensible defaults. Large prompts with code execution
// need an extended timeout.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:  apiKey,
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Model:   "gemini-3-pro-preview",
		Timeout: 10 * time.Minute,
	}
}

// NewClient creates a Gemini client with the given config.
func NewClient(config Config, logger *zap.Logger) *Client {
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = "gemini-3-pro-preview"
	}
	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:             logger,
		enableGoogleSearch: config.EnableGoogleSearch,
		enableURLContext:   config.EnableURLContext,
	}
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// buildTools assembles the tool list for a request.
func (c *Client) buildTools(enableCodeExecution bool) []Tool {
	var tools []Tool
	if enableCodeExecution {
		tools = append(tools, Tool{CodeExecution: &CodeExecution{}})
	}
	if c.enableGoogleSearch {
		tools = append(tools, Tool{GoogleSearch: &GoogleSearch{}})
	}
	if c.enableURLContext {
		tools = append(tools, Tool{URLContext: &URLContext{}})
	}
	return tools
}

// spaceRequests enforces a minimum gap between outgoing requests.
func (c *Client) spaceRequests() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// StreamGenerateContent sends a prompt and streams the response back as
// typed chunks. The returned channels are closed when the stream ends; at
// most one error is delivered. Cancel the context to abort the stream.
func (c *Client) StreamGenerateContent(ctx context.Context, prompt string, enableCodeExecution bool) (<-chan GenerateChunk, <-chan error) {
	chunkChan := make(chan GenerateChunk, 16)
	errorChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errorChan)

		// Auto-apply timeout if the context has no deadline.
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
			defer cancel()
		}

		startTime := time.Now()

		if c.apiKey == "" {
			errorChan <- fmt.Errorf("API key not configured")
			return
		}

		c.spaceRequests()

		reqBody := GenerateRequest{
			Contents: []Content{
				{
					Role:  "user",
					Parts: []Part{{Text: prompt}},
				},
			},
			GenerationConfig: GenerationConfig{
				Temperature: 1.0,
			},
			Tools: c.buildTools(enableCodeExecution),
		}

		url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errorChan <- fmt.Errorf("failed to marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
		if err != nil {
			errorChan <- fmt.Errorf("failed to create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		// One attempt only. A failed call is the caller's to re-issue.
		resp, err := c.httpClient.Do(req)
		if err != nil {
			errorChan <- fmt.Errorf("request failed: %w", err)
			return
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			errorChan <- fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			return
		}

		err = c.scanStream(ctx, resp.Body, chunkChan)
		resp.Body.Close()
		if err != nil {
			c.logger.Error("gemini stream failed",
				zap.Duration("elapsed", time.Since(startTime)),
				zap.Error(err))
			errorChan <- err
			return
		}

		c.logger.Debug("gemini stream completed",
			zap.String("model", c.model),
			zap.Duration("elapsed", time.Since(startTime)))
	}()

	return chunkChan, errorChan
}

// scanStream reads SSE frames off the response body and forwards parsed
// chunks. Returns nil on clean stream end.
func (c *Client) scanStream(ctx context.Context, body io.Reader, chunkChan chan<- GenerateChunk) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk GenerateChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed frame; skip rather than kill the stream.
			c.logger.Warn("gemini stream: unparseable frame", zap.Error(err))
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("API error: %s", chunk.Error.Message)
		}

		select {
		case chunkChan <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream error: %w", err)
	}
	return nil
}
