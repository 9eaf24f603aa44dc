package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, upstream *httptest.Server) *Client {
	t.Helper()
	client := NewClient(Config{
		APIKey:  "test-key",
		BaseURL: upstream.URL,
		Model:   "gemini-test",
		Timeout: 5 * time.Second,
	}, zap.NewNop())
	return client
}

// collect drains both channels and returns everything delivered.
func collect(chunks <-chan GenerateChunk, errs <-chan error) ([]GenerateChunk, error) {
	var got []GenerateChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	return got, <-errs
}

func sseFrame(t *testing.T, chunk GenerateChunk) string {
	t.Helper()
	data, err := json.Marshal(chunk)
	require.NoError(t, err)
	return fmt.Sprintf("data: %s\n\n", data)
}

func textFrame(t *testing.T, text string) string {
	return sseFrame(t, GenerateChunk{Candidates: []Candidate{{
		Content: Content{Parts: []Part{{Text: text}}},
	}}})
}

func TestStreamGenerateContent(t *testing.T) {
	var gotReq GenerateRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, textFrame(t, "Hello"))
		fmt.Fprint(w, textFrame(t, " world"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(context.Background(), "say hello", true)
	got, err := collect(chunks, errs)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Hello", got[0].Parts()[0].Text)
	assert.Equal(t, " world", got[1].Parts()[0].Text)

	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "user", gotReq.Contents[0].Role)
	assert.Equal(t, "say hello", gotReq.Contents[0].Parts[0].Text)
	require.Len(t, gotReq.Tools, 1)
	assert.NotNil(t, gotReq.Tools[0].CodeExecution)
}

func TestStreamCodeExecutionDisabled(t *testing.T) {
	var gotReq GenerateRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(context.Background(), "chat", false)
	_, err := collect(chunks, errs)
	require.NoError(t, err)
	assert.Empty(t, gotReq.Tools)
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
		fmt.Fprint(w, ": comment line\n\n")
		fmt.Fprint(w, textFrame(t, "ok"))
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(context.Background(), "p", false)
	got, err := collect(chunks, errs)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Parts()[0].Text)
}

func TestStreamAPIErrorChunk(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, textFrame(t, "partial"))
		fmt.Fprint(w, `data: {"error": {"code": 500, "message": "model overloaded", "status": "UNAVAILABLE"}}`+"\n\n")
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(context.Background(), "p", false)
	got, err := collect(chunks, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
	require.Len(t, got, 1)
}

func TestStreamNonOKStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "invalid key"}}`, http.StatusForbidden)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(context.Background(), "p", false)
	_, err := collect(chunks, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestStreamFailsWithoutRetry(t *testing.T) {
	// A failed call is never re-issued; the caller decides whether to retry.
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(context.Background(), "p", false)
	got, err := collect(chunks, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Empty(t, got)
	assert.Equal(t, 1, calls)
}

func TestStreamMissingAPIKey(t *testing.T) {
	client := NewClient(Config{Model: "gemini-test"}, zap.NewNop())
	chunks, errs := client.StreamGenerateContent(context.Background(), "p", false)
	_, err := collect(chunks, errs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestStreamContextCancelled(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, textFrame(t, "first"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer upstream.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, upstream)
	chunks, errs := client.StreamGenerateContent(ctx, "p", false)

	first := <-chunks
	assert.Equal(t, "first", first.Parts()[0].Text)
	cancel()

	for range chunks {
	}
	err := <-errs
	require.Error(t, err)
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{APIKey: "k"}, zap.NewNop())
	assert.Equal(t, "gemini-3-pro-preview", client.Model())
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", client.baseURL)
	assert.Equal(t, 10*time.Minute, client.httpClient.Timeout)
}
