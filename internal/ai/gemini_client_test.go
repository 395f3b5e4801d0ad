package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/retry"
)

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		BaseDelay:      time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		AttemptTimeout: 2 * time.Second,
	}
}

const okBody = `{
	"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ph\":\"7.41\"}"}]},"finishReason":"STOP"}],
	"usageMetadata":{"promptTokenCount":120,"candidatesTokenCount":30,"totalTokenCount":150},
	"modelVersion":"gemini-2.0-flash"
}`

func TestGeminiClientGenerateSuccess(t *testing.T) {
	var payload geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found","status":"NOT_FOUND"}}`))
			return
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Retry:   fastPolicy(),
	})

	result, err := client.Generate(context.Background(), GenerateRequest{
		Model:            "gemini-2.0-flash",
		Prompt:           "simulate a blood gas",
		Temperature:      0.7,
		MaxOutputTokens:  1024,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if result.Text != `{"ph":"7.41"}` {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Usage.TotalTokens != 150 {
		t.Fatalf("expected total tokens 150, got %d", result.Usage.TotalTokens)
	}
	if result.FinishReason != "STOP" {
		t.Fatalf("expected finish reason STOP, got %q", result.FinishReason)
	}
	if len(payload.Contents) != 1 || payload.Contents[0].Parts[0].Text != "simulate a blood gas" {
		t.Fatalf("prompt not forwarded: %+v", payload.Contents)
	}
	if payload.GenerationConfig.ResponseMIMEType != "application/json" {
		t.Fatalf("expected json mime type, got %q", payload.GenerationConfig.ResponseMIMEType)
	}
}

func TestGeminiClientRetriesOnRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiClientConfig{APIKey: "test-key", BaseURL: server.URL, Retry: fastPolicy()})
	if _, err := client.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash", Prompt: "x"}); err != nil {
		t.Fatalf("expected success after retries, got err=%v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestGeminiClientExhaustsRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiClientConfig{APIKey: "test-key", BaseURL: server.URL, Retry: fastPolicy()})
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash", Prompt: "x"})
	if !errors.Is(err, domain.ErrUpstreamThrottled) {
		t.Fatalf("expected throttled error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestGeminiClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiClientConfig{APIKey: "test-key", BaseURL: server.URL, Retry: fastPolicy()})
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash", Prompt: "x"})

	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if upstream.StatusCode != http.StatusBadRequest || upstream.Status != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected upstream error %+v", upstream)
	}
	if upstream.Message != "API key not valid" {
		t.Fatalf("unexpected message %q", upstream.Message)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single call, got %d", got)
	}
}

func TestGeminiClientRejectsEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiClientConfig{APIKey: "test-key", BaseURL: server.URL, Retry: fastPolicy()})
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "gemini-2.0-flash", Prompt: "x"})
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestGeminiClientUnavailableWithoutKey(t *testing.T) {
	client := NewGeminiClient(GeminiClientConfig{})
	if client.Available() {
		t.Fatalf("expected client without key to be unavailable")
	}
	_, err := client.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "x"})
	if !errors.Is(err, ErrGeminiUnavailable) {
		t.Fatalf("expected ErrGeminiUnavailable, got %v", err)
	}
}

func TestNewGenAIClientRequiresKey(t *testing.T) {
	if _, err := NewGenAIClient(context.Background(), GenAIClientConfig{}); !errors.Is(err, ErrGeminiUnavailable) {
		t.Fatalf("expected ErrGeminiUnavailable, got %v", err)
	}
}
