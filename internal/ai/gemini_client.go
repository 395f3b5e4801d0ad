package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/retry"
	"go.uber.org/zap"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type GeminiClientConfig struct {
	APIKey     string
	BaseURL    string
	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GeminiClient calls the generateContent REST method directly so the retry
// policy sees raw HTTP statuses.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	policy     retry.Policy
	httpClient *http.Client
	logger     *zap.Logger
}

func NewGeminiClient(config GeminiClientConfig) *GeminiClient {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = defaultGeminiBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &GeminiClient{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(strings.TrimSpace(config.BaseURL), "/"),
		policy:     config.Retry,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
	}
}

func (c *GeminiClient) Available() bool {
	return c.apiKey != ""
}

func (c *GeminiClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrGeminiUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: request.Prompt}},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      request.Temperature,
			MaxOutputTokens:  request.MaxOutputTokens,
			ResponseMIMEType: request.ResponseMIMEType,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("marshal gemini payload: %w", err)
	}
	endpoint := c.baseURL + "/models/" + url.PathEscape(request.Model) + ":generateContent"

	policy := c.policy
	policy.OnRetry = func(attempt int, lastErr error) {
		c.logger.Warn("retrying gemini call",
			zap.String("model", request.Model),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	response, err := retry.Call(ctx, policy, func(attemptCtx context.Context) (*retry.Response, error) {
		return c.post(attemptCtx, endpoint, encoded)
	})
	if err != nil {
		return GenerateResult{}, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return GenerateResult{}, upstreamErrorFromBody(response.StatusCode, response.Body)
	}

	var raw geminiResponse
	if err := json.Unmarshal(response.Body, &raw); err != nil {
		return GenerateResult{}, fmt.Errorf("decode gemini response: %w", err)
	}
	return resultFromGemini(raw, request.Model)
}

func (c *GeminiClient) post(ctx context.Context, endpoint string, payload []byte) (*retry.Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	httpRequest.Header.Set("x-goog-api-key", c.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Accept", "application/json")

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("gemini transport error: %w", err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("read gemini body: %w", err)
	}
	return &retry.Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       body,
	}, nil
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func resultFromGemini(raw geminiResponse, requestedModel string) (GenerateResult, error) {
	if raw.PromptFeedback.BlockReason != "" {
		return GenerateResult{}, &domain.UpstreamError{
			StatusCode: http.StatusOK,
			Status:     "BLOCKED",
			Message:    "prompt blocked: " + raw.PromptFeedback.BlockReason,
		}
	}
	if len(raw.Candidates) == 0 {
		return GenerateResult{}, &domain.UpstreamError{
			StatusCode: http.StatusOK,
			Status:     "EMPTY_RESPONSE",
			Message:    "gemini response without candidates",
		}
	}

	candidate := raw.Candidates[0]
	fragments := make([]string, 0, len(candidate.Content.Parts))
	for _, part := range candidate.Content.Parts {
		if strings.TrimSpace(part.Text) != "" {
			fragments = append(fragments, part.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(fragments, ""))
	if text == "" {
		return GenerateResult{}, &domain.UpstreamError{
			StatusCode: http.StatusOK,
			Status:     firstNonEmpty(candidate.FinishReason, "EMPTY_RESPONSE"),
			Message:    "gemini response without text output",
		}
	}

	return GenerateResult{
		Text:         text,
		ModelID:      firstNonEmpty(raw.ModelVersion, requestedModel),
		FinishReason: candidate.FinishReason,
		Usage: TokenUsage{
			InputTokens:  raw.UsageMetadata.PromptTokenCount,
			OutputTokens: raw.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  raw.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func upstreamErrorFromBody(statusCode int, body []byte) *domain.UpstreamError {
	upstream := &domain.UpstreamError{
		StatusCode: statusCode,
		Message:    retry.BodySnippet(body),
	}
	var envelope geminiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		upstream.Message = envelope.Error.Message
		upstream.Status = envelope.Error.Status
	}
	return upstream
}
