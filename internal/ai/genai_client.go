package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/retry"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type GenAIClientConfig struct {
	APIKey     string
	BaseURL    string
	Retry      retry.Policy
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GenAIClient is the SDK-backed alternative to GeminiClient. SDK errors are
// translated back into status codes so both backends share one retry policy.
type GenAIClient struct {
	client *genai.Client
	policy retry.Policy
	logger *zap.Logger
}

func NewGenAIClient(ctx context.Context, config GenAIClientConfig) (*GenAIClient, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, ErrGeminiUnavailable
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: config.HTTPClient,
	}
	if baseURL := strings.TrimSpace(config.BaseURL); baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GenAIClient{
		client: client,
		policy: config.Retry,
		logger: config.Logger,
	}, nil
}

func (c *GenAIClient) Available() bool {
	return c != nil && c.client != nil
}

func (c *GenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrGeminiUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	contents := []*genai.Content{genai.NewContentFromText(request.Prompt, genai.RoleUser)}
	temperature := float32(request.Temperature)
	generationConfig := &genai.GenerateContentConfig{
		Temperature:      &temperature,
		MaxOutputTokens:  int32(request.MaxOutputTokens),
		ResponseMIMEType: request.ResponseMIMEType,
	}

	policy := c.policy
	policy.OnRetry = func(attempt int, lastErr error) {
		c.logger.Warn("retrying genai call",
			zap.String("model", request.Model),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	var (
		response *genai.GenerateContentResponse
		apiErr   genai.APIError
	)
	outcome, err := retry.Call(ctx, policy, func(attemptCtx context.Context) (*retry.Response, error) {
		result, callErr := c.client.Models.GenerateContent(attemptCtx, request.Model, contents, generationConfig)
		if callErr == nil {
			response = result
			return &retry.Response{StatusCode: http.StatusOK}, nil
		}
		if code, ok := apiErrorFrom(callErr, &apiErr); ok {
			return &retry.Response{StatusCode: code, Body: []byte(apiErr.Message)}, nil
		}
		return nil, fmt.Errorf("genai transport error: %w", callErr)
	})
	if err != nil {
		return GenerateResult{}, err
	}
	if outcome.StatusCode != http.StatusOK {
		return GenerateResult{}, &domain.UpstreamError{
			StatusCode: outcome.StatusCode,
			Status:     apiErr.Status,
			Message:    apiErr.Message,
		}
	}
	return resultFromGenAI(response, request.Model)
}

func apiErrorFrom(err error, target *genai.APIError) (int, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		*target = value
		return value.Code, value.Code > 0
	}
	var pointer *genai.APIError
	if errors.As(err, &pointer) && pointer != nil {
		*target = *pointer
		return pointer.Code, pointer.Code > 0
	}
	return 0, false
}

func resultFromGenAI(response *genai.GenerateContentResponse, requestedModel string) (GenerateResult, error) {
	if response == nil || len(response.Candidates) == 0 {
		return GenerateResult{}, &domain.UpstreamError{
			StatusCode: http.StatusOK,
			Status:     "EMPTY_RESPONSE",
			Message:    "genai response without candidates",
		}
	}

	finishReason := string(response.Candidates[0].FinishReason)
	text := strings.TrimSpace(response.Text())
	if text == "" {
		return GenerateResult{}, &domain.UpstreamError{
			StatusCode: http.StatusOK,
			Status:     firstNonEmpty(finishReason, "EMPTY_RESPONSE"),
			Message:    "genai response without text output",
		}
	}

	result := GenerateResult{
		Text:         text,
		ModelID:      firstNonEmpty(response.ModelVersion, requestedModel),
		FinishReason: finishReason,
	}
	if usage := response.UsageMetadata; usage != nil {
		result.Usage = TokenUsage{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
			TotalTokens:  int(usage.TotalTokenCount),
		}
	}
	return result, nil
}
