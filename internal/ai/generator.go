package ai

import (
	"context"
	"errors"
	"strings"
)

var ErrGeminiUnavailable = errors.New("gemini client unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model            string
	Prompt           string
	Temperature      float64
	MaxOutputTokens  int
	ResponseMIMEType string
}

type GenerateResult struct {
	Text         string
	ModelID      string
	FinishReason string
	Usage        TokenUsage
}

// TextGenerator is the external generation service as seen by the rest of
// the code base.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

func validateRequest(request GenerateRequest) error {
	if strings.TrimSpace(request.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(request.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
