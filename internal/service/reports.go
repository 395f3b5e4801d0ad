package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/iago/gasometria-back/internal/ai"
	"github.com/iago/gasometria-back/internal/domain"
	"github.com/iago/gasometria-back/internal/modeljson"
	"github.com/iago/gasometria-back/internal/prompt"
	"github.com/iago/gasometria-back/internal/report"
	"go.uber.org/zap"
)

// ReportGenerator turns a scenario into a rendered report: prompt, model
// call, JSON repair and fixed-width formatting.
type ReportGenerator interface {
	Generate(ctx context.Context, scenario string, gasType domain.GasType) (string, error)
}

type AIReportDependencies struct {
	Router  *ai.ModelRouter
	Client  ai.TextGenerator
	Prompts *prompt.Renderer
	Logger  *zap.Logger
}

type AIReportGenerator struct {
	router  *ai.ModelRouter
	client  ai.TextGenerator
	prompts *prompt.Renderer
	logger  *zap.Logger
}

func NewAIReportGenerator(deps AIReportDependencies) *AIReportGenerator {
	if deps.Router == nil {
		deps.Router = ai.DefaultModelRouter()
	}
	if deps.Prompts == nil {
		deps.Prompts = prompt.NewRenderer("")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &AIReportGenerator{
		router:  deps.Router,
		client:  deps.Client,
		prompts: deps.Prompts,
		logger:  deps.Logger,
	}
}

func (g *AIReportGenerator) Generate(ctx context.Context, scenario string, gasType domain.GasType) (string, error) {
	renderedPrompt, err := g.prompts.Report(scenario, gasType)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}

	text, modelID, err := g.generateText(ctx, g.router.Report(), renderedPrompt)
	if err != nil {
		return "", err
	}

	object, err := modeljson.Parse(text)
	if err != nil {
		g.logger.Warn("model output could not be parsed",
			zap.String("model_id", modelID),
			zap.Error(err),
		)
		return "", err
	}
	record := modeljson.Strings(object)

	g.logger.Info("report generated",
		zap.String("model_id", modelID),
		zap.String("gas_type", string(gasType)),
		zap.Int("fields", len(record)),
	)
	return report.Format(record, gasType, scenario), nil
}

func (g *AIReportGenerator) generateText(
	ctx context.Context,
	profile ai.ModelProfile,
	renderedPrompt string,
) (string, string, error) {
	if g.client == nil || !g.client.Available() {
		return "", "", ai.ErrGeminiUnavailable
	}

	var errs []error
	for _, model := range profile.Models() {
		result, err := g.client.Generate(ctx, ai.GenerateRequest{
			Model:            model,
			Prompt:           renderedPrompt,
			Temperature:      profile.Temperature,
			MaxOutputTokens:  profile.MaxOutputTokens,
			ResponseMIMEType: "application/json",
		})
		if err == nil {
			return result.Text, firstNonEmpty(result.ModelID, model), nil
		}
		errs = append(errs, fmt.Errorf("model %s: %w", model, err))
		if ctx.Err() != nil {
			break
		}
		g.logger.Warn("model call failed", zap.String("model", model), zap.Error(err))
	}
	if len(errs) == 1 {
		return "", "", errs[0]
	}
	return "", "", errors.Join(errs...)
}
