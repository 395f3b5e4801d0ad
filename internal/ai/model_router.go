package ai

import "strings"

const (
	defaultReportModel    = "gemini-2.0-flash"
	defaultReportFallback = "gemini-1.5-flash"
)

// ModelProfile describes how report generation calls the model.
type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	ReportPrimary   string
	ReportFallback  string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouter struct {
	profile ModelProfile
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.ReportPrimary) == "" {
		config.ReportPrimary = defaultReportModel
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.7
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 2048
	}

	return &ModelRouter{profile: ModelProfile{
		PrimaryModel:    strings.TrimSpace(config.ReportPrimary),
		FallbackModel:   strings.TrimSpace(config.ReportFallback),
		Temperature:     config.Temperature,
		MaxOutputTokens: config.MaxOutputTokens,
	}}
}

// DefaultModelRouter uses the default primary and fallback models.
func DefaultModelRouter() *ModelRouter {
	return NewModelRouter(ModelRouterConfig{ReportFallback: defaultReportFallback})
}

func (r *ModelRouter) Report() ModelProfile {
	return r.profile
}

// Models returns the models to try in order, without duplicates.
func (p ModelProfile) Models() []string {
	models := []string{p.PrimaryModel}
	if p.FallbackModel != "" && p.FallbackModel != p.PrimaryModel {
		models = append(models, p.FallbackModel)
	}
	return models
}
