package httpserver

import (
	"net/http"

	"github.com/iago/gasometria-back/internal/http/handlers"
	"github.com/iago/gasometria-back/internal/http/middleware"
	"github.com/iago/gasometria-back/internal/queue"
	"go.uber.org/zap"
)

const BackgroundPath = "/generate-report-background"

type RouterDependencies struct {
	API            *handlers.API
	Logger         *zap.Logger
	InternalToken  string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/generate-report", deps.API.GenerateReport)
	mux.HandleFunc("/generate-report-invoke", deps.API.InvokeReport)
	mux.HandleFunc(BackgroundPath, deps.API.RunBackground)
	mux.HandleFunc("/get-report-status", deps.API.ReportStatus)

	handler := http.Handler(mux)
	handler = middleware.InternalToken(queue.InternalTokenHeader, deps.InternalToken, BackgroundPath)(handler)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:       deps.RateLimitRPS,
		Burst:     deps.RateLimitBurst,
		SkipPaths: []string{BackgroundPath, "/healthz"},
	})(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
