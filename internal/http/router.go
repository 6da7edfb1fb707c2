package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/iago/support-inbox-back/internal/http/handlers"
	"github.com/iago/support-inbox-back/internal/http/middleware"
	"github.com/iago/support-inbox-back/internal/metrics"
	"go.uber.org/zap"
)

type RouterDependencies struct {
	API            *handlers.API
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter registers the API routes. ctx bounds the rate limiter's
// background cleanup.
func NewRouter(ctx context.Context, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler http.HandlerFunc) {
		_, route, _ := strings.Cut(pattern, " ")
		mux.Handle(pattern, middleware.Instrument(deps.Metrics, route, handler))
	}

	handle("GET /healthz", deps.API.Health)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	handle("GET /v1/emails", deps.API.ListEmails)
	handle("POST /v1/emails", deps.API.CreateEmail)
	handle("POST /v1/emails/process-all", deps.API.ProcessAll)
	handle("GET /v1/emails/{id}", deps.API.GetEmail)
	handle("PATCH /v1/emails/{id}", deps.API.UpdateEmail)
	handle("DELETE /v1/emails/{id}", deps.API.DeleteEmail)
	handle("GET /v1/emails/{id}/review", deps.API.ReviewEmail)
	handle("POST /v1/emails/{id}/process", deps.API.ProcessEmail)
	handle("POST /v1/emails/{id}/regenerate", deps.API.ProcessEmail)
	handle("POST /v1/emails/{id}/send", deps.API.SendEmail)
	handle("GET /v1/stats", deps.API.Stats)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(ctx, deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.AccessLog(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
