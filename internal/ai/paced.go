package ai

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Paced throttles calls to a generator so a backlog sweep never exceeds the
// provider's request budget.
type Paced struct {
	next    TextGenerator
	limiter *rate.Limiter
}

func NewPaced(next TextGenerator, requestsPerSecond float64, burst int) *Paced {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Paced{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (p *Paced) Available() bool {
	return p.next != nil && p.next.Available()
}

func (p *Paced) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !p.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return GenerateResult{}, fmt.Errorf("wait for provider slot: %w", err)
	}
	return p.next.Generate(ctx, request)
}
