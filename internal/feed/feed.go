// Package feed fetches fund data from the two external sources and
// reconciles them into one snapshot per instrument.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"fundwatch/internal/config"
	apperrors "fundwatch/internal/errors"
	"fundwatch/internal/logging"
	"fundwatch/internal/models"
	"fundwatch/internal/resilience"
)

// QuoteSource fetches the intraday estimate for one instrument.
type QuoteSource interface {
	FetchQuote(ctx context.Context, code string) (*models.Quote, error)
}

// ConfirmationSource fetches the last confirmed value for one instrument.
type ConfirmationSource interface {
	FetchConfirmation(ctx context.Context, code string) (*models.Confirmation, error)
}

// maxBodySize caps how much of a feed response is read.
const maxBodySize = 1 << 20

// source is the HTTP plumbing shared by both adapters.
type source struct {
	name      string
	referer   string
	userAgent string
	client    *http.Client
	breaker   *resilience.CircuitBreaker
	limiter   *resilience.RateLimiter
	logger    zerolog.Logger
}

func newSource(name, referer string, cfg config.FeedsConfig, logger zerolog.Logger) source {
	return source{
		name:      name,
		referer:   referer,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(name, resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: 1,
			OpenTimeout:      cfg.OpenTimeout,
		}),
		limiter: resilience.NewRateLimiter(cfg.RateLimit, cfg.Burst),
		logger:  logging.WithComponent(logger, name),
	}
}

// get performs one rate limited GET through the circuit breaker and returns
// the body.
func (s *source) get(ctx context.Context, code, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperrors.NewSourceError(s.name, code, "rate limit wait", err)
	}
	return resilience.ExecuteWithResult(ctx, s.breaker, func(ctx context.Context) ([]byte, error) {
		start := time.Now()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, apperrors.NewSourceError(s.name, code, "build request", err)
		}
		req.Header.Set("Referer", s.referer)
		if s.userAgent != "" {
			req.Header.Set("User-Agent", s.userAgent)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			logging.LogAPICall(s.logger, http.MethodGet, url, time.Since(start), err)
			return nil, apperrors.NewSourceError(s.name, code, "request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("HTTP %d", resp.StatusCode)
			logging.LogAPICall(s.logger, http.MethodGet, url, time.Since(start), err)
			return nil, apperrors.NewSourceError(s.name, code, "unexpected status", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return nil, apperrors.NewSourceError(s.name, code, "read body", err)
		}
		logging.LogAPICall(s.logger, http.MethodGet, url, time.Since(start), nil)
		return body, nil
	})
}

// Breaker exposes the source's circuit breaker for health reporting.
func (s *source) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}
