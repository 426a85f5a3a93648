package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

const (
	defaultRatePerSec = 5
	defaultTimeout    = 10 * time.Second
	defaultRetryWait  = 500 * time.Millisecond
	maxRetries        = 3
	maxBodyBytes      = 32 << 20
)

// HTTPConfig configura un HTTPFeed. Los campos a cero usan los defaults.
type HTTPConfig struct {
	URL        string
	RatePerSec float64
	Timeout    time.Duration
	RetryWait  time.Duration // espera base del backoff exponencial
}

// HTTPFeed obtiene snapshots normalizados desde un endpoint JSON, con rate
// limiting y retries con backoff exponencial ante 429 y 5xx.
type HTTPFeed struct {
	platform  domain.Platform
	url       string
	http      *http.Client
	limiter   *rate.Limiter
	retryWait time.Duration
}

// NewHTTPFeed crea un feed HTTP para la plataforma dada.
func NewHTTPFeed(platform domain.Platform, cfg HTTPConfig) *HTTPFeed {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultRetryWait
	}
	return &HTTPFeed{
		platform:  platform,
		url:       cfg.URL,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		retryWait: cfg.RetryWait,
	}
}

// Platform devuelve el exchange del feed.
func (f *HTTPFeed) Platform() domain.Platform { return f.platform }

// FetchMarkets hace GET del endpoint y decodifica la respuesta.
func (f *HTTPFeed) FetchMarkets(ctx context.Context) ([]domain.Market, error) {
	body, err := f.getWithRetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed.HTTPFeed: %s: %w", f.platform, err)
	}
	raw, err := decodeJSON(body)
	if err != nil {
		return nil, fmt.Errorf("feed.HTTPFeed: %s: %w", f.platform, err)
	}
	markets, err := mapMarkets(raw, f.platform)
	if err != nil {
		return nil, fmt.Errorf("feed.HTTPFeed: %s: %w", f.platform, err)
	}
	return markets, nil
}

// getWithRetry ejecuta el GET con backoff exponencial, respetando el contexto.
func (f *HTTPFeed) getWithRetry(ctx context.Context) ([]byte, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.http.Do(req)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return nil, fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			f.sleep(ctx, attempt)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			resp.Body.Close()
			slog.Warn("rate limited by feed", "platform", f.platform, "attempt", attempt+1)
			f.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 500:
			resp.Body.Close()
			if attempt == maxRetries {
				return nil, fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			f.sleep(ctx, attempt)
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (f *HTTPFeed) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * f.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
