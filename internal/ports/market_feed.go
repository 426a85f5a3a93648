package ports

import (
	"context"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// MarketFeed entrega snapshots ya normalizados de un exchange.
type MarketFeed interface {
	// Platform devuelve el exchange que sirve el feed.
	Platform() domain.Platform

	// FetchMarkets devuelve el snapshot actual de mercados del exchange.
	// Los reintentos y el rate limiting son responsabilidad del feed.
	FetchMarkets(ctx context.Context) ([]domain.Market, error)
}
