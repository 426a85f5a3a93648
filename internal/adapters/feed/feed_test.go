package feed_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/polyarb/internal/adapters/feed"
	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlSnapshot = `
- id: btc-100k
  platform: polymarket
  title: Bitcoin above $100k by year end?
  category: Crypto
  close_time: 2026-12-31T23:59:00Z
  volume: 250000
  liquidity: 40000
  conditions:
    - name: "Yes"
      yes_price: 0.44
      no_price: 0.56
      yes_ask: 0.45
      no_ask: 0.57
- id: KXBTC
  platform: kalshi
  title: BTC above $100,000 by EOY
  close_time: 2026-12-31T23:59:00Z
  conditions:
    - name: "Yes"
      yes_price: 0.42
      no_price: 0.58
- id: no-platform
  title: Fed cuts in March?
  close_time: 2027-03-20T18:00:00Z
  conditions:
    - name: "Yes"
      yes_price: 0.30
      no_price: 0.70
`

const jsonSnapshot = `{"markets": [
  {"id": "KXBTC", "platform": "kalshi", "title": "BTC above $100,000 by EOY",
   "category": "Crypto", "settlement_source": "CF Benchmarks",
   "close_time": "2026-12-31T23:59:00Z", "volume": 1200,
   "conditions": [{"name": "Yes", "yes_price": 0.42, "no_price": 0.58, "yes_ask": 0.43, "no_bid": 0.57}]}
]}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileFeed_YAML(t *testing.T) {
	f := feed.NewFileFeed(domain.PlatformPolymarket, writeFile(t, "poly.yaml", yamlSnapshot))
	assert.Equal(t, domain.PlatformPolymarket, f.Platform())

	markets, err := f.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2, "kalshi market filtered, platform-less market adopted")

	m := markets[0]
	assert.Equal(t, "polymarket:btc-100k", m.Key())
	assert.Equal(t, time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC), m.CloseTime)
	require.NotNil(t, m.Liquidity)
	assert.InDelta(t, 40000, *m.Liquidity, 1e-9)
	require.Len(t, m.Conditions, 1)
	assert.InDelta(t, 0.45, m.Conditions[0].BuyYes(), 1e-9)
	assert.InDelta(t, 0.57, m.Conditions[0].BuyNo(), 1e-9)
	require.NoError(t, m.Validate())

	assert.Equal(t, "polymarket:no-platform", markets[1].Key())
}

func TestFileFeed_JSON(t *testing.T) {
	f := feed.NewFileFeed(domain.PlatformKalshi, writeFile(t, "kalshi.json", jsonSnapshot))
	markets, err := f.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "CF Benchmarks", markets[0].SettlementSource)
	assert.InDelta(t, 0.43, markets[0].Conditions[0].BuyYes(), 1e-9)
	assert.InDelta(t, 0.58, markets[0].Conditions[0].BuyNo(), 1e-9)
	require.NotNil(t, markets[0].Conditions[0].NoBid)
	assert.Nil(t, markets[0].Conditions[0].YesBid)
}

func TestFileFeed_Errors(t *testing.T) {
	_, err := feed.NewFileFeed(domain.PlatformKalshi, filepath.Join(t.TempDir(), "missing.yaml")).FetchMarkets(context.Background())
	assert.Error(t, err)

	_, err = feed.NewFileFeed(domain.PlatformKalshi, writeFile(t, "markets.csv", "id,title")).FetchMarkets(context.Background())
	assert.ErrorContains(t, err, "unsupported extension")

	_, err = feed.NewFileFeed(domain.PlatformKalshi, writeFile(t, "bad.json", "{not json")).FetchMarkets(context.Background())
	assert.Error(t, err)
}

func TestFileFeed_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		body  string
		field string
	}{
		{
			name: "yaml without yes_price",
			file: "poly.yaml",
			body: `
- id: btc-100k
  title: Bitcoin above $100k by year end?
  close_time: 2026-12-31T23:59:00Z
  conditions:
    - name: "Yes"
      no_price: 0.55
`,
			field: "conditions[0].yes_price",
		},
		{
			name:  "json without no_price",
			file:  "poly.json",
			body:  `[{"id": "btc-100k", "title": "BTC 100k", "close_time": "2026-12-31T23:59:00Z", "conditions": [{"name": "Yes", "yes_price": 0.45}]}]`,
			field: "conditions[0].no_price",
		},
		{
			name:  "json without id",
			file:  "poly.json",
			body:  `[{"title": "BTC 100k", "close_time": "2026-12-31T23:59:00Z", "conditions": []}]`,
			field: "id",
		},
		{
			name:  "yaml without title",
			file:  "poly.yaml",
			body:  "- id: btc-100k\n  close_time: 2026-12-31T23:59:00Z\n",
			field: "title",
		},
		{
			name:  "json without close_time",
			file:  "poly.json",
			body:  `{"markets": [{"id": "btc-100k", "title": "BTC 100k", "conditions": []}]}`,
			field: "close_time",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := feed.NewFileFeed(domain.PlatformPolymarket, writeFile(t, tt.file, tt.body))
			markets, err := f.FetchMarkets(context.Background())
			require.Error(t, err)
			assert.Nil(t, markets)
			assert.ErrorIs(t, err, domain.ErrInvalidMarket)

			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestFileFeed_IgnoresOtherPlatformsWhenValidating(t *testing.T) {
	body := `
- id: btc-100k
  title: Bitcoin above $100k by year end?
  close_time: 2026-12-31T23:59:00Z
  conditions:
    - {name: "Yes", yes_price: 0.45, no_price: 0.55}
- id: KXBTC
  platform: kalshi
  conditions:
    - {name: "Yes"}
`
	markets, err := feed.NewFileFeed(domain.PlatformPolymarket, writeFile(t, "poly.yaml", body)).FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "polymarket:btc-100k", markets[0].Key())
}

func TestHTTPFeed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(jsonSnapshot))
	}))
	defer srv.Close()

	f := feed.NewHTTPFeed(domain.PlatformKalshi, feed.HTTPConfig{URL: srv.URL, RatePerSec: 100})
	markets, err := f.FetchMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "kalshi:KXBTC", markets[0].Key())
}

func TestHTTPFeed_MissingPriceRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "KXBTC", "title": "BTC above $100,000 by EOY", "close_time": "2026-12-31T23:59:00Z",
			"conditions": [{"name": "Yes", "no_price": 0.55}]}]`))
	}))
	defer srv.Close()

	f := feed.NewHTTPFeed(domain.PlatformKalshi, feed.HTTPConfig{URL: srv.URL, RatePerSec: 100})
	_, err := f.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidMarket)
	assert.Contains(t, err.Error(), "conditions[0].yes_price")
}

func TestHTTPFeed_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	f := feed.NewHTTPFeed(domain.PlatformKalshi, feed.HTTPConfig{URL: srv.URL, RatePerSec: 100, RetryWait: time.Millisecond})
	markets, err := f.FetchMarkets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, markets)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFeed_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := feed.NewHTTPFeed(domain.PlatformKalshi, feed.HTTPConfig{URL: srv.URL, RatePerSec: 100, RetryWait: time.Millisecond})
	_, err := f.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(4), calls.Load())
}

func TestHTTPFeed_ClientErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown venue", http.StatusNotFound)
	}))
	defer srv.Close()

	f := feed.NewHTTPFeed(domain.PlatformKalshi, feed.HTTPConfig{URL: srv.URL, RatePerSec: 100, RetryWait: time.Millisecond})
	_, err := f.FetchMarkets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown venue")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew_PicksImplementation(t *testing.T) {
	assert.IsType(t, &feed.HTTPFeed{}, feed.New(domain.PlatformKalshi, "https://normalizer.local/kalshi", feed.HTTPConfig{}))
	assert.IsType(t, &feed.FileFeed{}, feed.New(domain.PlatformKalshi, "fixtures/kalshi.yaml", feed.HTTPConfig{}))
}
