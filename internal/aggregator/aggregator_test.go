package aggregator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyarb/internal/aggregator"
	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockRepo struct {
	mu         sync.Mutex
	matches    []domain.MarketMatch
	ecosystems []domain.Ecosystem
	err        error
	events     chan ports.ChangeEvent
}

func newMockRepo() *mockRepo {
	return &mockRepo{events: make(chan ports.ChangeEvent, 8)}
}

func (m *mockRepo) ListMatches(_ context.Context) ([]domain.MarketMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matches, m.err
}

func (m *mockRepo) ListEcosystems(_ context.Context) ([]domain.Ecosystem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ecosystems, m.err
}

func (m *mockRepo) UpsertMatch(_ context.Context, match domain.MarketMatch) error {
	m.mu.Lock()
	m.matches = append(m.matches, match)
	m.mu.Unlock()
	m.events <- ports.ChangeEvent{Kind: ports.ChangeMatchUpserted, ID: match.ID}
	return nil
}

func (m *mockRepo) UpsertEcosystem(_ context.Context, e domain.Ecosystem) error {
	m.mu.Lock()
	m.ecosystems = append(m.ecosystems, e)
	m.mu.Unlock()
	m.events <- ports.ChangeEvent{Kind: ports.ChangeEcosystemUpserted, ID: e.ID}
	return nil
}

func (m *mockRepo) RemoveMatch(_ context.Context, _ string) error     { return nil }
func (m *mockRepo) RemoveEcosystem(_ context.Context, _ string) error { return nil }

func (m *mockRepo) Subscribe(_ context.Context) <-chan ports.ChangeEvent { return m.events }

// --- helpers ---

var now = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func binary(p domain.Platform, id string, yesAsk, noAsk float64, closeIn time.Duration) domain.Market {
	return domain.Market{
		ID:        id,
		Platform:  p,
		Title:     "Bitcoin above $100k by year end?",
		Category:  "Crypto",
		CloseTime: now.Add(closeIn),
		Conditions: []domain.Condition{{
			Name:     "Yes",
			YesPrice: yesAsk,
			NoPrice:  noAsk,
			YesAsk:   domain.Price(yesAsk),
			NoAsk:    domain.Price(noAsk),
		}},
	}
}

func pairMatch(id string, a, b domain.Market, status domain.MatchStatus) domain.MarketMatch {
	legs := []domain.MappingLeg{
		{MarketKey: a.Key(), Condition: "Yes"},
		{MarketKey: b.Key(), Condition: "Yes"},
	}
	return domain.MarketMatch{
		ID:      id,
		MarketA: a.Key(),
		MarketB: b.Key(),
		Mappings: []domain.ConditionMapping{
			{ID: domain.MappingID(legs), Legs: legs, Relationship: domain.RelationSame, Confidence: 1},
		},
		Status: status,
	}
}

// --- Aggregate ---

func TestAggregate_PairCheapestSides(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	match := pairMatch("m1", x, y, domain.StatusApproved)

	got := aggregator.Aggregate(domain.NewMarketIndex([]domain.Market{x, y}), []domain.MarketMatch{match}, nil, now)
	require.Len(t, got, 1)

	opp := got[0]
	assert.Equal(t, domain.PairOpportunityID("m1", match.Mappings[0].ID, x.Key(), y.Key()), opp.ID)
	assert.Equal(t, domain.SourcePair, opp.Source)
	assert.Equal(t, "m1", opp.SourceID)
	assert.InDelta(t, 0.42, opp.MinYes, 1e-9)
	assert.Equal(t, domain.PlatformKalshi, opp.MinYesVenue)
	assert.InDelta(t, 0.56, opp.MinNo, 1e-9)
	assert.Equal(t, domain.PlatformPolymarket, opp.MinNoVenue)
	assert.InDelta(t, 0.98, opp.TotalCost, 1e-9)
	assert.InDelta(t, 0.0204, opp.PeriodReturn, 1e-4)
	assert.Equal(t, 30, opp.DaysUntilClose)
}

func TestAggregate_SkipsUnapprovedMissingAndExpensive(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 24*time.Hour)
	ex := binary(domain.PlatformManifold, "ex", 0.52, 0.50, 24*time.Hour)
	ey := binary(domain.PlatformPredictIt, "ey", 0.52, 0.50, 24*time.Hour)
	gone := binary(domain.PlatformManifold, "gone", 0.10, 0.10, 24*time.Hour)

	matches := []domain.MarketMatch{
		pairMatch("pending", x, y, domain.StatusPending),
		pairMatch("expensive", ex, ey, domain.StatusApproved),
		pairMatch("missing", x, gone, domain.StatusApproved),
	}
	idx := domain.NewMarketIndex([]domain.Market{x, y, ex, ey})
	assert.Empty(t, aggregator.Aggregate(idx, matches, nil, now))
}

func TestAggregate_SkipsNonSameMappings(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 24*time.Hour)
	match := pairMatch("m1", x, y, domain.StatusApproved)
	match.Mappings[0].Relationship = domain.RelationOpposites

	idx := domain.NewMarketIndex([]domain.Market{x, y})
	assert.Empty(t, aggregator.Aggregate(idx, []domain.MarketMatch{match}, nil, now))
}

func TestAggregate_EcosystemAndOrdering(t *testing.T) {
	// Par: cierra en 30 días. Ecosistema: cierra mañana → APR mucho mayor.
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	p := binary(domain.PlatformPolymarket, "p", 0.50, 0.55, 24*time.Hour)
	k := binary(domain.PlatformKalshi, "k", 0.47, 0.60, 24*time.Hour)
	m := binary(domain.PlatformManifold, "m", 0.49, 0.50, 48*time.Hour)

	legs := []domain.MappingLeg{
		{MarketKey: p.Key(), Condition: "Yes"},
		{MarketKey: k.Key(), Condition: "Yes"},
		{MarketKey: m.Key(), Condition: "Yes"},
	}
	eco := domain.Ecosystem{
		ID:       "e1",
		Markets:  []string{p.Key(), k.Key(), m.Key()},
		Mappings: []domain.ConditionMapping{{ID: "em", Legs: legs, Relationship: domain.RelationSame, Confidence: 1}},
		Status:   domain.StatusApproved,
	}
	match := pairMatch("m1", x, y, domain.StatusApproved)

	idx := domain.NewMarketIndex([]domain.Market{x, y, p, k, m})
	got := aggregator.Aggregate(idx, []domain.MarketMatch{match, match}, []domain.Ecosystem{eco}, now)
	require.Len(t, got, 2, "duplicated match must be deduplicated")

	assert.Equal(t, domain.SourceEcosystem, got[0].Source)
	assert.Equal(t, domain.EcosystemOpportunityID("e1", "em"), got[0].ID)
	assert.InDelta(t, 0.97, got[0].TotalCost, 1e-9)
	assert.Equal(t, domain.PlatformKalshi, got[0].MinYesVenue)
	assert.Equal(t, domain.PlatformManifold, got[0].MinNoVenue)
	assert.Equal(t, 1, got[0].DaysUntilClose)
	assert.Equal(t, domain.SourcePair, got[1].Source)
	assert.Greater(t, got[0].AnnualizedReturn, got[1].AnnualizedReturn)
}

func TestAggregate_Idempotent(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 10*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 10*24*time.Hour)
	idx := domain.NewMarketIndex([]domain.Market{x, y})
	matches := []domain.MarketMatch{pairMatch("m1", x, y, domain.StatusApproved)}

	first := aggregator.Aggregate(idx, matches, nil, now)
	second := aggregator.Aggregate(idx, matches, nil, now.Add(time.Minute))
	require.Len(t, second, 1)

	second[0].UpdatedAt = first[0].UpdatedAt
	second[0].FirstSeenAt = first[0].FirstSeenAt
	assert.Equal(t, first, second)
}

// --- Aggregator ---

func TestAggregator_RefreshPublishesAndCarriesFirstSeen(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	repo := newMockRepo()
	repo.matches = []domain.MarketMatch{pairMatch("m1", x, y, domain.StatusApproved)}
	agg := aggregator.New(repo, nil)

	assert.Empty(t, agg.Opportunities())
	assert.Equal(t, domain.PortfolioStats{}, agg.Stats())

	_, err := agg.Refresh(context.Background(), []domain.Market{x, y}, now)
	require.NoError(t, err)
	require.Len(t, agg.Opportunities(), 1)
	assert.Equal(t, now, agg.Opportunities()[0].FirstSeenAt)
	assert.Equal(t, 1, agg.Stats().Count)
	assert.Equal(t, now, agg.ComputedAt())

	later := now.Add(time.Hour)
	y2 := binary(domain.PlatformKalshi, "y", 0.40, 0.58, 30*24*time.Hour)
	opps, err := agg.Refresh(context.Background(), []domain.Market{x, y2}, later)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, now, opps[0].FirstSeenAt)
	assert.Equal(t, later, opps[0].UpdatedAt)
	assert.InDelta(t, 0.96, opps[0].TotalCost, 1e-9)

	// El mercado desaparece → la oportunidad se descarta, sin error.
	opps, err = agg.Refresh(context.Background(), []domain.Market{x}, later)
	require.NoError(t, err)
	assert.Empty(t, opps)
	assert.Empty(t, agg.Opportunities())
}

func TestAggregator_RefreshDropsInvalidMarkets(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	y.Conditions[0].NoPrice = 1.4

	repo := newMockRepo()
	repo.matches = []domain.MarketMatch{pairMatch("m1", x, y, domain.StatusApproved)}
	agg := aggregator.New(repo, nil)

	opps, err := agg.Refresh(context.Background(), []domain.Market{x, y}, now)
	require.NoError(t, err)
	assert.Empty(t, opps)
	assert.Equal(t, 1.4, y.Conditions[0].NoPrice)
}

func TestAggregator_RefreshRepoError(t *testing.T) {
	repo := newMockRepo()
	repo.err = errors.New("db locked")
	agg := aggregator.New(repo, nil)

	_, err := agg.Refresh(context.Background(), nil, now)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db locked")
}

func TestAggregator_OpportunitiesIsACopy(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	repo := newMockRepo()
	repo.matches = []domain.MarketMatch{pairMatch("m1", x, y, domain.StatusApproved)}
	agg := aggregator.New(repo, nil)
	_, err := agg.Refresh(context.Background(), []domain.Market{x, y}, now)
	require.NoError(t, err)

	got := agg.Opportunities()
	got[0].TotalCost = 42
	assert.InDelta(t, 0.98, agg.Opportunities()[0].TotalCost, 1e-9)
}

func TestAggregator_WatchRecomputesOnChange(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	repo := newMockRepo()
	agg := aggregator.New(repo, func() time.Time { return now })

	_, err := agg.Refresh(context.Background(), []domain.Market{x, y}, now)
	require.NoError(t, err)
	require.Empty(t, agg.Opportunities())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Watch(ctx) }()

	require.NoError(t, repo.UpsertMatch(context.Background(), pairMatch("m1", x, y, domain.StatusApproved)))
	assert.Eventually(t, func() bool { return len(agg.Opportunities()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestAggregator_ConcurrentReaders(t *testing.T) {
	x := binary(domain.PlatformPolymarket, "x", 0.44, 0.56, 30*24*time.Hour)
	y := binary(domain.PlatformKalshi, "y", 0.42, 0.58, 30*24*time.Hour)
	repo := newMockRepo()
	repo.matches = []domain.MarketMatch{pairMatch("m1", x, y, domain.StatusApproved)}
	agg := aggregator.New(repo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				opps := agg.Opportunities()
				stats := agg.Stats()
				// Un lector ve el conjunto viejo o el nuevo, nunca una mezcla.
				assert.LessOrEqual(t, len(opps), 1)
				assert.LessOrEqual(t, stats.Count, 1)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		_, err := agg.Refresh(context.Background(), []domain.Market{x, y}, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	wg.Wait()
}
