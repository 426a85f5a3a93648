// Package aggregator mantiene el conjunto vigente de oportunidades de
// arbitraje: valora los mappings de matches y ecosistemas aprobados contra el
// último snapshot de mercados y publica el resultado completo de una vez.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

// snapshot es el conjunto publicado. Nunca se modifica tras el Store.
type snapshot struct {
	opportunities []domain.ArbitrageOpportunity
	stats         domain.PortfolioStats
	computedAt    time.Time
}

// Aggregator es el dueño del conjunto de oportunidades. Escritor único:
// Refresh y Watch se serializan con mu; los lectores no bloquean.
type Aggregator struct {
	repo  ports.MatchRepository
	clock func() time.Time

	current atomic.Pointer[snapshot]

	mu          sync.Mutex
	lastMarkets []domain.Market
}

// New crea un Aggregator que lee matches y ecosistemas de repo.
// clock nil usa time.Now.
func New(repo ports.MatchRepository, clock func() time.Time) *Aggregator {
	if clock == nil {
		clock = time.Now
	}
	a := &Aggregator{repo: repo, clock: clock}
	a.current.Store(&snapshot{})
	return a
}

// Refresh valida el snapshot de mercados, recalcula todas las oportunidades y
// sustituye el conjunto publicado. Los mercados inválidos se descartan (nunca
// se corrigen). Las oportunidades que sobreviven conservan su FirstSeenAt.
func (a *Aggregator) Refresh(ctx context.Context, markets []domain.Market, now time.Time) ([]domain.ArbitrageOpportunity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refreshLocked(ctx, markets, now)
}

func (a *Aggregator) refreshLocked(ctx context.Context, markets []domain.Market, now time.Time) ([]domain.ArbitrageOpportunity, error) {
	valid := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if err := m.Validate(); err != nil {
			slog.Warn("dropping invalid market", "market", m.Key(), "err", err)
			continue
		}
		valid = append(valid, m)
	}

	matches, err := a.repo.ListMatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregator.Refresh: list matches: %w", err)
	}
	ecosystems, err := a.repo.ListEcosystems(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregator.Refresh: list ecosystems: %w", err)
	}

	opps := Aggregate(domain.NewMarketIndex(valid), matches, ecosystems, now)

	prev := a.current.Load()
	firstSeen := make(map[string]time.Time, len(prev.opportunities))
	for _, o := range prev.opportunities {
		firstSeen[o.ID] = o.FirstSeenAt
	}
	for i := range opps {
		if t, ok := firstSeen[opps[i].ID]; ok {
			opps[i].FirstSeenAt = t
		}
	}

	next := &snapshot{
		opportunities: opps,
		stats:         domain.ComputePortfolioStats(opps),
		computedAt:    now,
	}
	a.current.Store(next)
	a.lastMarkets = valid

	slog.Info("opportunities refreshed",
		"markets", len(valid),
		"dropped", len(markets)-len(valid),
		"matches", len(matches),
		"ecosystems", len(ecosystems),
		"opportunities", len(opps),
	)
	return slices.Clone(opps), nil
}

// Opportunities devuelve una copia del conjunto vigente, ordenado por APR desc.
func (a *Aggregator) Opportunities() []domain.ArbitrageOpportunity {
	return slices.Clone(a.current.Load().opportunities)
}

// Stats devuelve las estadísticas del conjunto vigente.
func (a *Aggregator) Stats() domain.PortfolioStats {
	return a.current.Load().stats
}

// ComputedAt devuelve el instante del último refresh (cero si no hubo ninguno).
func (a *Aggregator) ComputedAt() time.Time {
	return a.current.Load().computedAt
}

// Watch recalcula el conjunto sobre el último snapshot de mercados cada vez
// que el repositorio cambia. Bloquea hasta que ctx se cancela.
func (a *Aggregator) Watch(ctx context.Context) error {
	events := a.repo.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			// Agrupar ráfagas de cambios en un solo recálculo.
			n := 1 + drain(events)
			slog.Debug("repository changed", "kind", ev.Kind, "id", ev.ID, "events", n)
			if err := a.recompute(ctx); err != nil {
				slog.Warn("recompute after repository change failed", "err", err)
			}
		}
	}
}

func (a *Aggregator) recompute(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastMarkets == nil {
		return nil
	}
	_, err := a.refreshLocked(ctx, a.lastMarkets, a.clock())
	return err
}

func drain(ch <-chan ports.ChangeEvent) int {
	n := 0
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}

// Aggregate valora cada mapping de los matches y ecosistemas aprobados contra
// el índice de mercados. Función pura: no lee reloj ni estado.
//
// Los mappings con algún mercado o condición ausente se omiten sin error.
// El resultado no tiene ids repetidos y está ordenado por APR desc (empates
// por id).
func Aggregate(idx domain.MarketIndex, matches []domain.MarketMatch, ecosystems []domain.Ecosystem, now time.Time) []domain.ArbitrageOpportunity {
	seen := make(map[string]bool)
	var out []domain.ArbitrageOpportunity

	add := func(opp domain.ArbitrageOpportunity) {
		if seen[opp.ID] {
			return
		}
		seen[opp.ID] = true
		out = append(out, opp)
	}

	for _, match := range matches {
		if !match.Approved() {
			continue
		}
		for _, mp := range match.Mappings {
			opp, ok := priceOne(mp, idx, now)
			if !ok {
				continue
			}
			opp.ID = domain.PairOpportunityID(match.ID, mp.ID, match.MarketA, match.MarketB)
			opp.Source = domain.SourcePair
			opp.SourceID = match.ID
			add(opp)
		}
	}

	for _, eco := range ecosystems {
		if !eco.Approved() {
			continue
		}
		for _, mp := range eco.Mappings {
			opp, ok := priceOne(mp, idx, now)
			if !ok {
				continue
			}
			opp.ID = domain.EcosystemOpportunityID(eco.ID, mp.ID)
			opp.Source = domain.SourceEcosystem
			opp.SourceID = eco.ID
			add(opp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AnnualizedReturn != out[j].AnnualizedReturn {
			return out[i].AnnualizedReturn > out[j].AnnualizedReturn
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func priceOne(mp domain.ConditionMapping, idx domain.MarketIndex, now time.Time) (domain.ArbitrageOpportunity, bool) {
	if mp.Relationship != domain.RelationSame {
		return domain.ArbitrageOpportunity{}, false
	}
	legs, ok := domain.ResolveLegs(mp, idx)
	if !ok {
		slog.Debug("mapping references missing market or condition", "mapping", mp.ID)
		return domain.ArbitrageOpportunity{}, false
	}
	opp, ok, err := domain.PriceMapping(mp, legs, now)
	if err != nil {
		slog.Debug("mapping not priced", "mapping", mp.ID, "err", err)
		return domain.ArbitrageOpportunity{}, false
	}
	if !ok {
		return domain.ArbitrageOpportunity{}, false
	}
	opp.FirstSeenAt = now
	return opp, true
}
