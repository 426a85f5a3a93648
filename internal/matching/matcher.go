package matching

// matcher.go: búsqueda masiva de candidatos y sugerencia de mappings.
//
// El scan es O(len(a) × len(b) × condiciones); se reparte por filas entre un
// worker pool. El resultado se ordena, así que no depende del scheduling.

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// MatcherConfig contiene los parámetros del scan de candidatos.
type MatcherConfig struct {
	MinSimilarity float64 // score global mínimo para proponer un par
	Workers       int     // goroutines del scan (0 = NumCPU*2)
}

// Candidate es un par de mercados de exchanges distintos con su score.
type Candidate struct {
	A     domain.Market
	B     domain.Market
	Score domain.SimilarityScore
}

// Matcher empareja listings de distintos exchanges.
type Matcher struct {
	cfg MatcherConfig
}

// NewMatcher crea un Matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	return &Matcher{cfg: cfg}
}

// FindCandidates puntúa cada mercado de a contra cada mercado de b y devuelve
// los pares con Overall ≥ MinSimilarity, de mayor a menor score (empates por
// market key). Los pares de la misma plataforma se ignoran.
func (m *Matcher) FindCandidates(a, b []domain.Market) []Candidate {
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}

	rowCh := make(chan int, len(a))
	resultCh := make(chan []Candidate, len(a))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for row := range rowCh {
				resultCh <- m.scoreRow(a[row], b)
			}
		}()
	}

	for i := range a {
		rowCh <- i
	}
	close(rowCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var out []Candidate
	for cs := range resultCh {
		out = append(out, cs...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score.Overall != out[j].Score.Overall {
			return out[i].Score.Overall > out[j].Score.Overall
		}
		if ka, kb := out[i].A.Key(), out[j].A.Key(); ka != kb {
			return ka < kb
		}
		return out[i].B.Key() < out[j].B.Key()
	})
	return out
}

func (m *Matcher) scoreRow(a domain.Market, bs []domain.Market) []Candidate {
	var out []Candidate
	for _, b := range bs {
		if a.Platform == b.Platform {
			continue
		}
		score := ScoreMarkets(a, b)
		if score.Overall < m.cfg.MinSimilarity {
			continue
		}
		out = append(out, Candidate{A: a, B: b, Score: score})
	}
	return out
}

// Propose construye un MarketMatch pendiente de revisión a partir de un
// candidato, con los mappings sugeridos.
func (m *Matcher) Propose(c Candidate, now time.Time) domain.MarketMatch {
	return domain.MarketMatch{
		ID:        domain.MatchID(c.A.Key(), c.B.Key()),
		MarketA:   c.A.Key(),
		MarketB:   c.B.Key(),
		Score:     c.Score,
		Mappings:  SuggestMappings(c.A, c.B),
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SuggestMappings empareja las condiciones de a y b de forma greedy (mayor
// similitud primero, sin reutilizar condiciones) y clasifica cada par.
// Los mappings salen en el orden de las condiciones de a.
func SuggestMappings(a, b domain.Market) []domain.ConditionMapping {
	pairs := greedyPairs(a.Conditions, b.Conditions, conditionMatchThreshold)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].i < pairs[j].i })

	out := make([]domain.ConditionMapping, 0, len(pairs))
	for _, p := range pairs {
		ca, cb := a.Conditions[p.i].Name, b.Conditions[p.j].Name
		rel, conf := ClassifyConditions(ca, cb)
		legs := []domain.MappingLeg{
			{MarketKey: a.Key(), Condition: ca},
			{MarketKey: b.Key(), Condition: cb},
		}
		out = append(out, domain.ConditionMapping{
			ID:           domain.MappingID(legs),
			Legs:         legs,
			Relationship: rel,
			Confidence:   conf,
		})
	}
	return out
}

// SuggestEcosystemMappings genera mappings N-way tomando el primer mercado
// como pivote: cada condición del pivote se enlaza con la condición "same" más
// parecida de cada otro mercado. Un mapping necesita al menos dos legs; la
// confianza es la menor de sus enlaces.
func SuggestEcosystemMappings(markets []domain.Market) []domain.ConditionMapping {
	if len(markets) < 2 {
		return nil
	}
	pivot, others := markets[0], markets[1:]
	used := make([]map[int]bool, len(others))
	for i := range used {
		used[i] = make(map[int]bool)
	}

	var out []domain.ConditionMapping
	for _, pc := range pivot.Conditions {
		legs := []domain.MappingLeg{{MarketKey: pivot.Key(), Condition: pc.Name}}
		conf := 1.0
		for oi, o := range others {
			best, bestConf := -1, 0.0
			for ci, oc := range o.Conditions {
				if used[oi][ci] {
					continue
				}
				rel, c := ClassifyConditions(pc.Name, oc.Name)
				if rel == domain.RelationSame && c > bestConf {
					best, bestConf = ci, c
				}
			}
			if best < 0 {
				continue
			}
			used[oi][best] = true
			legs = append(legs, domain.MappingLeg{MarketKey: o.Key(), Condition: o.Conditions[best].Name})
			conf = min(conf, bestConf)
		}
		if len(legs) < 2 {
			continue
		}
		out = append(out, domain.ConditionMapping{
			ID:           domain.MappingID(legs),
			Legs:         legs,
			Relationship: domain.RelationSame,
			Confidence:   conf,
		})
	}
	return out
}
