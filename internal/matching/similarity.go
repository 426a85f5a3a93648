package matching

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// Pesos del score global. Constantes heurísticas fijas; suman 1.0.
const (
	WeightTitle      = 0.40
	WeightDate       = 0.25
	WeightConditions = 0.15
	WeightSettlement = 0.10
	WeightCategory   = 0.10
)

const (
	// conditionMatchThreshold: similitud mínima para considerar que dos
	// condiciones de mercados distintos son contrapartida una de otra.
	conditionMatchThreshold = 0.7

	// neutralScore se usa cuando un lado no informa el dato.
	neutralScore = 0.5

	aliasGroupScore    = 0.85
	categoryGroupScore = 0.8
)

// ScoreMarkets calcula la similitud multi-factor entre dos mercados.
func ScoreMarkets(a, b domain.Market) domain.SimilarityScore {
	s := domain.SimilarityScore{
		Title:      TitleSimilarity(a.Title, b.Title),
		Date:       DateSimilarity(a.CloseTime, b.CloseTime),
		Conditions: ConditionsSimilarity(a.Conditions, b.Conditions),
		Settlement: SettlementSimilarity(a.SettlementSource, b.SettlementSource),
		Category:   CategorySimilarity(a.Category, b.Category),
	}
	s.Overall = clamp01(WeightTitle*s.Title +
		WeightDate*s.Date +
		WeightConditions*s.Conditions +
		WeightSettlement*s.Settlement +
		WeightCategory*s.Category)
	return s
}

// TitleSimilarity mezcla solapamiento de tokens (Jaccard) con similitud de
// edición a nivel de carácter. En títulos largos domina el solapamiento; en
// cortos, la distancia de edición.
func TitleSimilarity(a, b string) float64 {
	return blend(Tokenize(a), Tokenize(b), a, b)
}

// ConditionSimilarity aplica la misma mezcla a nombres de condiciones, sin
// filtrar stop-words (solo tokens de longitud ≤ 2).
func ConditionSimilarity(a, b string) float64 {
	return blend(NameTokens(a), NameTokens(b), a, b)
}

func blend(ta, tb []string, rawA, rawB string) float64 {
	pa, pb := NormalizePhrase(rawA), NormalizePhrase(rawB)
	if pa == "" && pb == "" {
		ra := strings.ToLower(strings.TrimSpace(rawA))
		if ra != "" && ra == strings.ToLower(strings.TrimSpace(rawB)) {
			return 1
		}
		return 0
	}
	if pa == pb {
		return 1
	}
	if len(ta) == 0 && len(tb) == 0 {
		return editSimilarity(pa, pb)
	}

	sa, sb := tokenSet(ta), tokenSet(tb)
	overlap := jaccard(sa, sb)
	edit := editSimilarity(strings.Join(ta, " "), strings.Join(tb, " "))
	w := overlapWeight(max(len(sa), len(sb)))
	return clamp01(w*overlap + (1-w)*edit)
}

// overlapWeight devuelve el peso del solapamiento de tokens según la longitud.
func overlapWeight(tokens int) float64 {
	switch {
	case tokens <= 2:
		return 0.3
	case tokens <= 5:
		return 0.6
	default:
		return 0.75
	}
}

// editSimilarity = 1 - levenshtein(a,b) / max(len(a), len(b)), en runas.
func editSimilarity(a, b string) float64 {
	n := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if n == 0 {
		return 1
	}
	return clamp01(1 - float64(levenshtein.ComputeDistance(a, b))/float64(n))
}

// dateSteps: similitud por escalones según |Δ| entre cierres.
var dateSteps = []struct {
	within time.Duration
	score  float64
}{
	{0, 1.0},
	{24 * time.Hour, 0.9},
	{7 * 24 * time.Hour, 0.7},
	{30 * 24 * time.Hour, 0.45},
	{90 * 24 * time.Hour, 0.2},
}

// DateSimilarity decae por escalones con la distancia entre los dos cierres.
// Solo depende de los dos instantes, nunca del reloj.
func DateSimilarity(a, b time.Time) float64 {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	for _, s := range dateSteps {
		if d <= s.within {
			return s.score
		}
	}
	return 0.1
}

// ConditionsSimilarity combina la similitud en número de condiciones con el
// porcentaje de condiciones del conjunto menor que encuentran contrapartida
// (greedy, sin reutilizar) por encima de conditionMatchThreshold.
func ConditionsSimilarity(a, b []domain.Condition) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	na, nb := len(a), len(b)
	countSim := 1 - math.Abs(float64(na-nb))/float64(max(na, nb))

	small, large := a, b
	if nb < na {
		small, large = b, a
	}
	matched := len(greedyPairs(small, large, conditionMatchThreshold))
	nameOverlap := float64(matched) / float64(len(small))

	return clamp01(0.4*countSim + 0.6*nameOverlap)
}

type conditionPair struct {
	i, j int
	sim  float64
}

// greedyPairs empareja condiciones de a con condiciones de b de mayor a menor
// similitud, sin reutilizar ninguna. Orden determinista en empates.
func greedyPairs(a, b []domain.Condition, threshold float64) []conditionPair {
	var cands []conditionPair
	for i, ca := range a {
		for j, cb := range b {
			if sim := ConditionSimilarity(ca.Name, cb.Name); sim >= threshold {
				cands = append(cands, conditionPair{i: i, j: j, sim: sim})
			}
		}
	}
	sort.SliceStable(cands, func(x, y int) bool {
		if cands[x].sim != cands[y].sim {
			return cands[x].sim > cands[y].sim
		}
		if cands[x].i != cands[y].i {
			return cands[x].i < cands[y].i
		}
		return cands[x].j < cands[y].j
	})

	usedA := make(map[int]bool, len(a))
	usedB := make(map[int]bool, len(b))
	var out []conditionPair
	for _, c := range cands {
		if usedA[c.i] || usedB[c.j] {
			continue
		}
		usedA[c.i], usedB[c.j] = true, true
		out = append(out, c)
	}
	return out
}

// trustedSources agrupa alias de fuentes de resolución reconocidas.
var trustedSources = [][]string{
	{"associated press", "ap", "ap news", "apnews", "apnews com"},
	{"reuters", "thomson reuters"},
	{"federal reserve", "fed", "fomc", "federal open market committee", "federalreserve gov", "federal reserve board"},
	{"european central bank", "ecb"},
	{"bureau of labor statistics", "bls", "bls gov"},
	{"bureau of economic analysis", "bea", "bea gov"},
	{"coinmarketcap", "coingecko", "cmc", "cf benchmarks", "brti"},
	{"decision desk hq", "decision desk", "ddhq"},
}

// SettlementSimilarity compara las fuentes de resolución. Si un lado no la
// informa devuelve 0.5 (neutral).
func SettlementSimilarity(a, b string) float64 {
	pa, pb := NormalizePhrase(a), NormalizePhrase(b)
	if pa == "" || pb == "" {
		return neutralScore
	}
	if pa == pb {
		return 1
	}
	if ga := trustedGroup(pa); ga >= 0 && ga == trustedGroup(pb) {
		return aliasGroupScore
	}
	return TitleSimilarity(a, b)
}

// trustedGroup devuelve el índice del primer grupo con un alias contenido
// como palabras completas en la frase, o -1.
func trustedGroup(phrase string) int {
	padded := " " + phrase + " "
	for i, group := range trustedSources {
		for _, alias := range group {
			if strings.Contains(padded, " "+alias+" ") {
				return i
			}
		}
	}
	return -1
}

// categoryGroups: sinónimos de categoría entre exchanges.
var categoryGroups = map[string]string{}

func init() {
	groups := map[string][]string{
		"politics": {"politics", "political", "election", "elections", "government",
			"geopolitics", "world", "us politics", "world politics", "policy"},
		"economics": {"economics", "economy", "finance", "financial", "financials",
			"macro", "macroeconomics", "business", "inflation", "rates", "interest rates"},
		"crypto": {"crypto", "cryptocurrency", "cryptocurrencies", "bitcoin", "ethereum",
			"blockchain", "defi", "digital assets"},
		"sports": {"sports", "sport", "nfl", "nba", "mlb", "nhl", "soccer", "football",
			"basketball", "baseball", "hockey", "tennis", "golf", "mma", "ufc"},
		"technology": {"technology", "tech", "science", "science technology",
			"ai", "artificial intelligence", "companies"},
	}
	for name, aliases := range groups {
		for _, a := range aliases {
			categoryGroups[a] = name
		}
	}
}

// CategorySimilarity compara categorías: igualdad, grupo de sinónimos o
// similitud de texto. Categoría vacía en un lado → 0.5.
func CategorySimilarity(a, b string) float64 {
	pa, pb := NormalizePhrase(a), NormalizePhrase(b)
	if pa == "" || pb == "" {
		return neutralScore
	}
	if pa == pb {
		return 1
	}
	if ga, ok := categoryGroups[pa]; ok && ga == categoryGroups[pb] {
		return categoryGroupScore
	}
	return TitleSimilarity(a, b)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
