package matching

import (
	"strings"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// Umbrales de la cascada de clasificación.
const (
	sameThreshold        = 0.95
	nearSameThreshold    = 0.80
	overlappingThreshold = 0.60
	exclusiveFloor       = 0.05
	tokenOverlapFloor    = 0.30
)

// antonymPairs: palabras que invierten el sentido de una condición.
var antonymPairs = [][2]string{
	{"yes", "no"},
	{"above", "below"},
	{"over", "under"},
	{"increase", "decrease"},
	{"win", "lose"},
	{"true", "false"},
	{"up", "down"},
	{"higher", "lower"},
	{"rise", "fall"},
}

var antonyms = func() map[string]string {
	m := make(map[string]string, 2*len(antonymPairs))
	for _, p := range antonymPairs {
		m[p[0]] = p[1]
		m[p[1]] = p[0]
	}
	return m
}()

// Classify etiqueta la relación entre dos nombres de condición dado su score
// de similitud. Cascada evaluada en orden; gana la primera regla que aplica:
//
//  1. similarity ≥ 0.95 o frases iguales → same
//  2. una palabra de un nombre tiene su antónimo en el otro → opposites
//  3. una frase contiene a la otra como palabras completas → subset
//  4. similarity ≥ 0.80 → same
//  5. similarity ≥ 0.60 → overlapping
//  6. similarity < 0.05 → mutually-exclusive; Jaccard de tokens ≥ 0.30 →
//     overlapping; resto → complementary
func Classify(nameA, nameB string, similarity float64) domain.Relationship {
	pa, pb := NormalizePhrase(nameA), NormalizePhrase(nameB)

	switch {
	case similarity >= sameThreshold || (pa != "" && pa == pb):
		return domain.RelationSame
	case hasAntonym(pa, pb):
		return domain.RelationOpposites
	case containsPhrase(pa, pb) || containsPhrase(pb, pa):
		return domain.RelationSubset
	case similarity >= nearSameThreshold:
		return domain.RelationSame
	case similarity >= overlappingThreshold:
		return domain.RelationOverlapping
	case similarity < exclusiveFloor:
		return domain.RelationMutuallyExclusive
	case jaccard(tokenSet(NameTokens(nameA)), tokenSet(NameTokens(nameB))) >= tokenOverlapFloor:
		return domain.RelationOverlapping
	default:
		return domain.RelationComplementary
	}
}

// ClassifyConditions calcula la similitud de los nombres y los clasifica.
// La confianza es la similitud para las etiquetas de afinidad (same, subset,
// overlapping) y su complemento para las de oposición.
func ClassifyConditions(nameA, nameB string) (domain.Relationship, float64) {
	sim := ConditionSimilarity(nameA, nameB)
	rel := Classify(nameA, nameB, sim)
	switch rel {
	case domain.RelationSame, domain.RelationSubset, domain.RelationOverlapping:
		return rel, sim
	default:
		return rel, clamp01(1 - sim)
	}
}

// hasAntonym trabaja sobre las palabras crudas (sin filtro de longitud):
// "no" tiene dos letras y Tokenize lo descartaría.
func hasAntonym(pa, pb string) bool {
	wb := make(map[string]bool)
	for _, w := range strings.Fields(pb) {
		wb[singular(w)] = true
	}
	for _, w := range strings.Fields(pa) {
		if opp, ok := antonyms[singular(w)]; ok && wb[opp] {
			return true
		}
	}
	return false
}

// singular quita la "s" final de palabras de más de tres letras ("wins" → "win").
func singular(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") {
		return w[:len(w)-1]
	}
	return w
}

// containsPhrase indica si needle aparece en hay como secuencia de palabras
// completas. Frases vacías nunca se contienen.
func containsPhrase(hay, needle string) bool {
	if hay == "" || needle == "" || hay == needle {
		return false
	}
	return strings.Contains(" "+hay+" ", " "+needle+" ")
}
