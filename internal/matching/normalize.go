// Package matching estima si dos listings de exchanges distintos describen el
// mismo evento real y clasifica cómo se relacionan sus condiciones.
//
// Todas las funciones son puras: mismo input, mismo output, sin I/O ni reloj.
package matching

import (
	"strconv"
	"strings"
	"unicode"
)

// minTokenLen: los tokens de longitud ≤ 2 se descartan.
const minTokenLen = 3

// stopWords son artículos, conjunciones, verbos auxiliares y preposiciones
// que no aportan señal al comparar títulos.
var stopWords = map[string]bool{
	// artículos / determinantes
	"the": true, "an": true, "this": true, "that": true, "these": true, "those": true,
	"any": true, "some": true, "its": true, "their": true,
	// conjunciones
	"and": true, "or": true, "but": true, "nor": true, "yet": true, "either": true, "neither": true,
	// auxiliares
	"will": true, "be": true, "is": true, "are": true, "was": true, "were": true, "been": true,
	"being": true, "has": true, "have": true, "had": true, "does": true, "did": true, "do": true,
	"can": true, "could": true, "would": true, "should": true, "shall": true,
	"might": true, "must": true,
	// preposiciones
	"for": true, "from": true, "with": true, "without": true, "into": true, "onto": true,
	"upon": true, "about": true, "after": true, "before": true, "during": true, "between": true,
	"through": true, "than": true, "then": true, "via": true, "per": true, "within": true,
	"against": true, "among": true, "until": true, "till": true,
	// interrogativos típicos de títulos de mercados
	"what": true, "which": true, "who": true, "when": true, "how": true,
}

// aliases canónicas: abreviaturas frecuentes en listings de distintos exchanges.
// El valor puede expandir a varias palabras.
var aliases = map[string]string{
	"btc":         "bitcoin",
	"xbt":         "bitcoin",
	"eth":         "ethereum",
	"ether":       "ethereum",
	"sol":         "solana",
	"doge":        "dogecoin",
	"eoy":         "year end",
	"yearend":     "year end",
	"usa":         "united states",
	"fed":         "federal reserve",
	"fomc":        "federal reserve",
	"gop":         "republican",
	"republicans": "republican",
	"dem":         "democrat",
	"dems":        "democrat",
	"democrats":   "democrat",
	"democratic":  "democrat",
	"potus":       "president",
	"prez":        "president",
	"cpi":         "inflation",
	"gdp":         "gross domestic product",
}

// NormalizePhrase pasa a minúsculas, sustituye la puntuación por espacios y
// colapsa el whitespace. No descarta ningún token.
func NormalizePhrase(text string) string {
	return strings.Join(words(text), " ")
}

// Tokenize devuelve los tokens canónicos de un texto libre (título, fuente...):
// minúsculas, sin puntuación, números con sufijo expandidos ("100k" → "100000"),
// alias aplicados ("btc" → "bitcoin"), sin tokens de longitud ≤ 2 ni stop-words.
func Tokenize(text string) []string {
	return tokens(text, true)
}

// NameTokens es Tokenize sin eliminación de stop-words. Se usa para nombres
// de condiciones, que son cortos.
func NameTokens(text string) []string {
	return tokens(text, false)
}

func tokens(text string, dropStopWords bool) []string {
	raw := words(text)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		w = expandNumber(w)
		expanded := w
		if a, ok := aliases[w]; ok {
			expanded = a
		}
		for _, t := range strings.Fields(expanded) {
			if len(t) < minTokenLen {
				continue
			}
			if dropStopWords && stopWords[t] {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// words separa en palabras en minúscula. Las comas entre dígitos se eliminan
// ("100,000" → "100000") y el punto entre dígitos se conserva ("2.5").
func words(text string) []string {
	rs := []rune(strings.ToLower(text))
	var sb strings.Builder
	sb.Grow(len(rs))
	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case (r == ',' || r == '.') && betweenDigits(rs, i):
			if r == '.' {
				sb.WriteRune(r)
			}
		default:
			sb.WriteRune(' ')
		}
	}
	return strings.Fields(sb.String())
}

func betweenDigits(rs []rune, i int) bool {
	return i > 0 && i < len(rs)-1 && unicode.IsDigit(rs[i-1]) && unicode.IsDigit(rs[i+1])
}

var numberSuffixes = map[byte]float64{
	'k': 1e3,
	'm': 1e6,
	'b': 1e9,
	't': 1e12,
}

// expandNumber convierte "100k" → "100000", "2.5m" → "2500000".
// Cualquier otra palabra se devuelve sin cambios.
func expandNumber(w string) string {
	if len(w) < 2 || w[0] < '0' || w[0] > '9' {
		return w
	}
	mult, ok := numberSuffixes[w[len(w)-1]]
	if !ok {
		return w
	}
	v, err := strconv.ParseFloat(w[:len(w)-1], 64)
	if err != nil {
		return w
	}
	return strconv.FormatFloat(v*mult, 'f', -1, 64)
}

// tokenSet construye el conjunto de tokens.
func tokenSet(toks []string) map[string]struct{} {
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// jaccard devuelve |A ∩ B| / |A ∪ B|. Dos conjuntos vacíos devuelven 0.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
