package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Relationship clasifica cómo se relacionan dos condiciones de listings distintos.
type Relationship string

const (
	RelationSame              Relationship = "same"
	RelationSubset            Relationship = "subset"
	RelationMutuallyExclusive Relationship = "mutually-exclusive"
	RelationComplementary     Relationship = "complementary"
	RelationOpposites         Relationship = "opposites"
	RelationOverlapping       Relationship = "overlapping"
)

// Valid devuelve true si r pertenece al conjunto cerrado de etiquetas.
func (r Relationship) Valid() bool {
	switch r {
	case RelationSame, RelationSubset, RelationMutuallyExclusive,
		RelationComplementary, RelationOpposites, RelationOverlapping:
		return true
	default:
		return false
	}
}

// SimilarityScore es el desglose multi-factor de similitud entre dos mercados.
// Todos los campos están en [0,1].
type SimilarityScore struct {
	Overall    float64 `json:"overall"`
	Title      float64 `json:"title"`
	Date       float64 `json:"date"`
	Conditions float64 `json:"conditions"`
	Settlement float64 `json:"settlement"`
	Category   float64 `json:"category"`
}

// MappingLeg referencia una condición de un mercado concreto.
type MappingLeg struct {
	MarketKey string `json:"market_key"`
	Condition string `json:"condition"`
}

// ConditionMapping enlaza condiciones de 2 (par) o N (ecosistema) mercados.
type ConditionMapping struct {
	ID           string       `json:"id"`
	Legs         []MappingLeg `json:"legs"`
	Relationship Relationship `json:"relationship"`
	Confidence   float64      `json:"confidence"`
}

// ConditionA devuelve la condición del primer mercado del mapping.
func (m ConditionMapping) ConditionA() string {
	if len(m.Legs) == 0 {
		return ""
	}
	return m.Legs[0].Condition
}

// ConditionB devuelve la condición del segundo mercado del mapping.
func (m ConditionMapping) ConditionB() string {
	if len(m.Legs) < 2 {
		return ""
	}
	return m.Legs[1].Condition
}

// ConditionFor devuelve el nombre de la condición mapeada para un mercado.
func (m ConditionMapping) ConditionFor(marketKey string) (string, bool) {
	for _, l := range m.Legs {
		if l.MarketKey == marketKey {
			return l.Condition, true
		}
	}
	return "", false
}

var mappingNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("polyarb/mapping"))

// MappingID deriva un id determinista a partir de los legs, en orden.
func MappingID(legs []MappingLeg) string {
	parts := make([]string, 0, len(legs))
	for _, l := range legs {
		parts = append(parts, l.MarketKey+"#"+l.Condition)
	}
	return uuid.NewSHA1(mappingNamespace, []byte(strings.Join(parts, "|"))).String()
}

// MatchID deriva el id de un match a partir de sus dos market keys, sin
// depender del orden.
func MatchID(marketA, marketB string) string {
	if marketB < marketA {
		marketA, marketB = marketB, marketA
	}
	return uuid.NewSHA1(mappingNamespace, []byte("match|"+marketA+"|"+marketB)).String()
}

// EcosystemID deriva el id de un ecosistema a partir de sus market keys, sin
// depender del orden.
func EcosystemID(marketKeys []string) string {
	keys := slices.Clone(marketKeys)
	slices.Sort(keys)
	return uuid.NewSHA1(mappingNamespace, []byte("ecosystem|"+strings.Join(keys, "|"))).String()
}

// MatchStatus es el estado de revisión de un match o ecosistema.
type MatchStatus string

const (
	StatusPending  MatchStatus = "pending"
	StatusApproved MatchStatus = "approved"
	StatusRejected MatchStatus = "rejected"
)

// MarketMatch es un emparejamiento entre dos mercados de exchanges distintos.
// Lo posee el repositorio externo; el core solo lo lee.
type MarketMatch struct {
	ID        string
	MarketA   string // Market.Key()
	MarketB   string
	Score     SimilarityScore
	Mappings  []ConditionMapping
	Status    MatchStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Approved devuelve true si el match fue aprobado.
func (m MarketMatch) Approved() bool { return m.Status == StatusApproved }

// Ecosystem agrupa tres o más mercados ligados al mismo evento real,
// con mappings N-way entre sus condiciones.
type Ecosystem struct {
	ID        string
	Name      string
	Markets   []string // Market.Key()
	Mappings  []ConditionMapping
	Status    MatchStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Approved devuelve true si el ecosistema fue aprobado.
func (e Ecosystem) Approved() bool { return e.Status == StatusApproved }

// ValidateMappings comprueba un conjunto de mappings dentro de un mismo contexto
// (un match o un ecosistema): etiquetas válidas, confianza en [0,1], al menos dos
// legs, y que ninguna condición participe en más de un mapping.
func ValidateMappings(mappings []ConditionMapping) error {
	used := make(map[MappingLeg]string)
	for i, m := range mappings {
		field := fmt.Sprintf("mappings[%d]", i)
		if !m.Relationship.Valid() {
			return invalidMapping(field+".relationship", string(m.Relationship))
		}
		if !(m.Confidence >= 0 && m.Confidence <= 1) {
			return invalidMapping(field+".confidence", fmt.Sprintf("%v", m.Confidence))
		}
		if len(m.Legs) < 2 {
			return invalidMapping(field+".legs", fmt.Sprintf("%d", len(m.Legs)))
		}
		for _, leg := range m.Legs {
			if prev, ok := used[leg]; ok {
				return &ValidationError{
					Field: field,
					Value: fmt.Sprintf("%s/%s already in %s", leg.MarketKey, leg.Condition, prev),
					Err:   ErrDoubleAssignment,
				}
			}
			used[leg] = m.ID
		}
	}
	return nil
}
