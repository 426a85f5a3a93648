package domain

import (
	"time"

	"github.com/google/uuid"
)

// OpportunitySource indica si la oportunidad viene de un par o de un ecosistema.
type OpportunitySource string

const (
	SourcePair      OpportunitySource = "pair"
	SourceEcosystem OpportunitySource = "ecosystem"
)

// OpportunityLeg es la cotización de una condición en un venue concreto.
type OpportunityLeg struct {
	MarketKey string
	Platform  Platform
	Title     string
	Condition string
	BuyYes    float64
	BuyNo     float64
	CloseTime time.Time
}

// ArbitrageOpportunity es el resultado de valorar un mapping "same".
// Solo existe mientras TotalCost < 1; se recalcula en cada refresh.
type ArbitrageOpportunity struct {
	ID        string
	Source    OpportunitySource
	SourceID  string // id del match o del ecosistema
	MappingID string
	Legs      []OpportunityLeg

	MinYes       float64  // ask YES más barato entre venues
	MinYesVenue  Platform // venue ganador del lado YES
	MinNo        float64
	MinNoVenue   Platform
	TotalCost    float64 // MinYes + MinNo
	HasArbitrage bool    // TotalCost < 1

	PeriodReturn     float64 // (1 - cost) / cost
	AnnualizedReturn float64 // PeriodReturn × 365 / DaysUntilClose
	DaysUntilClose   int     // ≥ 1
	ProfitOn100      float64 // beneficio sobre $100 invertidos

	FirstSeenAt time.Time
	UpdatedAt   time.Time
}

// ProfitOn devuelve el beneficio esperado de invertir stake en ambos lados.
func (o ArbitrageOpportunity) ProfitOn(stake float64) float64 {
	return stake * o.PeriodReturn
}

// EdgeBps devuelve el margen (1 - coste) en puntos básicos.
func (o ArbitrageOpportunity) EdgeBps() float64 {
	return (1 - o.TotalCost) * 10_000
}

// MarketKeys devuelve las claves de los mercados que participan.
func (o ArbitrageOpportunity) MarketKeys() []string {
	keys := make([]string, 0, len(o.Legs))
	for _, l := range o.Legs {
		keys = append(keys, l.MarketKey)
	}
	return keys
}

// opportunityNamespace fija el espacio de los UUID deterministas de oportunidades.
var opportunityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("polyarb/opportunity"))

// PairOpportunityID es la identidad estable de una oportunidad de par:
// match id + mapping id + par de mercados.
func PairOpportunityID(matchID, mappingID, marketA, marketB string) string {
	return uuid.NewSHA1(opportunityNamespace,
		[]byte("pair|"+matchID+"|"+mappingID+"|"+marketA+"|"+marketB)).String()
}

// EcosystemOpportunityID es la identidad estable de una oportunidad de ecosistema.
func EcosystemOpportunityID(ecosystemID, mappingID string) string {
	return uuid.NewSHA1(opportunityNamespace,
		[]byte("ecosystem|"+ecosystemID+"|"+mappingID)).String()
}

// OpportunityRecord es la entrada histórica de una oportunidad: el último
// snapshot visto más los agregados de todas sus apariciones.
type OpportunityRecord struct {
	Opportunity    ArbitrageOpportunity
	LastSeenAt     time.Time
	PeakAnnualized float64
	Sightings      int
}
