package domain

import (
	"fmt"
	"math"
	"time"
)

// Platform identifica el exchange donde cotiza un mercado.
type Platform string

const (
	PlatformPolymarket Platform = "polymarket"
	PlatformKalshi     Platform = "kalshi"
	PlatformManifold   Platform = "manifold"
	PlatformPredictIt  Platform = "predictit"
)

// Platforms devuelve el conjunto cerrado de exchanges soportados.
func Platforms() []Platform {
	return []Platform{PlatformPolymarket, PlatformKalshi, PlatformManifold, PlatformPredictIt}
}

// Valid devuelve true si p pertenece al conjunto soportado.
func (p Platform) Valid() bool {
	switch p {
	case PlatformPolymarket, PlatformKalshi, PlatformManifold, PlatformPredictIt:
		return true
	default:
		return false
	}
}

// Market es un snapshot normalizado de un mercado de predicción en un exchange.
// Lo produce la capa externa de normalización; el core solo lo lee.
type Market struct {
	ID               string
	Platform         Platform
	Title            string
	Category         string
	SettlementSource string    // vacío = desconocido
	CloseTime        time.Time // obligatorio
	Volume           float64
	Liquidity        *float64
	Conditions       []Condition
}

// Condition es un outcome cotizado dentro de un mercado ("Yes", o un bucket
// en mercados multi-outcome). YesPrice y NoPrice no tienen por qué sumar 1.
type Condition struct {
	Name     string
	YesPrice float64
	NoPrice  float64
	YesAsk   *float64
	YesBid   *float64
	NoAsk    *float64
	NoBid    *float64
	Volume   *float64
}

// Key devuelve la identidad del mercado usada por los mappings: "<platform>:<id>".
func (m Market) Key() string {
	return MarketKey(m.Platform, m.ID)
}

// MarketKey construye la clave de un mercado a partir de su platform e id.
func MarketKey(p Platform, id string) string {
	return string(p) + ":" + id
}

// Condition busca una condición por nombre exacto.
func (m Market) Condition(name string) (Condition, bool) {
	for _, c := range m.Conditions {
		if c.Name == name {
			return c, true
		}
	}
	return Condition{}, false
}

// DaysUntilClose devuelve los días (redondeo hacia arriba) hasta el cierre,
// con un mínimo de 1 para evitar explosiones en cierres del mismo día.
func (m Market) DaysUntilClose(now time.Time) int {
	return DaysUntil(m.CloseTime, now)
}

// DaysUntil devuelve max(1, ceil((t - now) / 24h)).
func DaysUntil(t, now time.Time) int {
	days := int(math.Ceil(t.Sub(now).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// BuyYes devuelve el coste de comprar el lado YES: el ask vivo si existe,
// o el precio listado como fallback.
func (c Condition) BuyYes() float64 {
	if c.YesAsk != nil {
		return *c.YesAsk
	}
	return c.YesPrice
}

// BuyNo devuelve el coste de comprar el lado NO (ask vivo o precio listado).
func (c Condition) BuyNo() float64 {
	if c.NoAsk != nil {
		return *c.NoAsk
	}
	return c.NoPrice
}

// Validate rechaza snapshots mal formados. Nunca corrige valores: un precio
// fuera de [0,1] corrompería los cálculos financieros posteriores.
func (m Market) Validate() error {
	if m.ID == "" {
		return invalidMarket("id", m.ID)
	}
	if !m.Platform.Valid() {
		return invalidMarket("platform", string(m.Platform))
	}
	if m.Title == "" {
		return invalidMarket(m.Key()+".title", m.Title)
	}
	if m.CloseTime.IsZero() {
		return invalidMarket(m.Key()+".close_time", "zero")
	}
	if len(m.Conditions) == 0 {
		return invalidMarket(m.Key()+".conditions", "empty")
	}
	if m.Liquidity != nil && (math.IsNaN(*m.Liquidity) || *m.Liquidity < 0) {
		return invalidMarket(m.Key()+".liquidity", fmt.Sprintf("%v", *m.Liquidity))
	}

	seen := make(map[string]bool, len(m.Conditions))
	for i, c := range m.Conditions {
		field := fmt.Sprintf("%s.conditions[%d]", m.Key(), i)
		if c.Name == "" {
			return invalidMarket(field+".name", "")
		}
		if seen[c.Name] {
			return invalidMarket(field+".name", c.Name)
		}
		seen[c.Name] = true
		if err := c.validatePrices(field); err != nil {
			return err
		}
	}
	return nil
}

func (c Condition) validatePrices(field string) error {
	prices := []struct {
		name string
		v    *float64
	}{
		{"yes_price", &c.YesPrice},
		{"no_price", &c.NoPrice},
		{"yes_ask", c.YesAsk},
		{"yes_bid", c.YesBid},
		{"no_ask", c.NoAsk},
		{"no_bid", c.NoBid},
	}
	for _, p := range prices {
		if p.v == nil {
			continue
		}
		if !ValidPrice(*p.v) {
			return invalidPrice(field+"."+p.name, *p.v)
		}
	}
	if c.Volume != nil && (math.IsNaN(*c.Volume) || *c.Volume < 0) {
		return invalidMarket(field+".volume", fmt.Sprintf("%v", *c.Volume))
	}
	return nil
}

// ValidPrice devuelve true si p es una probabilidad fraccional en [0,1].
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && p >= 0 && p <= 1
}

// MarketIndex indexa un snapshot de mercados por Key().
type MarketIndex map[string]Market

// NewMarketIndex construye el índice. Si hay claves repetidas gana la última.
func NewMarketIndex(markets []Market) MarketIndex {
	idx := make(MarketIndex, len(markets))
	for _, m := range markets {
		idx[m.Key()] = m
	}
	return idx
}

// Lookup resuelve un mercado y una condición. ok=false si alguno no existe.
func (idx MarketIndex) Lookup(marketKey, condition string) (Market, Condition, bool) {
	m, ok := idx[marketKey]
	if !ok {
		return Market{}, Condition{}, false
	}
	c, ok := m.Condition(condition)
	if !ok {
		return Market{}, Condition{}, false
	}
	return m, c, true
}

// Price devuelve un puntero a v. Útil para los campos opcionales de Condition.
func Price(v float64) *float64 {
	return &v
}
