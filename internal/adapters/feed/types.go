// Package feed carga snapshots de mercados ya normalizados por la capa
// externa de ingesta, desde ficheros (YAML/JSON) o desde un endpoint HTTP.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

// New elige la implementación según el source: URL http(s) → HTTPFeed,
// cualquier otra cosa se trata como ruta de fichero. httpCfg solo aplica al
// HTTPFeed; su URL se sustituye por source.
func New(platform domain.Platform, source string, httpCfg HTTPConfig) ports.MarketFeed {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		httpCfg.URL = source
		return NewHTTPFeed(platform, httpCfg)
	}
	return NewFileFeed(platform, source)
}

// marketDTO es la forma de intercambio de un mercado normalizado.
type marketDTO struct {
	ID               string         `json:"id" yaml:"id"`
	Platform         string         `json:"platform" yaml:"platform"`
	Title            string         `json:"title" yaml:"title"`
	Category         string         `json:"category" yaml:"category"`
	SettlementSource string         `json:"settlement_source,omitempty" yaml:"settlement_source,omitempty"`
	CloseTime        time.Time      `json:"close_time" yaml:"close_time"`
	Volume           float64        `json:"volume" yaml:"volume"`
	Liquidity        *float64       `json:"liquidity,omitempty" yaml:"liquidity,omitempty"`
	Conditions       []conditionDTO `json:"conditions" yaml:"conditions"`
}

type conditionDTO struct {
	Name     string   `json:"name" yaml:"name"`
	YesPrice *float64 `json:"yes_price" yaml:"yes_price"`
	NoPrice  *float64 `json:"no_price" yaml:"no_price"`
	YesAsk   *float64 `json:"yes_ask,omitempty" yaml:"yes_ask,omitempty"`
	YesBid   *float64 `json:"yes_bid,omitempty" yaml:"yes_bid,omitempty"`
	NoAsk    *float64 `json:"no_ask,omitempty" yaml:"no_ask,omitempty"`
	NoBid    *float64 `json:"no_bid,omitempty" yaml:"no_bid,omitempty"`
	Volume   *float64 `json:"volume,omitempty" yaml:"volume,omitempty"`
}

// snapshotDTO es el envoltorio opcional {"markets": [...]}.
type snapshotDTO struct {
	Markets []marketDTO `json:"markets" yaml:"markets"`
}

// mapMarkets convierte los DTOs a domain.Market. Los mercados sin plataforma
// heredan la del feed; los de otra plataforma se descartan. Un mercado sin
// campos obligatorios invalida el snapshot entero.
func mapMarkets(raw []marketDTO, platform domain.Platform) ([]domain.Market, error) {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		p := domain.Platform(r.Platform)
		if p == "" {
			p = platform
		}
		if p != platform {
			continue
		}
		m, err := mapMarket(r, p)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func mapMarket(r marketDTO, p domain.Platform) (domain.Market, error) {
	switch {
	case r.ID == "":
		return domain.Market{}, missingField("id", r.Title)
	case r.Title == "":
		return domain.Market{}, missingField("title", r.ID)
	case r.CloseTime.IsZero():
		return domain.Market{}, missingField("close_time", r.ID)
	}

	m := domain.Market{
		ID:               r.ID,
		Platform:         p,
		Title:            r.Title,
		Category:         r.Category,
		SettlementSource: r.SettlementSource,
		CloseTime:        r.CloseTime.UTC(),
		Volume:           r.Volume,
		Liquidity:        r.Liquidity,
		Conditions:       make([]domain.Condition, 0, len(r.Conditions)),
	}
	for i, c := range r.Conditions {
		// un precio ausente no es un 0: inventaría arbitraje
		if c.YesPrice == nil {
			return domain.Market{}, missingField(fmt.Sprintf("conditions[%d].yes_price", i), r.ID)
		}
		if c.NoPrice == nil {
			return domain.Market{}, missingField(fmt.Sprintf("conditions[%d].no_price", i), r.ID)
		}
		m.Conditions = append(m.Conditions, domain.Condition{
			Name:     c.Name,
			YesPrice: *c.YesPrice,
			NoPrice:  *c.NoPrice,
			YesAsk:   c.YesAsk,
			YesBid:   c.YesBid,
			NoAsk:    c.NoAsk,
			NoBid:    c.NoBid,
			Volume:   c.Volume,
		})
	}
	return m, nil
}

func missingField(field, market string) error {
	return &domain.ValidationError{Field: field, Value: market, Err: domain.ErrInvalidMarket}
}

// decodeJSON acepta una lista de mercados o el envoltorio {"markets": [...]}.
func decodeJSON(data []byte) ([]marketDTO, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []marketDTO
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode market list: %w", err)
		}
		return list, nil
	}
	var snap snapshotDTO
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap.Markets, nil
}
