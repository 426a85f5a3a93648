package scanner

import (
	"github.com/alejandrodnm/polyarb/internal/domain"
)

// FilterConfig contiene los parámetros configurables de filtrado.
type FilterConfig struct {
	// MinAnnualizedReturn descarta oportunidades con APR menor (0.10 = 10%).
	MinAnnualizedReturn float64
	// MinEdgeBps descarta oportunidades cuyo margen (1 - coste) es menor, en bps.
	MinEdgeBps float64
	// MaxDaysUntilClose descarta oportunidades que inmovilizan capital demasiado tiempo.
	MaxDaysUntilClose int
}

// DefaultFilterConfig no descarta nada: toda oportunidad con coste < 1 pasa.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{}
}

// Filter aplica los filtros configurados sobre una lista de oportunidades.
type Filter struct {
	cfg FilterConfig
}

// NewFilter crea un Filter con la configuración dada.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Apply devuelve las oportunidades que pasan todos los filtros, en el mismo orden.
func (f *Filter) Apply(opps []domain.ArbitrageOpportunity) []domain.ArbitrageOpportunity {
	result := make([]domain.ArbitrageOpportunity, 0, len(opps))
	for _, opp := range opps {
		if f.passes(opp) {
			result = append(result, opp)
		}
	}
	return result
}

// passes devuelve true si la oportunidad supera todos los criterios.
func (f *Filter) passes(opp domain.ArbitrageOpportunity) bool {
	if !opp.HasArbitrage {
		return false
	}
	if f.cfg.MinAnnualizedReturn > 0 && opp.AnnualizedReturn < f.cfg.MinAnnualizedReturn {
		return false
	}
	if f.cfg.MinEdgeBps > 0 && opp.EdgeBps() < f.cfg.MinEdgeBps {
		return false
	}
	if f.cfg.MaxDaysUntilClose > 0 && opp.DaysUntilClose > f.cfg.MaxDaysUntilClose {
		return false
	}
	return true
}
