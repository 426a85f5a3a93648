package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// OpportunityStorage persiste el histórico de oportunidades de cada ciclo.
type OpportunityStorage interface {
	// SaveOpportunities registra las oportunidades vistas en un ciclo
	// junto con las estadísticas del portfolio.
	SaveOpportunities(ctx context.Context, opportunities []domain.ArbitrageOpportunity, stats domain.PortfolioStats) error

	// GetHistory devuelve las oportunidades vistas por última vez en el rango dado.
	GetHistory(ctx context.Context, from, to time.Time) ([]domain.OpportunityRecord, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
