package ports

import (
	"context"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// ChangeKind identifica el tipo de cambio en el repositorio de matches.
type ChangeKind string

const (
	ChangeMatchUpserted     ChangeKind = "match_upserted"
	ChangeMatchRemoved      ChangeKind = "match_removed"
	ChangeEcosystemUpserted ChangeKind = "ecosystem_upserted"
	ChangeEcosystemRemoved  ChangeKind = "ecosystem_removed"
)

// ChangeEvent se emite tras cada escritura en el repositorio.
type ChangeEvent struct {
	Kind ChangeKind
	ID   string
}

// MatchRepository es el dueño de los matches y ecosistemas aprobados.
// El aggregator solo los lee.
type MatchRepository interface {
	ListMatches(ctx context.Context) ([]domain.MarketMatch, error)
	ListEcosystems(ctx context.Context) ([]domain.Ecosystem, error)

	UpsertMatch(ctx context.Context, m domain.MarketMatch) error
	UpsertEcosystem(ctx context.Context, e domain.Ecosystem) error

	// Remove* sobre un id inexistente no es error.
	RemoveMatch(ctx context.Context, id string) error
	RemoveEcosystem(ctx context.Context, id string) error

	// Subscribe devuelve un canal de cambios que se cierra al cancelar ctx.
	// Los eventos se descartan si el suscriptor no consume a tiempo.
	Subscribe(ctx context.Context) <-chan ChangeEvent
}
