package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/polyarb/internal/domain"
	"github.com/alejandrodnm/polyarb/internal/ports"
)

const matchColumns = `id, market_a, market_b, score, mappings, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(r rowScanner) (domain.MarketMatch, error) {
	var m domain.MarketMatch
	var score, mappings, status string
	var created, updated int64
	if err := r.Scan(&m.ID, &m.MarketA, &m.MarketB, &score, &mappings, &status, &created, &updated); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(score), &m.Score); err != nil {
		return m, fmt.Errorf("decode score %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(mappings), &m.Mappings); err != nil {
		return m, fmt.Errorf("decode mappings %s: %w", m.ID, err)
	}
	m.Status = domain.MatchStatus(status)
	m.CreatedAt, m.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return m, nil
}

// ListMatches devuelve todos los matches, en orden de creación.
func (s *SQLiteStorage) ListMatches(ctx context.Context) ([]domain.MarketMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+matchColumns+` FROM matches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListMatches: query: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListMatches: scan row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMatch devuelve un match por id, o domain.ErrNotFound.
func (s *SQLiteStorage) GetMatch(ctx context.Context, id string) (domain.MarketMatch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = ?`, id)
	m, err := scanMatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MarketMatch{}, fmt.Errorf("storage.GetMatch: %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketMatch{}, fmt.Errorf("storage.GetMatch: %s: %w", id, err)
	}
	return m, nil
}

// UpsertMatch valida los mappings y crea o reemplaza el match.
// created_at se conserva en las actualizaciones.
func (s *SQLiteStorage) UpsertMatch(ctx context.Context, m domain.MarketMatch) error {
	if m.ID == "" {
		return fmt.Errorf("storage.UpsertMatch: %w", &domain.ValidationError{Field: "id", Err: domain.ErrInvalidMapping})
	}
	if err := domain.ValidateMappings(m.Mappings); err != nil {
		return fmt.Errorf("storage.UpsertMatch: %s: %w", m.ID, err)
	}
	score, err := json.Marshal(m.Score)
	if err != nil {
		return fmt.Errorf("storage.UpsertMatch: encode score: %w", err)
	}
	mappings, err := encodeMappings(m.Mappings)
	if err != nil {
		return fmt.Errorf("storage.UpsertMatch: encode mappings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO matches (id, market_a, market_b, score, mappings, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			market_a   = excluded.market_a,
			market_b   = excluded.market_b,
			score      = excluded.score,
			mappings   = excluded.mappings,
			status     = excluded.status,
			updated_at = excluded.updated_at
	`, m.ID, m.MarketA, m.MarketB, string(score), mappings, string(m.Status),
		unixNano(m.CreatedAt), unixNano(m.UpdatedAt),
	); err != nil {
		return fmt.Errorf("storage.UpsertMatch: upsert %s: %w", m.ID, err)
	}

	s.publish(ports.ChangeEvent{Kind: ports.ChangeMatchUpserted, ID: m.ID})
	return nil
}

// RemoveMatch borra el match. Un id inexistente no es error.
func (s *SQLiteStorage) RemoveMatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage.RemoveMatch: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ports.ChangeEvent{Kind: ports.ChangeMatchRemoved, ID: id})
	}
	return nil
}

const ecosystemColumns = `id, name, markets, mappings, status, created_at, updated_at`

func scanEcosystem(r rowScanner) (domain.Ecosystem, error) {
	var e domain.Ecosystem
	var markets, mappings, status string
	var created, updated int64
	if err := r.Scan(&e.ID, &e.Name, &markets, &mappings, &status, &created, &updated); err != nil {
		return e, err
	}
	if err := json.Unmarshal([]byte(markets), &e.Markets); err != nil {
		return e, fmt.Errorf("decode markets %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(mappings), &e.Mappings); err != nil {
		return e, fmt.Errorf("decode mappings %s: %w", e.ID, err)
	}
	e.Status = domain.MatchStatus(status)
	e.CreatedAt, e.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return e, nil
}

// ListEcosystems devuelve todos los ecosistemas, en orden de creación.
func (s *SQLiteStorage) ListEcosystems(ctx context.Context) ([]domain.Ecosystem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ecosystemColumns+` FROM ecosystems ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListEcosystems: query: %w", err)
	}
	defer rows.Close()

	var out []domain.Ecosystem
	for rows.Next() {
		e, err := scanEcosystem(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListEcosystems: scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEcosystem devuelve un ecosistema por id, o domain.ErrNotFound.
func (s *SQLiteStorage) GetEcosystem(ctx context.Context, id string) (domain.Ecosystem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ecosystemColumns+` FROM ecosystems WHERE id = ?`, id)
	e, err := scanEcosystem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Ecosystem{}, fmt.Errorf("storage.GetEcosystem: %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Ecosystem{}, fmt.Errorf("storage.GetEcosystem: %s: %w", id, err)
	}
	return e, nil
}

// UpsertEcosystem valida y crea o reemplaza el ecosistema.
func (s *SQLiteStorage) UpsertEcosystem(ctx context.Context, e domain.Ecosystem) error {
	if e.ID == "" {
		return fmt.Errorf("storage.UpsertEcosystem: %w", &domain.ValidationError{Field: "id", Err: domain.ErrInvalidMapping})
	}
	if len(e.Markets) < 3 {
		return fmt.Errorf("storage.UpsertEcosystem: %w", &domain.ValidationError{
			Field: "markets", Value: fmt.Sprintf("%d", len(e.Markets)), Err: domain.ErrInvalidMapping,
		})
	}
	if err := domain.ValidateMappings(e.Mappings); err != nil {
		return fmt.Errorf("storage.UpsertEcosystem: %s: %w", e.ID, err)
	}
	markets, err := json.Marshal(e.Markets)
	if err != nil {
		return fmt.Errorf("storage.UpsertEcosystem: encode markets: %w", err)
	}
	mappings, err := encodeMappings(e.Mappings)
	if err != nil {
		return fmt.Errorf("storage.UpsertEcosystem: encode mappings: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ecosystems (id, name, markets, mappings, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name       = excluded.name,
			markets    = excluded.markets,
			mappings   = excluded.mappings,
			status     = excluded.status,
			updated_at = excluded.updated_at
	`, e.ID, e.Name, string(markets), mappings, string(e.Status),
		unixNano(e.CreatedAt), unixNano(e.UpdatedAt),
	); err != nil {
		return fmt.Errorf("storage.UpsertEcosystem: upsert %s: %w", e.ID, err)
	}

	s.publish(ports.ChangeEvent{Kind: ports.ChangeEcosystemUpserted, ID: e.ID})
	return nil
}

// RemoveEcosystem borra el ecosistema. Un id inexistente no es error.
func (s *SQLiteStorage) RemoveEcosystem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ecosystems WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("storage.RemoveEcosystem: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.publish(ports.ChangeEvent{Kind: ports.ChangeEcosystemRemoved, ID: id})
	}
	return nil
}

// Subscribe devuelve un canal con los cambios posteriores a la llamada.
// El canal se cierra al cancelar ctx.
func (s *SQLiteStorage) Subscribe(ctx context.Context) <-chan ports.ChangeEvent {
	ch := make(chan ports.ChangeEvent, subscriberBuf)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch
}

// publish reparte el evento sin bloquear: un suscriptor lento pierde eventos.
func (s *SQLiteStorage) publish(ev ports.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func encodeMappings(m []domain.ConditionMapping) (string, error) {
	if m == nil {
		m = []domain.ConditionMapping{}
	}
	b, err := json.Marshal(m)
	return string(b), err
}

var (
	_ ports.MatchRepository    = (*SQLiteStorage)(nil)
	_ ports.OpportunityStorage = (*SQLiteStorage)(nil)
)
