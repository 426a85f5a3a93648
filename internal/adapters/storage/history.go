package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/polyarb/internal/domain"
)

// cachedState es el snapshot del último estado guardado de una oportunidad.
// pending cuenta los avistamientos aún no escritos en la DB.
type cachedState struct {
	totalCost  float64
	annualized float64
	writtenAt  time.Time
	pending    int
}

// pendingWrite es una oportunidad a escribir con los avistamientos acumulados.
type pendingWrite struct {
	opp       domain.ArbitrageOpportunity
	sightings int
}

// SaveOpportunities persiste el resumen del ciclo y hace upsert de las
// oportunidades que cambiaron respecto al ciclo anterior (usando caché en memoria).
func (s *SQLiteStorage) SaveOpportunities(ctx context.Context, opportunities []domain.ArbitrageOpportunity, stats domain.PortfolioStats) error {
	now := time.Now().UTC()

	// 1. Resumen del ciclo: siempre una fila, pesa ~60 bytes
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles (scanned_at, total, best_apr, mean_apr, total_p100, risk_score) VALUES (?, ?, ?, ?, ?, ?)`,
		unixNano(now), stats.Count, bestAPR(opportunities), stats.MeanAnnualized, stats.TotalProfitOn100, stats.RiskScore,
	); err != nil {
		return fmt.Errorf("storage.SaveOpportunities: insert cycle: %w", err)
	}

	// 2. Upsert de las oportunidades que cambiaron
	toWrite := s.filterChanged(opportunities, now)
	if len(toWrite) == 0 {
		return nil // nada nuevo, la gran mayoría de ciclos terminan aquí
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveOpportunities: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO opportunities
			(id, source, source_id, mapping_id, total_cost, annualized, days,
			 payload, first_seen, last_seen, peak_apr, sightings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_cost = excluded.total_cost,
			annualized = excluded.annualized,
			days       = excluded.days,
			payload    = excluded.payload,
			last_seen  = excluded.last_seen,
			peak_apr   = MAX(peak_apr, excluded.annualized),
			sightings  = sightings + excluded.sightings
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveOpportunities: prepare: %w", err)
	}
	defer stmt.Close()

	for _, w := range toWrite {
		opp := w.opp
		payload, err := json.Marshal(opp)
		if err != nil {
			return fmt.Errorf("storage.SaveOpportunities: encode %s: %w", opp.ID, err)
		}
		firstSeen := opp.FirstSeenAt
		if firstSeen.IsZero() {
			firstSeen = now
		}
		lastSeen := opp.UpdatedAt
		if lastSeen.IsZero() {
			lastSeen = now
		}

		if _, err := stmt.ExecContext(ctx,
			opp.ID,
			string(opp.Source),
			opp.SourceID,
			opp.MappingID,
			opp.TotalCost,
			opp.AnnualizedReturn,
			opp.DaysUntilClose,
			string(payload),
			unixNano(firstSeen), // first_seen: ignorado en ON CONFLICT (no se sobreescribe)
			unixNano(lastSeen),
			opp.AnnualizedReturn,
			w.sightings,
		); err != nil {
			return fmt.Errorf("storage.SaveOpportunities: upsert %s: %w", opp.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveOpportunities: commit: %w", err)
	}
	s.markWritten(toWrite, now)
	return nil
}

// GetHistory devuelve las oportunidades cuyo last_seen está en el rango dado.
// Ordenadas por APR desc, las mejores primero.
func (s *SQLiteStorage) GetHistory(ctx context.Context, from, to time.Time) ([]domain.OpportunityRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload, first_seen, last_seen, peak_apr, sightings
		FROM opportunities
		WHERE last_seen BETWEEN ? AND ?
		ORDER BY annualized DESC, id
	`, unixNano(from), unixNano(to))
	if err != nil {
		return nil, fmt.Errorf("storage.GetHistory: query: %w", err)
	}
	defer rows.Close()

	var out []domain.OpportunityRecord
	for rows.Next() {
		var rec domain.OpportunityRecord
		var payload string
		var firstSeen, lastSeen int64
		if err := rows.Scan(&payload, &firstSeen, &lastSeen, &rec.PeakAnnualized, &rec.Sightings); err != nil {
			return nil, fmt.Errorf("storage.GetHistory: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Opportunity); err != nil {
			return nil, fmt.Errorf("storage.GetHistory: decode payload: %w", err)
		}
		rec.Opportunity.FirstSeenAt = fromUnixNano(firstSeen)
		rec.LastSeenAt = fromUnixNano(lastSeen)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CycleCount devuelve el número de ciclos registrados.
func (s *SQLiteStorage) CycleCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cycles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage.CycleCount: %w", err)
	}
	return n, nil
}

// --- helpers internos ---

// filterChanged suma un avistamiento a cada oportunidad del ciclo y devuelve
// las que cambiaron respecto al estado en caché (o cuyo last_seen quedó viejo).
// El estado guardado no se toca hasta que la escritura confirma.
func (s *SQLiteStorage) filterChanged(opps []domain.ArbitrageOpportunity, now time.Time) []pendingWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toWrite []pendingWrite
	for _, opp := range opps {
		prev := s.cache[opp.ID]
		prev.pending++
		s.cache[opp.ID] = prev

		// Saltar si no cambió nada significativo
		unchanged := !prev.writtenAt.IsZero() &&
			prev.totalCost == opp.TotalCost &&
			relChange(prev.annualized, opp.AnnualizedReturn) < aprChangePct &&
			now.Sub(prev.writtenAt) < refreshLastSeen
		if unchanged {
			continue
		}
		toWrite = append(toWrite, pendingWrite{opp: opp, sightings: prev.pending})
	}
	return toWrite
}

// markWritten actualiza la caché tras un commit correcto.
func (s *SQLiteStorage) markWritten(written []pendingWrite, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range written {
		s.cache[w.opp.ID] = cachedState{
			totalCost:  w.opp.TotalCost,
			annualized: w.opp.AnnualizedReturn,
			writtenAt:  now,
			pending:    max(s.cache[w.opp.ID].pending-w.sightings, 0),
		}
	}
}

// warmCache precarga la caché desde la DB al arrancar, evitando escrituras
// redundantes en el primer ciclo tras un reinicio.
func (s *SQLiteStorage) warmCache(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total_cost, annualized, last_seen FROM opportunities`,
	)
	if err != nil {
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var id string
		var cost, apr float64
		var lastSeen int64
		if rows.Scan(&id, &cost, &apr, &lastSeen) == nil {
			s.cache[id] = cachedState{
				totalCost:  cost,
				annualized: apr,
				writtenAt:  fromUnixNano(lastSeen),
			}
		}
	}
}

// bestAPR devuelve el mayor retorno anualizado del ciclo.
func bestAPR(opps []domain.ArbitrageOpportunity) float64 {
	best := 0.0
	for _, o := range opps {
		best = math.Max(best, o.AnnualizedReturn)
	}
	return best
}

// relChange devuelve el cambio relativo entre dos valores (0.0 – ∞).
func relChange(old, new float64) float64 {
	if old == 0 {
		return 1.0 // forzar escritura si antes era 0
	}
	return math.Abs(new-old) / math.Abs(old)
}
