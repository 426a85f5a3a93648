package storage

// sqlite.go: almacenamiento eficiente y sin ruido.
//
// Estrategia:
//   - `matches` / `ecosystems`: dueños de los emparejamientos revisados. Los
//     mappings y scores se guardan como JSON; se leen enteros en cada refresh.
//   - `opportunities`: UNA fila por oportunidad (UPSERT por id determinista).
//   - `cycles`: resumen ligero por ciclo (count, mejor APR, riesgo). Siempre 1 fila.
//   - Cache en memoria: evita writes si la oportunidad no cambió (> 5% en APR
//     o cambio de coste), salvo para refrescar last_seen cada 5 minutos.
//   - Prune automático al arrancar: cycles > 30d, opportunities no vistas en 14d.
//
// Los instantes se guardan como INTEGER (unix nanos, UTC) para que los rangos
// se comparen numéricamente.

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/polyarb/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
-- Matches pareados revisados (o pendientes de revisión)
CREATE TABLE IF NOT EXISTS matches (
    id         TEXT PRIMARY KEY,
    market_a   TEXT    NOT NULL,
    market_b   TEXT    NOT NULL,
    score      TEXT    NOT NULL,
    mappings   TEXT    NOT NULL,
    status     TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Ecosistemas N-way
CREATE TABLE IF NOT EXISTS ecosystems (
    id         TEXT PRIMARY KEY,
    name       TEXT    NOT NULL,
    markets    TEXT    NOT NULL,
    mappings   TEXT    NOT NULL,
    status     TEXT    NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Resumen ligero por ciclo de refresh
CREATE TABLE IF NOT EXISTS cycles (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    scanned_at INTEGER NOT NULL,
    total      INTEGER NOT NULL DEFAULT 0,
    best_apr   REAL    NOT NULL DEFAULT 0,
    mean_apr   REAL    NOT NULL DEFAULT 0,
    total_p100 REAL    NOT NULL DEFAULT 0,
    risk_score REAL    NOT NULL DEFAULT 0
);

-- Una fila por oportunidad, sin duplicados
CREATE TABLE IF NOT EXISTS opportunities (
    id          TEXT PRIMARY KEY,
    source      TEXT    NOT NULL,
    source_id   TEXT    NOT NULL,
    mapping_id  TEXT    NOT NULL,
    total_cost  REAL    NOT NULL DEFAULT 0,
    annualized  REAL    NOT NULL DEFAULT 0,
    days        INTEGER NOT NULL DEFAULT 0,
    payload     TEXT    NOT NULL,
    first_seen  INTEGER NOT NULL,
    last_seen   INTEGER NOT NULL,
    peak_apr    REAL    NOT NULL DEFAULT 0,
    sightings   INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(status);
CREATE INDEX IF NOT EXISTS idx_eco_status     ON ecosystems(status);
CREATE INDEX IF NOT EXISTS idx_cycles_at      ON cycles(scanned_at DESC);
CREATE INDEX IF NOT EXISTS idx_opp_last       ON opportunities(last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_opp_apr        ON opportunities(annualized DESC);
`

const (
	retentionCycles = 30 * 24 * time.Hour // ciclos: 30 días
	retentionOpps   = 14 * 24 * time.Hour // oportunidades: 14 días
	aprChangePct    = 0.05                // 5% de cambio en APR → reescribir
	refreshLastSeen = 5 * time.Minute     // last_seen se refresca al menos cada 5 min
	subscriberBuf   = 16
)

// SQLiteStorage implementa ports.MatchRepository y ports.OpportunityStorage
// usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB

	mu    sync.Mutex
	cache map[string]cachedState // opportunity id → estado guardado

	subMu  sync.Mutex
	subs   map[int]chan ports.ChangeEvent
	nextID int
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia datos antiguos y precarga la cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		cache: make(map[string]cachedState),
		subs:  make(map[int]chan ports.ChangeEvent),
	}
	s.pruneOld(context.Background())
	s.warmCache(context.Background())
	return s, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := time.Now().UTC()
	s.db.ExecContext(ctx, `DELETE FROM cycles WHERE scanned_at < ?`, unixNano(now.Add(-retentionCycles)))
	s.db.ExecContext(ctx, `DELETE FROM opportunities WHERE last_seen < ?`, unixNano(now.Add(-retentionOpps)))
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
