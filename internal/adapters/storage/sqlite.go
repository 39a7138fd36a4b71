package storage

// sqlite.go — historial del engine en SQLite.
//
// Estrategia:
//   - `fills`: una fila por ejecución confirmada, en orden de feed.
//   - `merges`: una fila por merge on-chain ejecutado.
//   - `events`: el event stream del engine (transiciones de riesgo, errores).
//     Las transiciones a COOLDOWN guardan el deadline en su propia columna:
//     al arrancar, el engine restaura los cooldowns aún vigentes sin parsear
//     payloads.
//   - Prune automático al arrancar: todo lo más viejo que 30 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
-- Ejecuciones confirmadas contra nuestras órdenes
CREATE TABLE IF NOT EXISTS fills (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    clob_order_id TEXT,
    condition_id  TEXT    NOT NULL,
    token_id      TEXT    NOT NULL,
    side          TEXT    NOT NULL,
    price         REAL    NOT NULL,
    size          REAL    NOT NULL,
    seq           INTEGER NOT NULL DEFAULT 0,
    filled_at     DATETIME NOT NULL
);

-- Merges YES+NO ejecutados on-chain
CREATE TABLE IF NOT EXISTS merges (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    condition_id TEXT NOT NULL,
    amount       REAL NOT NULL,
    merged_at    DATETIME NOT NULL
);

-- Event stream del engine
CREATE TABLE IF NOT EXISTS events (
    id             TEXT PRIMARY KEY,
    type           TEXT NOT NULL,
    condition_id   TEXT,
    token_id       TEXT,
    at             DATETIME NOT NULL,
    payload        TEXT,
    cooldown_until DATETIME
);

CREATE INDEX IF NOT EXISTS idx_fills_market  ON fills(condition_id, filled_at DESC);
CREATE INDEX IF NOT EXISTS idx_merges_market ON merges(condition_id, merged_at DESC);
CREATE INDEX IF NOT EXISTS idx_events_market ON events(condition_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_events_cd     ON events(cooldown_until) WHERE cooldown_until IS NOT NULL;
`

// retention acota el historial: nada de lo que guarda el engine aporta
// pasado un mes.
const retention = 30 * 24 * time.Hour

// SQLiteStore implementa ports.EventStore usando SQLite (pure Go, sin CGo).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia datos antiguos.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveFill persiste una ejecución confirmada.
func (s *SQLiteStore) SaveFill(ctx context.Context, fill domain.Fill) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fills (clob_order_id, condition_id, token_id, side, price, size, seq, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.CLOBOrderID, fill.ConditionID, fill.TokenID, string(fill.Side),
		fill.Price, fill.Size, fill.Sequence, fill.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveFill: %w", err)
	}
	return nil
}

// SaveMerge persiste un merge ejecutado.
func (s *SQLiteStore) SaveMerge(ctx context.Context, conditionID string, amount float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merges (condition_id, amount, merged_at) VALUES (?, ?, ?)`,
		conditionID, amount, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveMerge: %w", err)
	}
	return nil
}

// SaveEvent persiste un evento del engine. Si el payload trae un
// cooldown_until, se extrae a su columna para la query de restauración.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("storage.SaveEvent: marshal payload: %w", err)
	}

	// Se guarda como texto RFC3339 en UTC: ordena lexicográficamente igual
	// que cronológicamente, así la query de restauración compara strings.
	var cooldownUntil any
	if raw, ok := ev.Payload["cooldown_until"].(string); ok && raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			cooldownUntil = t.UTC().Format(time.RFC3339)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO events (id, type, condition_id, token_id, at, payload, cooldown_until)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.ConditionID, ev.TokenID, ev.At.UTC(), string(payload), cooldownUntil,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveEvent: %w", err)
	}
	return nil
}

// ActiveCooldowns devuelve, por mercado, el deadline del cooldown más
// reciente que siga vigente en now.
func (s *SQLiteStore) ActiveCooldowns(ctx context.Context, now time.Time) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT condition_id, MAX(cooldown_until)
		FROM events
		WHERE cooldown_until IS NOT NULL AND cooldown_until > ?
		GROUP BY condition_id`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ActiveCooldowns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var conditionID, raw string
		if err := rows.Scan(&conditionID, &raw); err != nil {
			return nil, fmt.Errorf("storage.ActiveCooldowns: scan: %w", err)
		}
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("storage.ActiveCooldowns: parse %q: %w", raw, err)
		}
		out[conditionID] = until
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage.ActiveCooldowns: rows: %w", err)
	}
	return out, nil
}

// Close cierra la base de datos.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// pruneOld borra historial más viejo que el periodo de retención.
func (s *SQLiteStore) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retention)
	for table, col := range map[string]string{
		"fills":  "filled_at",
		"merges": "merged_at",
		"events": "at",
	} {
		res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, col), cutoff)
		if err != nil {
			slog.Warn("storage: prune failed", "table", table, "err", err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			slog.Info("storage: pruned old rows", "table", table, "rows", n)
		}
	}
}
