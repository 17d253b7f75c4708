// Package store persists the match-result history the standings recompute
// reads from.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"parity-league/internal/domain"
)

// SQLiteResultStore implements usecase.ResultStore using SQLite. The primary
// key on match_id makes duplicate result reports a no-op at the storage
// layer, independent of the aggregator's own de-duplication.
type SQLiteResultStore struct {
	db *sql.DB
}

// OpenResultStore opens (or creates) the result database at dbPath and runs
// the schema migration. An empty path selects an in-memory database.
func OpenResultStore(dbPath string) (*SQLiteResultStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open result db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate result db: %w", err)
	}
	return &SQLiteResultStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS match_results (
			match_id     TEXT PRIMARY KEY,
			round_id     TEXT NOT NULL,
			player_a     TEXT NOT NULL,
			player_b     TEXT NOT NULL,
			winner_id    TEXT NOT NULL DEFAULT '',
			loser_id     TEXT NOT NULL DEFAULT '',
			draw         INTEGER NOT NULL DEFAULT 0,
			technical    INTEGER NOT NULL DEFAULT 0,
			drawn_number INTEGER NOT NULL DEFAULT 0,
			reported_at  TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteResultStore) Close() error {
	return s.db.Close()
}

// Save records a match result. Returns false when a result for the same
// match_id already exists; replayed reports never double-count.
func (s *SQLiteResultStore) Save(ctx context.Context, r domain.MatchResultReport) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO match_results
			(match_id, round_id, player_a, player_b, winner_id, loser_id, draw, technical, drawn_number, reported_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MatchID, r.RoundID, r.PlayerA, r.PlayerB, r.WinnerID, r.LoserID,
		boolToInt(r.Draw), boolToInt(r.Technical), r.DrawnNumber, domain.UTCNow(),
	)
	if err != nil {
		return false, fmt.Errorf("save result %s: %w", r.MatchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save result %s: %w", r.MatchID, err)
	}
	return n > 0, nil
}

// List returns the full result history in report order.
func (s *SQLiteResultStore) List(ctx context.Context) ([]domain.MatchResultReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT match_id, round_id, player_a, player_b, winner_id, loser_id, draw, technical, drawn_number
		FROM match_results ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.MatchResultReport
	for rows.Next() {
		var r domain.MatchResultReport
		var draw, technical int
		if err := rows.Scan(&r.MatchID, &r.RoundID, &r.PlayerA, &r.PlayerB,
			&r.WinnerID, &r.LoserID, &draw, &technical, &r.DrawnNumber); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Draw = draw != 0
		r.Technical = technical != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
