package training

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Registry records completed runs in a SQLite database so past experiments
// can be queried without walking the model directories.
type Registry struct {
	db *sql.DB
}

// RunRecord is one finished run.
type RunRecord struct {
	Name       string
	Dir        string
	Data       string
	Column     string
	Network    string
	Depth      int
	Optim      string
	BestEpoch  int
	BestLoss   float64
	Rmetric    *float64 // nil when no epoch ever improved
	FinishedAt time.Time
}

// OpenRegistry opens (and if needed initializes) the run registry at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run registry: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		name        TEXT NOT NULL,
		dir         TEXT NOT NULL,
		data        TEXT NOT NULL,
		column_name TEXT NOT NULL,
		network     TEXT NOT NULL,
		depth       INTEGER NOT NULL,
		optim       TEXT NOT NULL,
		best_epoch  INTEGER NOT NULL,
		best_loss   REAL NOT NULL,
		rmetric     REAL,
		finished_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init run registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// Record inserts one finished run.
func (r *Registry) Record(rec RunRecord) error {
	_, err := r.db.Exec(`
	INSERT INTO runs (name, dir, data, column_name, network, depth, optim,
	                  best_epoch, best_loss, rmetric, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Dir, rec.Data, rec.Column, rec.Network, rec.Depth,
		rec.Optim, rec.BestEpoch, rec.BestLoss, rec.Rmetric, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// BestRuns returns the lowest-loss runs for a dataset, most recent first
// among ties.
func (r *Registry) BestRuns(data string, limit int) ([]RunRecord, error) {
	rows, err := r.db.Query(`
	SELECT name, dir, data, column_name, network, depth, optim,
	       best_epoch, best_loss, rmetric, finished_at
	FROM runs WHERE data = ?
	ORDER BY best_loss ASC, finished_at DESC
	LIMIT ?`, data, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var rmetric sql.NullFloat64
		if err := rows.Scan(&rec.Name, &rec.Dir, &rec.Data, &rec.Column,
			&rec.Network, &rec.Depth, &rec.Optim, &rec.BestEpoch,
			&rec.BestLoss, &rmetric, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if rmetric.Valid {
			v := rmetric.Float64
			rec.Rmetric = &v
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the underlying database handle.
func (r *Registry) Close() error {
	return r.db.Close()
}
