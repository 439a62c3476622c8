// Package diag persists per-layer goodness histories in SQLite and turns them
// into histogram series for inspection.
package diag

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ckerce/hinton-forward-forward/nn"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	_ "modernc.org/sqlite"
)

const (
	polarityPos = "pos"
	polarityNeg = "neg"
)

// Store records training runs and their goodness samples. After BeginRun it
// satisfies nn.DiagnosticsSink, writing under the current run.
type Store struct {
	db    *sql.DB
	runID string
}

var _ nn.DiagnosticsSink = (*Store)(nil)

// Run describes one recorded training run
type Run struct {
	ID      string
	Created time.Time
	Config  nn.Config
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open diagnostics db")
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs(
			id TEXT PRIMARY KEY,
			created REAL NOT NULL,
			config TEXT NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create runs table")
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS goodness(
			run_id TEXT NOT NULL,
			layer INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			polarity TEXT NOT NULL,
			idx INTEGER NOT NULL,
			value REAL NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create goodness table")
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS goodness_run_layer ON goodness(run_id, layer)`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create goodness index")
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RunID returns the current run, or "" before BeginRun
func (s *Store) RunID() string { return s.runID }

// BeginRun registers a new run with its config and makes it current
func (s *Store) BeginRun(cfg nn.Config) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "marshal config")
	}
	id := xid.New().String()
	_, err = s.db.Exec("INSERT INTO runs(id, created, config) VALUES(?,?,?)",
		id, float64(time.Now().UnixMilli())/1000.0, string(data))
	if err != nil {
		return "", errors.Wrap(err, "insert run")
	}
	s.runID = id
	return id, nil
}

// RecordGoodness stores every sample of one layer under the current run
func (s *Store) RecordGoodness(layer int, samples []nn.GoodnessSample) error {
	if s.runID == "" {
		return errors.New("diag: RecordGoodness before BeginRun")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	stmt, err := tx.Prepare("INSERT INTO goodness(run_id, layer, iteration, polarity, idx, value) VALUES(?,?,?,?,?,?)")
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "prepare")
	}
	defer stmt.Close()

	insert := func(iteration int, polarity string, values []float64) error {
		for i, v := range values {
			if _, err := stmt.Exec(s.runID, layer, iteration, polarity, i, v); err != nil {
				return err
			}
		}
		return nil
	}
	for _, sample := range samples {
		if err := insert(sample.Iteration, polarityPos, sample.Pos); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert layer %d iteration %d", layer, sample.Iteration)
		}
		if err := insert(sample.Iteration, polarityNeg, sample.Neg); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert layer %d iteration %d", layer, sample.Iteration)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Samples reads back the goodness history of one layer of a run, ordered by
// iteration.
func (s *Store) Samples(runID string, layer int) ([]nn.GoodnessSample, error) {
	rows, err := s.db.Query(`SELECT iteration, polarity, value FROM goodness
		WHERE run_id = ? AND layer = ? ORDER BY iteration, polarity, idx`, runID, layer)
	if err != nil {
		return nil, errors.Wrap(err, "query goodness")
	}
	defer rows.Close()

	var out []nn.GoodnessSample
	for rows.Next() {
		var iteration int
		var polarity string
		var value float64
		if err := rows.Scan(&iteration, &polarity, &value); err != nil {
			return nil, errors.Wrap(err, "scan goodness")
		}
		if len(out) == 0 || out[len(out)-1].Iteration != iteration {
			out = append(out, nn.GoodnessSample{Iteration: iteration})
		}
		cur := &out[len(out)-1]
		if polarity == polarityPos {
			cur.Pos = append(cur.Pos, value)
		} else {
			cur.Neg = append(cur.Neg, value)
		}
	}
	return out, errors.Wrap(rows.Err(), "iterate goodness")
}

// Runs lists every recorded run, oldest first
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query("SELECT id, created, config FROM runs ORDER BY created, id")
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var created float64
		var config string
		if err := rows.Scan(&r.ID, &created, &config); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		r.Created = time.UnixMilli(int64(created * 1000))
		if err := json.Unmarshal([]byte(config), &r.Config); err != nil {
			return nil, errors.Wrapf(err, "run %s config", r.ID)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate runs")
}
