// Package persistence provides a SQLite journal of runs and their periodic reports.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/lifesim/internal/engine"
	"github.com/talgya/lifesim/internal/world"
)

// DB wraps a SQLite connection for the run journal.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under the engine loop.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		population INTEGER NOT NULL,
		births INTEGER NOT NULL,
		deaths INTEGER NOT NULL,
		moves INTEGER NOT NULL,
		crowded INTEGER NOT NULL,
		stabilised INTEGER NOT NULL,
		agent_energy REAL NOT NULL,
		site_energy REAL NOT NULL,
		max_generation INTEGER NOT NULL,
		teams_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reports_run_tick ON reports(run_id, tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type runRow struct {
	ID        string `db:"id"`
	Seed      int64  `db:"seed"`
	Width     int    `db:"width"`
	Height    int    `db:"height"`
	StartedAt int64  `db:"started_at"` // Unix milliseconds
}

func (r runRow) info() engine.RunInfo {
	return engine.RunInfo{
		ID:        r.ID,
		Seed:      r.Seed,
		Width:     r.Width,
		Height:    r.Height,
		StartedAt: time.UnixMilli(r.StartedAt).UTC(),
	}
}

type reportRow struct {
	RunID         string  `db:"run_id"`
	Tick          uint64  `db:"tick"`
	Population    int     `db:"population"`
	Births        int     `db:"births"`
	Deaths        int     `db:"deaths"`
	Moves         int     `db:"moves"`
	Crowded       int     `db:"crowded"`
	Stabilised    int     `db:"stabilised"`
	AgentEnergy   float64 `db:"agent_energy"`
	SiteEnergy    float64 `db:"site_energy"`
	MaxGeneration int     `db:"max_generation"`
	TeamsJSON     string  `db:"teams_json"`
}

func (r reportRow) report() (engine.Report, error) {
	teams := make(map[int]int)
	if err := json.Unmarshal([]byte(r.TeamsJSON), &teams); err != nil {
		return engine.Report{}, fmt.Errorf("decode teams at tick %d: %w", r.Tick, err)
	}
	return engine.Report{
		RunID: r.RunID,
		Census: world.Census{
			Tick:          r.Tick,
			Population:    r.Population,
			Teams:         teams,
			AgentEnergy:   r.AgentEnergy,
			SiteEnergy:    r.SiteEnergy,
			MaxGeneration: r.MaxGeneration,
		},
		Activity: world.StepStats{
			Births:     r.Births,
			Deaths:     r.Deaths,
			Moves:      r.Moves,
			Crowded:    r.Crowded,
			Stabilised: r.Stabilised,
		},
	}, nil
}

// StartRun records a new run and marks it as the latest.
func (db *DB) StartRun(run engine.RunInfo) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`INSERT INTO runs (id, seed, width, height, started_at)
		VALUES (:id, :seed, :width, :height, :started_at)`,
		runRow{
			ID:        run.ID,
			Seed:      run.Seed,
			Width:     run.Width,
			Height:    run.Height,
			StartedAt: run.StartedAt.UnixMilli(),
		})
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES ('last_run', ?)", run.ID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Info("run recorded", "run", run.ID, "seed", run.Seed)
	return nil
}

// SaveReport appends one report to its run.
func (db *DB) SaveReport(r engine.Report) error {
	teams := r.Teams
	if teams == nil {
		teams = map[int]int{}
	}
	teamsJSON, err := json.Marshal(teams)
	if err != nil {
		return fmt.Errorf("encode teams: %w", err)
	}

	_, err = db.conn.NamedExec(`INSERT INTO reports
		(run_id, tick, population, births, deaths, moves, crowded, stabilised,
		 agent_energy, site_energy, max_generation, teams_json)
		VALUES (:run_id, :tick, :population, :births, :deaths, :moves, :crowded, :stabilised,
		 :agent_energy, :site_energy, :max_generation, :teams_json)`,
		reportRow{
			RunID:         r.RunID,
			Tick:          r.Tick,
			Population:    r.Population,
			Births:        r.Activity.Births,
			Deaths:        r.Activity.Deaths,
			Moves:         r.Activity.Moves,
			Crowded:       r.Activity.Crowded,
			Stabilised:    r.Activity.Stabilised,
			AgentEnergy:   r.AgentEnergy,
			SiteEnergy:    r.SiteEnergy,
			MaxGeneration: r.MaxGeneration,
			TeamsJSON:     string(teamsJSON),
		})
	if err != nil {
		return fmt.Errorf("insert report %s@%d: %w", r.RunID, r.Tick, err)
	}
	return nil
}

// Reports returns the most recent limit reports of a run, oldest first.
func (db *DB) Reports(runID string, limit int) ([]engine.Report, error) {
	var rows []reportRow
	err := db.conn.Select(&rows, `SELECT run_id, tick, population, births, deaths, moves,
		       crowded, stabilised, agent_energy, site_energy, max_generation, teams_json
		FROM (SELECT * FROM reports WHERE run_id = ? ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, runID, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}

	out := make([]engine.Report, 0, len(rows))
	for _, row := range rows {
		r, err := row.report()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Runs returns the most recent limit runs, newest first.
func (db *DB) Runs(limit int) ([]engine.RunInfo, error) {
	var rows []runRow
	err := db.conn.Select(&rows,
		"SELECT id, seed, width, height, started_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?",
		sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	out := make([]engine.RunInfo, len(rows))
	for i, row := range rows {
		out[i] = row.info()
	}
	return out, nil
}

// LastRun returns the id of the most recently started run, or "" if none.
func (db *DB) LastRun() (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = 'last_run'")
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// sqlLimit maps a non-positive limit to SQLite's "no limit".
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
