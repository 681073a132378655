// Package relstore provides SQLite-based relational storage for crops,
// stages, harvests, calibrations, alerts, and events (C2). Adapted from
// the reference sqlite package's Open/migrate/WAL shape, with the model
// registry's table set replaced by the crop/alert domain.
package relstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/hydroloop/gateway/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/gateway.db.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "gateway.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity.
func (d *DB) Ping() error { return d.db.Ping() }

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS crops (
			id               TEXT PRIMARY KEY,
			variety          TEXT NOT NULL,
			zone             TEXT NOT NULL,
			sensor_id        TEXT NOT NULL,
			plant_date       INTEGER NOT NULL,
			status           TEXT NOT NULL DEFAULT 'active',
			current_stage    TEXT NOT NULL,
			stage_entered_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crop_stage_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			crop_id    TEXT NOT NULL,
			stage      TEXT NOT NULL,
			entered_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS harvests (
			id           TEXT PRIMARY KEY,
			crop_id      TEXT NOT NULL,
			harvested_at INTEGER NOT NULL,
			yield_grams  REAL NOT NULL,
			notes        TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS calibrations (
			id              TEXT PRIMARY KEY,
			sensor_id       TEXT NOT NULL,
			field           TEXT NOT NULL,
			last_calibrated INTEGER NOT NULL,
			interval_days   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id                 TEXT PRIMARY KEY,
			ts                 INTEGER NOT NULL,
			rule_id            TEXT NOT NULL,
			severity           TEXT NOT NULL,
			message            TEXT NOT NULL,
			recommended_action TEXT NOT NULL DEFAULT '',
			suppressed         BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			sensor_id  TEXT NOT NULL DEFAULT '',
			crop_id    TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL DEFAULT '',
			at         INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_aggregates (
			sensor_id TEXT NOT NULL,
			field     TEXT NOT NULL,
			day       TEXT NOT NULL,
			min       REAL NOT NULL,
			max       REAL NOT NULL,
			avg       REAL NOT NULL,
			PRIMARY KEY (sensor_id, field, day)
		)`,
		`CREATE TABLE IF NOT EXISTS hourly_aggregates (
			sensor_id TEXT NOT NULL,
			field     TEXT NOT NULL,
			hour      TEXT NOT NULL,
			min       REAL NOT NULL,
			max       REAL NOT NULL,
			avg       REAL NOT NULL,
			PRIMARY KEY (sensor_id, field, hour)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crops_status ON crops(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_rule ON alerts(rule_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, at)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// UpsertCrop inserts or updates a crop record.
func (d *DB) UpsertCrop(c domain.Crop) error {
	_, err := d.db.Exec(
		`INSERT INTO crops (id, variety, zone, sensor_id, plant_date, status, current_stage, stage_entered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			variety=excluded.variety, zone=excluded.zone, sensor_id=excluded.sensor_id,
			status=excluded.status, current_stage=excluded.current_stage,
			stage_entered_at=excluded.stage_entered_at`,
		c.ID, c.Variety, c.Zone, c.SensorID, c.PlantDate.Unix(), string(c.Status), c.CurrentStage, c.StageEnteredAt.Unix(),
	)
	return err
}

// GetCrop retrieves a crop by id.
func (d *DB) GetCrop(id string) (*domain.Crop, error) {
	row := d.db.QueryRow(
		`SELECT id, variety, zone, sensor_id, plant_date, status, current_stage, stage_entered_at
		 FROM crops WHERE id = ?`, id,
	)
	return scanCrop(row)
}

// ListActiveCrops returns all crops with status='active'.
func (d *DB) ListActiveCrops() ([]domain.Crop, error) {
	rows, err := d.db.Query(
		`SELECT id, variety, zone, sensor_id, plant_date, status, current_stage, stage_entered_at
		 FROM crops WHERE status = 'active'`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Crop
	for rows.Next() {
		c, err := scanCrop(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// RecordStageTransition appends a stage-history row for a crop; the
// auto-advance sweep calls this exactly once per transition.
func (d *DB) RecordStageTransition(cropID, stage string, at time.Time) error {
	_, err := d.db.Exec(
		`INSERT INTO crop_stage_history (crop_id, stage, entered_at) VALUES (?, ?, ?)`,
		cropID, stage, at.Unix(),
	)
	return err
}

// InsertHarvest records a harvest event.
func (d *DB) InsertHarvest(h domain.Harvest) error {
	_, err := d.db.Exec(
		`INSERT INTO harvests (id, crop_id, harvested_at, yield_grams, notes) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.CropID, h.HarvestedAt.Unix(), h.YieldGrams, h.Notes,
	)
	return err
}

// UpsertCalibration inserts or updates a calibration record.
func (d *DB) UpsertCalibration(c domain.Calibration) error {
	_, err := d.db.Exec(
		`INSERT INTO calibrations (id, sensor_id, field, last_calibrated, interval_days)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_calibrated=excluded.last_calibrated, interval_days=excluded.interval_days`,
		c.ID, c.SensorID, c.Field, c.LastCalibrated.Unix(), c.IntervalDays,
	)
	return err
}

// DueCalibrations returns calibrations due at or before asOf.
func (d *DB) DueCalibrations(asOf time.Time) ([]domain.Calibration, error) {
	rows, err := d.db.Query(`SELECT id, sensor_id, field, last_calibrated, interval_days FROM calibrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Calibration
	for rows.Next() {
		var c domain.Calibration
		var lastCalibrated int64
		if err := rows.Scan(&c.ID, &c.SensorID, &c.Field, &lastCalibrated, &c.IntervalDays); err != nil {
			return nil, err
		}
		c.LastCalibrated = time.Unix(lastCalibrated, 0)
		if c.IsDue(asOf) {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

// InsertAlert persists an alert history row.
func (d *DB) InsertAlert(a domain.Alert) error {
	_, err := d.db.Exec(
		`INSERT INTO alerts (id, ts, rule_id, severity, message, recommended_action, suppressed) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.Unix(), a.RuleID, string(a.Severity), a.Message, a.RecommendedAction, a.Suppressed,
	)
	return err
}

// InsertEvent persists a domain event row.
func (d *DB) InsertEvent(e domain.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(
		`INSERT INTO events (id, kind, sensor_id, crop_id, payload, at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.SensorID, e.CropID, string(payload), e.At.Unix(),
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCrop(s scanner) (*domain.Crop, error) {
	var c domain.Crop
	var plantDate, stageEnteredAt int64
	var status string
	err := s.Scan(&c.ID, &c.Variety, &c.Zone, &c.SensorID, &plantDate, &status, &c.CurrentStage, &stageEnteredAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.PlantDate = time.Unix(plantDate, 0)
	c.StageEnteredAt = time.Unix(stageEnteredAt, 0)
	c.Status = domain.CropStatus(status)
	return &c, nil
}
