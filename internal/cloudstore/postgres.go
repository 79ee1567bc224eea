// Package cloudstore implements the cloud ingest service's persistence
// layer (part of component K, §4.7): a Postgres-backed remote relational
// store, independent from the producer's embedded SQLite store.
package cloudstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/nimbusiot/fogbatch/internal/merkle"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = fmt.Errorf("cloudstore: not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store is the cloud side's durable record of registered sensors and
// delivered batch payloads.
type Store struct {
	db *sql.DB
}

// Open connects to a Postgres database at dsn and ensures its schema
// exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cloudstore: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sensors (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS batches (
			id BIGINT PRIMARY KEY,
			created_at TEXT NOT NULL,
			measurement_count INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS measurements (
			id BIGINT PRIMARY KEY,
			batch_id BIGINT NOT NULL REFERENCES batches(id),
			sensor_id TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			data JSONB NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_measurements_batch ON measurements(batch_id);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("cloudstore: init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertSensor writes a sensor, ignoring duplicates by primary key
// (§6: insert-or-ignore).
func (s *Store) UpsertSensor(ctx context.Context, id, description string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensors (id, description) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, description)
	if err != nil {
		return fmt.Errorf("cloudstore: upsert sensor: %w", err)
	}
	return nil
}

// InsertBatchPayload persists a delivered payload's batch metadata and
// measurements in one logical operation, ignoring duplicates by primary
// key so repeated deliveries (at-least-once, §6) are harmless.
func (s *Store) InsertBatchPayload(ctx context.Context, payload types.Payload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cloudstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batches (id, created_at, measurement_count) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		payload.Batch.BatchID, payload.Batch.CreatedAt, payload.Batch.MeasurementCount,
	); err != nil {
		return fmt.Errorf("cloudstore: insert batch: %w", err)
	}

	for _, m := range payload.Measurements {
		dataJSON, err := json.Marshal(m.Data)
		if err != nil {
			return fmt.Errorf("cloudstore: marshal measurement data: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO measurements (id, batch_id, sensor_id, timestamp, data) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO NOTHING`,
			m.MeasurementID, payload.Batch.BatchID, m.SensorID, m.Timestamp, string(dataJSON),
		); err != nil {
			return fmt.Errorf("cloudstore: insert measurement %d: %w", m.MeasurementID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cloudstore: commit: %w", err)
	}
	return nil
}

// IDHashMap independently recomputes the id→leaf-hash map for a batch
// from its persisted payload (§4.8 step 1): this recomputation, done
// without trusting the producer's root, is what lets the verifier
// distinguish tampering in measurement rows from tampering in the batch
// metadata row.
func (s *Store) IDHashMap(ctx context.Context, batchID int64) (types.LeafMap, error) {
	meta, measurements, err := s.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	_, _, leafMap, err := merkle.BuildLeaves(meta, measurements)
	if err != nil {
		return nil, fmt.Errorf("cloudstore: build leaves: %w", err)
	}
	return leafMap, nil
}

// GetBatch returns a batch's stored metadata.
func (s *Store) GetBatch(ctx context.Context, batchID int64) (types.BatchMeta, error) {
	var meta types.BatchMeta
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, measurement_count FROM batches WHERE id = $1`, batchID,
	).Scan(&meta.BatchID, &meta.CreatedAt, &meta.MeasurementCount)
	if err == sql.ErrNoRows {
		return types.BatchMeta{}, ErrNotFound
	}
	if err != nil {
		return types.BatchMeta{}, fmt.Errorf("cloudstore: get batch: %w", err)
	}
	return meta, nil
}

// GetMeasurement returns a single stored measurement row.
func (s *Store) GetMeasurement(ctx context.Context, measurementID int64) (types.Measurement, error) {
	var m types.Measurement
	var dataJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sensor_id, timestamp, data FROM measurements WHERE id = $1`, measurementID,
	).Scan(&m.MeasurementID, &m.SensorID, &m.Timestamp, &dataJSON)
	if err == sql.ErrNoRows {
		return types.Measurement{}, ErrNotFound
	}
	if err != nil {
		return types.Measurement{}, fmt.Errorf("cloudstore: get measurement: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &m.Data); err != nil {
		return types.Measurement{}, fmt.Errorf("cloudstore: decode measurement data: %w", err)
	}
	return m, nil
}

func (s *Store) loadBatch(ctx context.Context, batchID int64) (types.BatchMeta, []types.Measurement, error) {
	meta, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return types.BatchMeta{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sensor_id, timestamp, data FROM measurements WHERE batch_id = $1 ORDER BY id ASC`,
		batchID)
	if err != nil {
		return types.BatchMeta{}, nil, fmt.Errorf("cloudstore: query measurements: %w", err)
	}
	defer rows.Close()

	var measurements []types.Measurement
	for rows.Next() {
		var m types.Measurement
		var dataJSON string
		if err := rows.Scan(&m.MeasurementID, &m.SensorID, &m.Timestamp, &dataJSON); err != nil {
			return types.BatchMeta{}, nil, fmt.Errorf("cloudstore: scan measurement: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &m.Data); err != nil {
			return types.BatchMeta{}, nil, fmt.Errorf("cloudstore: decode measurement data: %w", err)
		}
		measurements = append(measurements, m)
	}
	return meta, measurements, rows.Err()
}
