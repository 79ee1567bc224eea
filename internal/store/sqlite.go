// Package store implements the fog node's local durable store (component
// F, §4.4): sensors, batches, measurements, and the lifecycle operations
// the scheduler and processor drive them through.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/nimbusiot/fogbatch/pkg/types"
)

// Store is a SQLite-backed implementation of the local store (§4.4).
type Store struct {
	db        *sql.DB
	threshold int

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures its schema exists. threshold is the measurement count at which
// a batch seals (§4.5); threshold+1 must be a power of two, validated by
// the caller's config.Validate.
func Open(path string, threshold int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite only allows one writer; serialize through a single connection
	// so the application-level mutex and the driver agree on concurrency.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db, threshold: threshold}
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
			description TEXT NOT NULL DEFAULT '',
			ack INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			measurement_count INTEGER NOT NULL DEFAULT 0,
			complete INTEGER NOT NULL DEFAULT 0,
			ack INTEGER NOT NULL DEFAULT 0,
			elaborable INTEGER NOT NULL DEFAULT 1,
			merkle_root TEXT,
			path_cid TEXT,
			payload_json TEXT,
			error_kind TEXT,
			error_message TEXT
		);

		CREATE TABLE IF NOT EXISTS measurements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sensor_id TEXT NOT NULL,
			batch_id INTEGER NOT NULL,
			data TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			FOREIGN KEY (sensor_id) REFERENCES sensors(id),
			FOREIGN KEY (batch_id) REFERENCES batches(id)
		);

		CREATE INDEX IF NOT EXISTS idx_measurements_batch ON measurements(batch_id);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// UpsertSensor registers a sensor if it doesn't already exist. Matches
// INSERT OR IGNORE semantics: re-registering an existing sensor is a
// no-op and never resets its ack flag (§3 invariant 7).
func (s *Store) UpsertSensor(ctx context.Context, id, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sensors (id, description, ack) VALUES (?, ?, 0)`,
		id, description)
	if err != nil {
		return wrapErr("upsert_sensor", id, err)
	}
	return nil
}

// InsertMeasurement performs the five-effect atomic operation of §4.4:
// validates the sensor exists, finds or opens the current batch, appends
// the measurement, bumps measurement_count, and seals the batch if the
// threshold is reached. Returns the batch id the measurement landed in.
func (s *Store) InsertMeasurement(ctx context.Context, sensorID string, data map[string]interface{}, timestamp string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("insert_measurement", sensorID, err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sensors WHERE id = ?`, sensorID).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, wrapErr("insert_measurement", sensorID, ErrSensorNotFound)
	}
	if err != nil {
		return 0, wrapErr("insert_measurement", sensorID, err)
	}

	var batchID int64
	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT id, measurement_count FROM batches WHERE complete = 0 ORDER BY id DESC LIMIT 1`,
	).Scan(&batchID, &count)

	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO batches (created_at, measurement_count, complete, ack) VALUES (?, 0, 0, 0)`,
			timestamp)
		if err != nil {
			return 0, wrapErr("insert_measurement", sensorID, err)
		}
		batchID, err = res.LastInsertId()
		if err != nil {
			return 0, wrapErr("insert_measurement", sensorID, err)
		}
		count = 0
	case err != nil:
		return 0, wrapErr("insert_measurement", sensorID, err)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, wrapErr("insert_measurement", sensorID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO measurements (sensor_id, batch_id, data, timestamp) VALUES (?, ?, ?, ?)`,
		sensorID, batchID, string(dataJSON), timestamp,
	); err != nil {
		return 0, wrapErr("insert_measurement", sensorID, err)
	}

	count++
	complete := count >= s.threshold
	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET measurement_count = ?, complete = ? WHERE id = ?`,
		count, boolToInt(complete), batchID,
	); err != nil {
		return 0, wrapErr("insert_measurement", sensorID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, wrapErr("insert_measurement", sensorID, err)
	}
	return batchID, nil
}

// SelectSealedUnprocessed returns the smallest batch id matching
// complete=true, ack=false, elaborable=true, and still missing an
// artifact (§4.4). ok is false if nothing matches.
func (s *Store) SelectSealedUnprocessed(ctx context.Context) (batchID int64, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id FROM batches
		WHERE complete = 1 AND ack = 0 AND elaborable = 1
		AND (merkle_root IS NULL OR payload_json IS NULL)
		ORDER BY id ASC LIMIT 1
	`)
	if err := row.Scan(&batchID); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, wrapErr("select_sealed_unprocessed", "", err)
	}
	return batchID, true, nil
}

// DeliveryCandidate is one row of select_ready_for_delivery (§4.4).
type DeliveryCandidate struct {
	BatchID     int64
	PayloadJSON string
}

// SelectReadyForDelivery returns up to limit batches with payload_json
// set, ack=false, elaborable=true, whose every referenced measurement's
// sensor has ack=true (§3 invariant 5, §4.4), ordered by batch_id.
func (s *Store) SelectReadyForDelivery(ctx context.Context, limit int) ([]DeliveryCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.payload_json
		FROM batches b
		WHERE b.payload_json IS NOT NULL
		AND b.ack = 0
		AND b.elaborable = 1
		AND NOT EXISTS (
			SELECT 1 FROM measurements m
			JOIN sensors s ON s.id = m.sensor_id
			WHERE m.batch_id = b.id AND s.ack = 0
		)
		ORDER BY b.id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("select_ready_for_delivery", "", err)
	}
	defer rows.Close()

	var out []DeliveryCandidate
	for rows.Next() {
		var c DeliveryCandidate
		if err := rows.Scan(&c.BatchID, &c.PayloadJSON); err != nil {
			return nil, wrapErr("select_ready_for_delivery", "", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SelectUnackedSensors returns up to limit sensors with ack=false (§4.4).
func (s *Store) SelectUnackedSensors(ctx context.Context, limit int) ([]types.Sensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description FROM sensors WHERE ack = 0 LIMIT ?`, limit)
	if err != nil {
		return nil, wrapErr("select_unacked_sensors", "", err)
	}
	defer rows.Close()

	var out []types.Sensor
	for rows.Next() {
		var sensor types.Sensor
		if err := rows.Scan(&sensor.ID, &sensor.Description); err != nil {
			return nil, wrapErr("select_unacked_sensors", "", err)
		}
		out = append(out, sensor)
	}
	return out, rows.Err()
}

// RecordBatchArtifacts writes root, path CID, and payload JSON in a
// single update (§4.4).
func (s *Store) RecordBatchArtifacts(ctx context.Context, batchID int64, root, cid, payloadJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET merkle_root = ?, path_cid = ?, payload_json = ? WHERE id = ?`,
		root, cid, payloadJSON, batchID)
	if err != nil {
		return wrapErr("record_batch_artifacts", fmt.Sprintf("%d", batchID), err)
	}
	return nil
}

// MarkBatchError flips elaborable to false and records the error kind and
// message (§4.4, §7). This transition is permanent; recovery is manual.
func (s *Store) MarkBatchError(ctx context.Context, batchID int64, kind, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE batches SET elaborable = 0, error_kind = ?, error_message = ? WHERE id = ?`,
		kind, msg, batchID)
	if err != nil {
		return wrapErr("mark_batch_error", fmt.Sprintf("%d", batchID), err)
	}
	return nil
}

// AckSensor flips a sensor's ack flag to true. The flip is idempotent;
// monotonicity (§3 invariant 7) is enforced by never offering a reverse
// operation.
func (s *Store) AckSensor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `UPDATE sensors SET ack = 1 WHERE id = ?`, id)
	if err != nil {
		return wrapErr("ack_sensor", id, err)
	}
	return nil
}

// AckBatch flips a batch's ack flag to true.
func (s *Store) AckBatch(ctx context.Context, batchID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `UPDATE batches SET ack = 1 WHERE id = ?`, batchID)
	if err != nil {
		return wrapErr("ack_batch", fmt.Sprintf("%d", batchID), err)
	}
	return nil
}

// LoadBatchRows fetches a batch's metadata and its measurements in
// ascending measurement_id order, the join query the processor runs at
// the start of H's pipeline (§4.2, §4.5).
func (s *Store) LoadBatchRows(ctx context.Context, batchID int64) (types.BatchMeta, []types.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.BatchMeta{}, nil, ErrClosed
	}

	var meta types.BatchMeta
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, measurement_count FROM batches WHERE id = ?`, batchID,
	).Scan(&meta.BatchID, &meta.CreatedAt, &meta.MeasurementCount)
	if err == sql.ErrNoRows {
		return types.BatchMeta{}, nil, wrapErr("load_batch_rows", fmt.Sprintf("%d", batchID), ErrNotFound)
	}
	if err != nil {
		return types.BatchMeta{}, nil, wrapErr("load_batch_rows", fmt.Sprintf("%d", batchID), err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sensor_id, timestamp, data
		FROM measurements
		WHERE batch_id = ?
		ORDER BY id ASC
	`, batchID)
	if err != nil {
		return types.BatchMeta{}, nil, wrapErr("load_batch_rows", fmt.Sprintf("%d", batchID), err)
	}
	defer rows.Close()

	var measurements []types.Measurement
	for rows.Next() {
		var m types.Measurement
		var dataJSON string
		if err := rows.Scan(&m.MeasurementID, &m.SensorID, &m.Timestamp, &dataJSON); err != nil {
			return types.BatchMeta{}, nil, wrapErr("load_batch_rows", fmt.Sprintf("%d", batchID), err)
		}
		decoder := json.NewDecoder(strings.NewReader(dataJSON))
		decoder.UseNumber()
		if err := decoder.Decode(&m.Data); err != nil {
			return types.BatchMeta{}, nil, wrapErr("load_batch_rows", fmt.Sprintf("%d", batchID), err)
		}
		measurements = append(measurements, m)
	}
	if err := rows.Err(); err != nil {
		return types.BatchMeta{}, nil, wrapErr("load_batch_rows", fmt.Sprintf("%d", batchID), err)
	}

	return meta, measurements, nil
}

// GetBatch returns the full lifecycle record for one batch, the view
// operational tooling and tests need beyond what LoadBatchRows exposes
// to the processor.
func (s *Store) GetBatch(ctx context.Context, batchID int64) (types.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.Batch{}, ErrClosed
	}

	var b types.Batch
	var complete, ack, elaborable int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, measurement_count, complete, ack, elaborable,
		       merkle_root, path_cid, payload_json, error_kind, error_message
		FROM batches WHERE id = ?
	`, batchID).Scan(
		&b.BatchID, &b.CreatedAt, &b.MeasurementCount, &complete, &ack, &elaborable,
		&b.MerkleRoot, &b.PathCID, &b.PayloadJSON, &b.ErrorKind, &b.ErrorMessage,
	)
	if err == sql.ErrNoRows {
		return types.Batch{}, wrapErr("get_batch", fmt.Sprintf("%d", batchID), ErrNotFound)
	}
	if err != nil {
		return types.Batch{}, wrapErr("get_batch", fmt.Sprintf("%d", batchID), err)
	}
	b.Complete = complete != 0
	b.Ack = ack != 0
	b.Elaborable = elaborable != 0
	return b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
