package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, threshold int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fogbatch.db")
	s, err := Open(path, threshold)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertMeasurement(t *testing.T) {
	ctx := context.Background()

	t.Run("FailsWithoutSensor", func(t *testing.T) {
		s := newTestStore(t, 3)
		_, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 0.5}, "t0")
		assert.ErrorIs(t, err, ErrSensorNotFound)
	})

	t.Run("OpensAndSealsAtThreshold", func(t *testing.T) {
		s := newTestStore(t, 3)
		require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))

		var batchID int64
		for i := 0; i < 3; i++ {
			id, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": float64(i)}, "t0")
			require.NoError(t, err)
			batchID = id
		}

		sealed, ok, err := s.SelectSealedUnprocessed(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, batchID, sealed)
	})

	t.Run("SubsequentMeasurementOpensNewBatch", func(t *testing.T) {
		s := newTestStore(t, 1)
		require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))

		first, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.0}, "t0")
		require.NoError(t, err)
		second, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 2.0}, "t1")
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
	})
}

func TestSelectReadyForDelivery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1)
	require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))

	batchID, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.0}, "t0")
	require.NoError(t, err)
	require.NoError(t, s.RecordBatchArtifacts(ctx, batchID, "root", "cid", `{"batch":{}}`))

	t.Run("NotReadyUntilSensorAcked", func(t *testing.T) {
		candidates, err := s.SelectReadyForDelivery(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})

	t.Run("ReadyOnceSensorAcked", func(t *testing.T) {
		require.NoError(t, s.AckSensor(ctx, "JOY001"))

		candidates, err := s.SelectReadyForDelivery(ctx, 10)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, batchID, candidates[0].BatchID)
	})

	t.Run("ExcludedAfterAck", func(t *testing.T) {
		require.NoError(t, s.AckBatch(ctx, batchID))

		candidates, err := s.SelectReadyForDelivery(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, candidates)
	})
}

func TestMarkBatchError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1)
	require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))
	batchID, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.0}, "t0")
	require.NoError(t, err)

	require.NoError(t, s.MarkBatchError(ctx, batchID, "IPFS", "upload failed"))

	_, ok, err := s.SelectSealedUnprocessed(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a non-elaborable batch must never be selected again")
}

func TestLoadBatchRows(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)
	require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))

	_, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 0.5}, "t0")
	require.NoError(t, err)
	batchID, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.5}, "t1")
	require.NoError(t, err)

	meta, measurements, err := s.LoadBatchRows(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, batchID, meta.BatchID)
	assert.Equal(t, 2, meta.MeasurementCount)
	require.Len(t, measurements, 2)
	assert.Less(t, measurements[0].MeasurementID, measurements[1].MeasurementID)
}

func TestGetBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1)
	require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))
	batchID, err := s.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.0}, "t0")
	require.NoError(t, err)

	batch, err := s.GetBatch(ctx, batchID)
	require.NoError(t, err)
	assert.True(t, batch.Complete)
	assert.False(t, batch.Ack)
	assert.True(t, batch.Elaborable)
	assert.Nil(t, batch.MerkleRoot)
	assert.False(t, batch.ReadyForDelivery(), "no payload yet recorded")

	require.NoError(t, s.RecordBatchArtifacts(ctx, batchID, "root", "cid", `{"batch":{}}`))
	batch, err = s.GetBatch(ctx, batchID)
	require.NoError(t, err)
	require.NotNil(t, batch.PayloadJSON)
	assert.True(t, batch.ReadyForDelivery())
	assert.False(t, batch.SealedUnprocessed(), "artifacts are now recorded")

	_, err = s.GetBatch(ctx, batchID+1000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelectUnackedSensors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 3)
	require.NoError(t, s.UpsertSensor(ctx, "JOY001", "joystick"))
	require.NoError(t, s.UpsertSensor(ctx, "TEMP001", "temperature"))
	require.NoError(t, s.AckSensor(ctx, "JOY001"))

	sensors, err := s.SelectUnackedSensors(ctx, 5)
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, "TEMP001", sensors[0].ID)
}
