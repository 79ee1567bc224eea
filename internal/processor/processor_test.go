package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusiot/fogbatch/internal/chain"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

type fakeStore struct {
	meta         types.BatchMeta
	measurements []types.Measurement
	loadErr      error

	recordedRoot    string
	recordedCID     string
	recordedPayload string
	recordErr       error

	errorKind string
	errorMsg  string
}

func (f *fakeStore) LoadBatchRows(ctx context.Context, batchID int64) (types.BatchMeta, []types.Measurement, error) {
	return f.meta, f.measurements, f.loadErr
}

func (f *fakeStore) RecordBatchArtifacts(ctx context.Context, batchID int64, root, cid, payloadJSON string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recordedRoot, f.recordedCID, f.recordedPayload = root, cid, payloadJSON
	return nil
}

func (f *fakeStore) MarkBatchError(ctx context.Context, batchID int64, kind, msg string) error {
	f.errorKind, f.errorMsg = kind, msg
	return nil
}

type fakeObjectStore struct {
	publishErr error
}

func (f *fakeObjectStore) Publish(ctx context.Context, pathsJSON []byte) (string, string, error) {
	if f.publishErr != nil {
		return "", "", f.publishErr
	}
	return "key", "cid-value", nil
}

func testMeasurements() []types.Measurement {
	return []types.Measurement{
		{MeasurementID: 1, SensorID: "JOY001", Timestamp: "t1", Data: map[string]interface{}{"x": 0.5}},
		{MeasurementID: 2, SensorID: "TEMP001", Timestamp: "t2", Data: map[string]interface{}{"valore": 21.0}},
		{MeasurementID: 3, SensorID: "JOY001", Timestamp: "t3", Data: map[string]interface{}{"x": -0.5}},
	}
}

func TestProcess(t *testing.T) {
	ctx := context.Background()
	meta := types.BatchMeta{BatchID: 1, CreatedAt: "t0", MeasurementCount: 3}
	log := logging.New("test", logging.LevelFatal+1)

	t.Run("SuccessRecordsArtifactsAndAnchors", func(t *testing.T) {
		store := &fakeStore{meta: meta, measurements: testMeasurements()}
		objects := &fakeObjectStore{}
		anchor := chain.NewMemoryAnchor()
		p := New(store, objects, anchor, log)

		ok, err := p.Process(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, store.recordedRoot)
		assert.Equal(t, "cid-value", store.recordedCID)
		assert.NotEmpty(t, store.recordedPayload)

		root, cid, found := anchor.Lookup(1)
		require.True(t, found)
		assert.Equal(t, store.recordedRoot, root)
		assert.Equal(t, "cid-value", cid)
	})

	t.Run("EmptyBatchReturnsFalseWithoutError", func(t *testing.T) {
		store := &fakeStore{meta: meta}
		p := New(store, &fakeObjectStore{}, chain.NewMemoryAnchor(), log)

		ok, err := p.Process(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, store.errorKind)
	})

	t.Run("IPFSFailureMarksBatchNonElaborable", func(t *testing.T) {
		store := &fakeStore{meta: meta, measurements: testMeasurements()}
		objects := &fakeObjectStore{publishErr: fmt.Errorf("upload refused")}
		p := New(store, objects, chain.NewMemoryAnchor(), log)

		ok, err := p.Process(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "IPFS", store.errorKind)
	})

	t.Run("BlockchainFailureMarksBatchNonElaborable", func(t *testing.T) {
		store := &fakeStore{meta: meta, measurements: testMeasurements()}
		p := New(store, &fakeObjectStore{}, chain.FailingAnchor{}, log)

		ok, err := p.Process(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "BLOCKCHAIN", store.errorKind)
	})

	t.Run("RecordFailureIsRecoverableNotPoisoned", func(t *testing.T) {
		store := &fakeStore{meta: meta, measurements: testMeasurements(), recordErr: fmt.Errorf("db blip")}
		p := New(store, &fakeObjectStore{}, chain.NewMemoryAnchor(), log)

		ok, err := p.Process(ctx, 1)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, store.errorKind, "a recoverable DB blip must not flip elaborable")
	})
}
