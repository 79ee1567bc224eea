package verify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusiot/fogbatch/internal/merkle"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

type fakeHashes struct {
	idHashMap types.LeafMap
	err       error
}

func (f fakeHashes) IDHashMap(ctx context.Context, batchID int64) (types.LeafMap, error) {
	return f.idHashMap, f.err
}

type fakeBlobs struct {
	data []byte
	err  error
}

func (f fakeBlobs) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f.data, f.err
}

func buildTestTree(t *testing.T) (merkle.Tree, types.LeafMap) {
	t.Helper()
	meta := types.BatchMeta{BatchID: 1, CreatedAt: "t0", MeasurementCount: 1}
	measurements := []types.Measurement{
		{MeasurementID: 1, SensorID: "JOY001", Timestamp: "t1", Data: map[string]interface{}{"x": 1.0}},
	}
	leaves, ids, leafMap, err := merkle.BuildLeaves(meta, measurements)
	require.NoError(t, err)
	tree, err := merkle.Build(leaves, ids)
	require.NoError(t, err)
	return tree, leafMap
}

func TestVerifySuccess(t *testing.T) {
	tree, leafMap := buildTestTree(t)
	pathsJSON, err := json.Marshal(tree.Paths)
	require.NoError(t, err)

	result, err := Verify(context.Background(), fakeHashes{idHashMap: leafMap}, fakeBlobs{data: pathsJSON}, "key", 1, tree.Root)
	require.NoError(t, err)

	assert.True(t, result.GlobalOK)
	assert.Equal(t, 0, result.AnomalyCount)
	assert.Len(t, result.Details.OK, 2)
	assert.Empty(t, result.Details.Anomalies)
}

func TestVerifyDetectsTamperedMeasurementHash(t *testing.T) {
	tree, leafMap := buildTestTree(t)
	pathsJSON, err := json.Marshal(tree.Paths)
	require.NoError(t, err)

	tampered := make(types.LeafMap, len(leafMap))
	for k, v := range leafMap {
		tampered[k] = v
	}
	tampered["1"] = "0000000000000000000000000000000000000000000000000000000000000000"

	result, err := Verify(context.Background(), fakeHashes{idHashMap: tampered}, fakeBlobs{data: pathsJSON}, "key", 1, tree.Root)
	require.NoError(t, err)

	assert.False(t, result.GlobalOK)
	assert.Equal(t, 1, result.AnomalyCount)
	require.Len(t, result.Details.Anomalies, 1)
	assert.Equal(t, int64(1), result.Details.Anomalies[0].ID)
	assert.Equal(t, KindMeasurement, result.Details.Anomalies[0].Kind)
}

func TestVerifyDetectsTamperedBatchLeaf(t *testing.T) {
	tree, leafMap := buildTestTree(t)
	pathsJSON, err := json.Marshal(tree.Paths)
	require.NoError(t, err)

	tampered := make(types.LeafMap, len(leafMap))
	for k, v := range leafMap {
		tampered[k] = v
	}
	tampered["0"] = "1111111111111111111111111111111111111111111111111111111111111111"

	result, err := Verify(context.Background(), fakeHashes{idHashMap: tampered}, fakeBlobs{data: pathsJSON}, "key", 1, tree.Root)
	require.NoError(t, err)

	assert.False(t, result.GlobalOK)
	require.Len(t, result.Details.Anomalies, 1)
	assert.Equal(t, KindBatch, result.Details.Anomalies[0].Kind)
}

func TestVerifyDetectsMissingID(t *testing.T) {
	tree, leafMap := buildTestTree(t)

	partialPaths := types.PathSet{}
	for k, v := range tree.Paths {
		if k != "1" {
			partialPaths[k] = v
		}
	}
	pathsJSON, err := json.Marshal(partialPaths)
	require.NoError(t, err)

	result, err := Verify(context.Background(), fakeHashes{idHashMap: leafMap}, fakeBlobs{data: pathsJSON}, "key", 1, tree.Root)
	require.NoError(t, err)

	assert.False(t, result.GlobalOK)
	found := false
	for _, a := range result.Details.Anomalies {
		if a.ID == 1 && a.Note == "id present in hash map but missing from published paths" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestVerifyPropagatesFetchErrors(t *testing.T) {
	_, err := Verify(context.Background(), fakeHashes{err: assert.AnError}, fakeBlobs{}, "key", 1, "root")
	assert.Error(t, err)
}
