package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusiot/fogbatch/internal/chain"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/internal/processor"
	"github.com/nimbusiot/fogbatch/internal/store"
)

type fakeObjects struct{}

func (fakeObjects) Publish(ctx context.Context, pathsJSON []byte) (string, string, error) {
	return "key", "test-cid", nil
}

var _ processor.ObjectStore = fakeObjects{}

func newTestScheduler(t *testing.T, cfg Config, cloudURL string) (*Scheduler, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fogbatch.db")
	st, err := store.Open(path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logging.New("test", logging.LevelFatal+1)
	proc := processor.New(st, fakeObjects{}, chain.NewMemoryAnchor(), log)
	cloud := NewCloudClient(cloudURL, "test-key", &http.Client{Timeout: time.Second})

	return New(cfg, st, proc, cloud, log), st
}

func TestTickSensors(t *testing.T) {
	var registered []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		registered = append(registered, body["id_sensore"])
		json.NewEncoder(w).Encode(map[string]interface{}{"conferma_ricezione": true, "id_sensore": body["id_sensore"]})
	}))
	defer server.Close()

	sched, st := newTestScheduler(t, Config{SensorBatchSize: 3}, server.URL)
	ctx := context.Background()
	require.NoError(t, st.UpsertSensor(ctx, "JOY001", "joystick"))

	sched.tickSensors(ctx)

	assert.Equal(t, []string{"JOY001"}, registered)
	sensors, err := st.SelectUnackedSensors(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, sensors, "sensor should be acked after confirmation")
}

func TestTickSensorsStopsOnNetworkFailure(t *testing.T) {
	sched, st := newTestScheduler(t, Config{SensorBatchSize: 3}, "http://127.0.0.1:1")
	ctx := context.Background()
	require.NoError(t, st.UpsertSensor(ctx, "JOY001", "joystick"))
	require.NoError(t, st.UpsertSensor(ctx, "TEMP001", "temperature"))

	sched.tickSensors(ctx)

	sensors, err := st.SelectUnackedSensors(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, sensors, 2, "a network failure must not ack any sensor")
}

func TestTickProcess(t *testing.T) {
	sched, st := newTestScheduler(t, Config{}, "")
	ctx := context.Background()
	require.NoError(t, st.UpsertSensor(ctx, "JOY001", "joystick"))
	_, err := st.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.0}, "t0")
	require.NoError(t, err)

	sched.tickProcess(ctx)

	batchID, ok, err := st.SelectSealedUnprocessed(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a processed batch must no longer be selected as unprocessed")
	_ = batchID
}

func TestTickDeliver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"conferma_ricezione": true, "id_batch": 1})
	}))
	defer server.Close()

	sched, st := newTestScheduler(t, Config{DeliverBatchSize: 1}, server.URL)
	ctx := context.Background()
	require.NoError(t, st.UpsertSensor(ctx, "JOY001", "joystick"))
	batchID, err := st.InsertMeasurement(ctx, "JOY001", map[string]interface{}{"x": 1.0}, "t0")
	require.NoError(t, err)
	require.NoError(t, st.RecordBatchArtifacts(ctx, batchID, "root", "cid", `{"batch":{}}`))
	require.NoError(t, st.AckSensor(ctx, "JOY001"))

	sched.tickDeliver(ctx)

	candidates, err := st.SelectReadyForDelivery(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, candidates, "delivered batch must be acked and excluded")
}
