package verifyapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusiot/fogbatch/internal/merkle"
	"github.com/nimbusiot/fogbatch/internal/objectstore"
	"github.com/nimbusiot/fogbatch/internal/verify"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

type fakeHashes struct {
	idHashMap types.LeafMap
}

func (f fakeHashes) IDHashMap(ctx context.Context, batchID int64) (types.LeafMap, error) {
	return f.idHashMap, nil
}

type fakeBlobs struct {
	data []byte
}

func (f fakeBlobs) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f.data, nil
}

type fakeAnchors struct {
	root    string
	pathCID string
	ok      bool
}

func (f fakeAnchors) Lookup(batchID int64) (string, string, bool) {
	return f.root, f.pathCID, f.ok
}

func routerOnly(s *Service) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/verify/{batchId}", s.handleVerify).Methods(http.MethodGet)
	return r
}

func TestHandleVerifyNotFound(t *testing.T) {
	s := &Service{hashes: fakeHashes{}, blobs: fakeBlobs{}, anchors: fakeAnchors{ok: false}}

	req := httptest.NewRequest(http.MethodGet, "/verify/5", nil)
	w := httptest.NewRecorder()
	routerOnly(s).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleVerifyInvalidBatchID(t *testing.T) {
	s := &Service{hashes: fakeHashes{}, blobs: fakeBlobs{}, anchors: fakeAnchors{}}

	req := httptest.NewRequest(http.MethodGet, "/verify/not-a-number", nil)
	w := httptest.NewRecorder()
	routerOnly(s).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleVerifySuccess(t *testing.T) {
	meta := types.BatchMeta{BatchID: 1, CreatedAt: "t0", MeasurementCount: 1}
	measurements := []types.Measurement{
		{MeasurementID: 1, SensorID: "JOY001", Timestamp: "t1", Data: map[string]interface{}{"x": 1.0}},
	}
	leaves, ids, leafMap, err := merkle.BuildLeaves(meta, measurements)
	require.NoError(t, err)
	tree, err := merkle.Build(leaves, ids)
	require.NoError(t, err)
	pathsJSON, err := json.Marshal(tree.Paths)
	require.NoError(t, err)

	cid, err := objectstore.DeriveCID(pathsJSON)
	require.NoError(t, err)

	s := &Service{
		hashes:  fakeHashes{idHashMap: leafMap},
		blobs:   fakeBlobs{data: pathsJSON},
		anchors: fakeAnchors{root: tree.Root, pathCID: cid, ok: true},
		gzip:    false,
	}

	req := httptest.NewRequest(http.MethodGet, "/verify/1", nil)
	w := httptest.NewRecorder()
	routerOnly(s).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result verify.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.GlobalOK)
}

func TestHandleVerifyRejectsGarbageCID(t *testing.T) {
	s := &Service{
		hashes:  fakeHashes{},
		blobs:   fakeBlobs{},
		anchors: fakeAnchors{root: "root", pathCID: "not-a-cid", ok: true},
	}

	req := httptest.NewRequest(http.MethodGet, "/verify/1", nil)
	w := httptest.NewRecorder()
	routerOnly(s).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

var _ verify.HashMapFetcher = fakeHashes{}
var _ verify.BlobFetcher = fakeBlobs{}
