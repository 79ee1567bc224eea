// Package cloudapi implements the cloud ingest service's HTTP surface
// (component K, §4.7, §6): sensor registration, batch write, and
// API-key/role-gated read-back of id→hash maps and metadata.
package cloudapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/nimbusiot/fogbatch/internal/cloudstore"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// Store is the persistence contract cloudapi needs from cloudstore.Store.
type Store interface {
	UpsertSensor(ctx context.Context, id, description string) error
	InsertBatchPayload(ctx context.Context, payload types.Payload) error
	IDHashMap(ctx context.Context, batchID int64) (types.LeafMap, error)
	GetMeasurement(ctx context.Context, measurementID int64) (types.Measurement, error)
	GetBatch(ctx context.Context, batchID int64) (types.BatchMeta, error)
}

// Server is the cloud ingest HTTP service.
type Server struct {
	store  Store
	router *mux.Router
	log    *logging.Logger
	keys   KeyStore
}

// NewServer builds the cloud API wired to st, gated by keys.
func NewServer(st Store, keys KeyStore, log *logging.Logger) *Server {
	s := &Server{
		store:  st,
		router: mux.NewRouter(),
		log:    log,
		keys:   keys,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured http.Handler.
func (s *Server) Router() http.Handler {
	return handlers.LoggingHandler(logWriter{s.log}, s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/sensori", s.requireRole(RoleProducer, s.handleRegisterSensor)).Methods(http.MethodPost)
	s.router.HandleFunc("/batch", s.requireRole(RoleProducer, s.handleWriteBatch)).Methods(http.MethodPost)
	s.router.HandleFunc("/batch/mappa-id-hash", s.requireRole(RoleVerifier, s.handleIDHashMap)).Methods(http.MethodGet)
	s.router.HandleFunc("/metadata/misurazione/{id}", s.requireRole(RoleVerifier, s.handleMeasurementMetadata)).Methods(http.MethodGet)
	s.router.HandleFunc("/metadata/batch/{id}", s.requireRole(RoleVerifier, s.handleBatchMetadata)).Methods(http.MethodGet)
}

type registerSensorRequest struct {
	IDSensore   string `json:"id_sensore"`
	Descrizione string `json:"descrizione"`
}

func (s *Server) handleRegisterSensor(w http.ResponseWriter, r *http.Request) {
	var req registerSensorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	id := types.NormalizeSensorID(req.IDSensore)
	if !types.ValidateSensorID(id) {
		http.Error(w, "id_sensore does not match the required format", http.StatusBadRequest)
		return
	}
	if err := s.store.UpsertSensor(r.Context(), id, req.Descrizione); err != nil {
		http.Error(w, fmt.Sprintf("store error: %v", err), http.StatusInternalServerError)
		return
	}
	sensor := types.Sensor{ID: id, Description: req.Descrizione}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conferma_ricezione": true,
		"id_sensore":         id,
		"tipo":               sensor.Kind(),
	})
}

func (s *Server) handleWriteBatch(w http.ResponseWriter, r *http.Request) {
	var payload types.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.store.InsertBatchPayload(r.Context(), payload); err != nil {
		http.Error(w, fmt.Sprintf("store error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conferma_ricezione": true,
		"id_batch":           payload.Batch.BatchID,
	})
}

func (s *Server) handleIDHashMap(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseInt64Query(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	leafMap, err := s.store.IDHashMap(r.Context(), batchID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leafMap)
}

func (s *Server) handleMeasurementMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Path(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	measurement, err := s.store.GetMeasurement(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, measurement)
}

func (s *Server) handleBatchMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := parseInt64Path(r, "id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	meta, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func parseInt64Query(r *http.Request, key string) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %q: %w", key, err)
	}
	return id, nil
}

func parseInt64Path(r *http.Request, key string) (int64, error) {
	raw := mux.Vars(r)[key]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid path parameter %q: %w", key, err)
	}
	return id, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if cloudstore.IsNotFound(err) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, fmt.Sprintf("store error: %v", err), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type logWriter struct {
	log *logging.Logger
}

func (l logWriter) Write(p []byte) (int, error) {
	l.log.Info(string(p))
	return len(p), nil
}
