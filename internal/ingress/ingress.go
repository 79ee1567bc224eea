// Package ingress implements the producer's HTTP ingestion surface
// (component J, §6): sensor registration and measurement intake.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/nimbusiot/fogbatch/internal/hashutil"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// Server is the producer's HTTP ingress (§6, §4.7).
type Server struct {
	store    Store
	router   *mux.Router
	log      *logging.Logger
	validate *validator.Validate
}

// Store is the local store contract the ingress handlers use.
type Store interface {
	UpsertSensor(ctx context.Context, id, description string) error
	InsertMeasurement(ctx context.Context, sensorID string, data map[string]interface{}, timestamp string) (int64, error)
}

// NewServer builds the ingress HTTP server wired to st.
func NewServer(st Store, log *logging.Logger) *Server {
	s := &Server{
		store:    st,
		router:   mux.NewRouter(),
		log:      log,
		validate: validator.New(),
	}
	s.setupRoutes()
	return s
}

// Router returns the configured http.Handler, wrapped with request
// logging the way the teacher wraps its wallet server.
func (s *Server) Router() http.Handler {
	return handlers.LoggingHandler(logWriter{s.log}, s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/sensori", s.handleRegisterSensor).Methods(http.MethodPost)
	s.router.HandleFunc("/misurazioni", s.handleInsertMeasurement).Methods(http.MethodPost)
}

type registerSensorRequest struct {
	IDSensore   string `json:"id_sensore" validate:"required"`
	Descrizione string `json:"descrizione"`
	Tipo        string `json:"tipo"`
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

func (s *Server) handleInsertMeasurement(w http.ResponseWriter, r *http.Request) {
	var req types.IngressMeasurement
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		http.Error(w, fmt.Sprintf("validation failed: %v", err), http.StatusBadRequest)
		return
	}

	sensorID := types.NormalizeSensorID(req.SensorID)
	data := hashutil.NormalizeData(req.ToData())
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	batchID, err := s.store.InsertMeasurement(r.Context(), sensorID, data, timestamp)
	if err != nil {
		http.Error(w, fmt.Sprintf("store error: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conferma_ricezione": true,
		"batch_id":           batchID,
		"timestamp":          timestamp,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// logWriter adapts *logging.Logger to the io.Writer gorilla/handlers
// expects for its access-log middleware.
type logWriter struct {
	log *logging.Logger
}

func (l logWriter) Write(p []byte) (int, error) {
	l.log.Info(string(p))
	return len(p), nil
}
