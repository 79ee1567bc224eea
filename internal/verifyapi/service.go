// Package verifyapi is a thin HTTP wrapper around the verifier
// (component L, §4.8) so it can run as a standalone service rather than
// only as a CLI.
package verifyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/nimbusiot/fogbatch/internal/objectstore"
	"github.com/nimbusiot/fogbatch/internal/verify"
)

// Anchors resolves a batch's anchored root and path CID. cmd/verifier's
// -serve mode wires noAnchors, which resolves no batch, so there every
// request is answered 404.
type Anchors interface {
	Lookup(batchID int64) (root string, pathCID string, ok bool)
}

// Service exposes the verifier over HTTP.
type Service struct {
	hashes  verify.HashMapFetcher
	blobs   verify.BlobFetcher
	anchors Anchors
	gzip    bool
	server  *http.Server
}

// NewService builds a verifyapi Service listening on port.
func NewService(hashes verify.HashMapFetcher, blobs verify.BlobFetcher, anchors Anchors, gz bool, port int) *Service {
	s := &Service{hashes: hashes, blobs: blobs, anchors: anchors, gzip: gz}

	router := mux.NewRouter()
	router.HandleFunc("/verify/{batchId}", s.handleVerify).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      c.Handler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe runs the service until it errors or is shut down.
func (s *Service) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(mux.Vars(r)["batchId"], 10, 64)
	if err != nil {
		http.Error(w, "invalid batch id", http.StatusBadRequest)
		return
	}

	root, pathCID, ok := s.anchors.Lookup(batchID)
	if !ok {
		http.Error(w, "batch has no anchored root", http.StatusNotFound)
		return
	}

	key, err := objectstore.KeyFromCID(pathCID, s.gzip)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid path cid: %v", err), http.StatusInternalServerError)
		return
	}

	result, err := verify.Verify(r.Context(), s.hashes, s.blobs, key, batchID, root)
	if err != nil {
		http.Error(w, fmt.Sprintf("verification failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
