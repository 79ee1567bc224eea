// Command cloud runs the cloud ingest service: Postgres-backed
// persistence plus the API-key/role-gated HTTP surface producers and
// verifiers talk to.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusiot/fogbatch/internal/cloudapi"
	"github.com/nimbusiot/fogbatch/internal/cloudstore"
	"github.com/nimbusiot/fogbatch/internal/config"
	"github.com/nimbusiot/fogbatch/internal/logging"
)

func main() {
	cfg := config.DefaultCloudConfig()

	var (
		httpAddr = flag.String("http", cfg.HTTPAddr, "cloud API listen address")
		dsn      = flag.String("dsn", config.EnvString("FOGBATCH_CLOUD_DSN", ""), "Postgres connection string")
		apiKeys  = flag.String("api-keys", config.EnvString("FOGBATCH_CLOUD_API_KEYS", ""), "comma-separated key:role pairs")
	)
	flag.Parse()

	cfg.HTTPAddr = *httpAddr
	cfg.DSN = *dsn
	cfg.APIKeysRaw = *apiKeys

	log := logging.New("cloud", logging.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", logging.Fields{"error": err.Error()})
	}

	st, err := cloudstore.Open(cfg.DSN)
	if err != nil {
		log.Fatal("failed to open cloud store", logging.Fields{"error": err.Error()})
	}
	defer st.Close()

	keys := cloudapi.ParseKeyStore(cfg.APIKeysRaw)
	if len(keys) == 0 {
		log.Warn("no API keys configured; every request will be rejected", nil)
	}

	server := cloudapi.NewServer(st, keys, logging.New("cloudapi", logging.LevelInfo))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("cloud API listening", logging.Fields{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("cloud API server failed", logging.Fields{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", logging.Fields{"signal": sig.String()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping cloud API server", logging.Fields{"error": err.Error()})
	}
	log.Info("cloud service stopped", nil)
}
