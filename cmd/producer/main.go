// Command producer runs the fog node: HTTP ingress, local store, and the
// three scheduler workers that process and deliver batches to the cloud.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusiot/fogbatch/internal/chain"
	"github.com/nimbusiot/fogbatch/internal/config"
	"github.com/nimbusiot/fogbatch/internal/ingress"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/internal/objectstore"
	"github.com/nimbusiot/fogbatch/internal/processor"
	"github.com/nimbusiot/fogbatch/internal/scheduler"
	"github.com/nimbusiot/fogbatch/internal/store"
)

func main() {
	cfg := config.DefaultProducerConfig()

	var (
		dbPath      = flag.String("db", cfg.DBPath, "path to the local SQLite database")
		httpAddr    = flag.String("http", cfg.HTTPAddr, "ingress HTTP listen address")
		threshold   = flag.Int("threshold", cfg.Threshold, "measurements per batch (threshold+1 must be a power of two)")
		cloudURL    = flag.String("cloud-url", config.EnvString("FOGBATCH_CLOUD_URL", ""), "cloud ingest service base URL")
		cloudKey    = flag.String("cloud-api-key", config.EnvString("FOGBATCH_CLOUD_API_KEY", ""), "producer API key for the cloud ingest service")
		bucket      = flag.String("object-store-bucket", config.EnvString("FOGBATCH_OBJECT_STORE_BUCKET", ""), "S3-compatible bucket for Merkle path blobs")
		endpoint    = flag.String("object-store-endpoint", config.EnvString("FOGBATCH_OBJECT_STORE_ENDPOINT", ""), "S3-compatible endpoint")
		region      = flag.String("object-store-region", config.EnvString("FOGBATCH_OBJECT_STORE_REGION", ""), "object store region")
		accessKey   = flag.String("object-store-access-key", config.EnvString("FOGBATCH_OBJECT_STORE_ACCESS_KEY", ""), "object store access key")
		secretKey   = flag.String("object-store-secret-key", config.EnvString("FOGBATCH_OBJECT_STORE_SECRET_KEY", ""), "object store secret key")
		gzipObjects = flag.Bool("object-store-gzip", config.EnvBool("FOGBATCH_OBJECT_STORE_GZIP", cfg.ObjectStoreGzip), "gzip-compress published Merkle path blobs")
		httpTimeout = flag.Duration("http-client-timeout", config.EnvDuration("FOGBATCH_HTTP_CLIENT_TIMEOUT", cfg.HTTPClientTimeout), "timeout for the producer's HTTP client to the cloud service")
	)
	flag.Parse()

	cfg.DBPath = *dbPath
	cfg.HTTPAddr = *httpAddr
	cfg.Threshold = *threshold
	cfg.CloudBaseURL = *cloudURL
	cfg.CloudAPIKey = *cloudKey
	cfg.ObjectStoreBucket = *bucket
	cfg.ObjectStoreEndpoint = *endpoint
	cfg.ObjectStoreRegion = *region
	cfg.ObjectStoreAccessKey = *accessKey
	cfg.ObjectStoreSecretKey = *secretKey
	cfg.ObjectStoreGzip = *gzipObjects
	cfg.HTTPClientTimeout = *httpTimeout

	log := logging.New("producer", logging.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", logging.Fields{"error": err.Error()})
	}

	st, err := store.Open(cfg.DBPath, cfg.Threshold)
	if err != nil {
		log.Fatal("failed to open local store", logging.Fields{"error": err.Error()})
	}
	defer st.Close()

	objects := objectstore.New(cfg.ObjectStoreRegion, cfg.ObjectStoreBucket, cfg.ObjectStoreEndpoint,
		cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, cfg.ObjectStoreGzip)

	anchor := chain.NewMemoryAnchor()

	proc := processor.New(st, objects, anchor, logging.New("processor", logging.LevelInfo))

	cloud := scheduler.NewCloudClient(cfg.CloudBaseURL, cfg.CloudAPIKey, &http.Client{Timeout: cfg.HTTPClientTimeout})

	schedCfg := scheduler.Config{
		SensorInterval:  cfg.SensorTickInterval,
		SensorDelay:     cfg.SensorTickDelay,
		SensorBatchSize: 3,

		ProcessInterval: cfg.ProcessTickInterval,
		ProcessDelay:    cfg.ProcessTickDelay,

		DeliverInterval:  cfg.DeliverTickInterval,
		DeliverDelay:     cfg.DeliverTickDelay,
		DeliverBatchSize: 1,
	}
	sched := scheduler.New(schedCfg, st, proc, cloud, logging.New("scheduler", logging.LevelInfo))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	ingressServer := ingress.NewServer(st, logging.New("ingress", logging.LevelInfo))
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      ingressServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("ingress listening", logging.Fields{"addr": cfg.HTTPAddr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("ingress server failed", logging.Fields{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", logging.Fields{"signal": sig.String()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping ingress server", logging.Fields{"error": err.Error()})
	}

	cancel()
	sched.Stop()
	log.Info("producer stopped", nil)
}
