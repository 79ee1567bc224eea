// Command verifier runs the standalone verifier (component L, §4.8):
// either a one-shot CLI check against a single batch, or a long-running
// HTTP service when -serve is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimbusiot/fogbatch/internal/config"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/internal/objectstore"
	"github.com/nimbusiot/fogbatch/internal/verify"
	"github.com/nimbusiot/fogbatch/internal/verifyapi"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// cloudHashClient adapts the cloud ingest service's GET /batch/mappa-id-hash
// endpoint to verify.HashMapFetcher.
type cloudHashClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *cloudHashClient) IDHashMap(ctx context.Context, batchID int64) (types.LeafMap, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/batch/mappa-id-hash?id=%d", c.baseURL, batchID), nil)
	if err != nil {
		return nil, fmt.Errorf("verifier: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verifier: fetch id hash map: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("verifier: fetch id hash map: unexpected status %d", resp.StatusCode)
	}

	var out types.LeafMap
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("verifier: decode id hash map: %w", err)
	}
	return out, nil
}

// memAnchors resolves a single batch's root/CID supplied directly on the
// command line, for the one-shot CLI path.
type memAnchors struct {
	batchID int64
	root    string
	pathCID string
}

func (m memAnchors) Lookup(batchID int64) (string, string, bool) {
	if batchID != m.batchID {
		return "", "", false
	}
	return m.root, m.pathCID, true
}

func main() {
	cfg := config.DefaultVerifierConfig()

	var (
		cloudURL    = flag.String("cloud-url", config.EnvString("FOGBATCH_CLOUD_URL", ""), "cloud ingest service base URL")
		cloudKey    = flag.String("cloud-api-key", config.EnvString("FOGBATCH_CLOUD_API_KEY", ""), "verifier API key")
		bucket      = flag.String("object-store-bucket", config.EnvString("FOGBATCH_OBJECT_STORE_BUCKET", ""), "S3-compatible bucket")
		endpoint    = flag.String("object-store-endpoint", config.EnvString("FOGBATCH_OBJECT_STORE_ENDPOINT", ""), "S3-compatible endpoint")
		region      = flag.String("object-store-region", config.EnvString("FOGBATCH_OBJECT_STORE_REGION", ""), "object store region")
		accessKey   = flag.String("object-store-access-key", config.EnvString("FOGBATCH_OBJECT_STORE_ACCESS_KEY", ""), "object store access key")
		secretKey   = flag.String("object-store-secret-key", config.EnvString("FOGBATCH_OBJECT_STORE_SECRET_KEY", ""), "object store secret key")
		gzipObjects = flag.Bool("object-store-gzip", config.EnvBool("FOGBATCH_OBJECT_STORE_GZIP", cfg.ObjectStoreGzip), "the published paths blob is gzip-compressed")
		httpTimeout = flag.Duration("http-timeout", config.EnvDuration("FOGBATCH_HTTP_TIMEOUT", cfg.HTTPTimeout), "timeout for HTTP calls to the cloud ingest service")

		serve    = flag.Bool("serve", false, "run as a long-lived HTTP service instead of a one-shot check")
		httpAddr = flag.String("http", cfg.HTTPAddr, "HTTP listen address when -serve is set")

		batchID = flag.Int64("batch-id", 0, "batch id to verify (one-shot mode)")
		root    = flag.String("root", "", "anchored Merkle root for the batch (one-shot mode)")
		pathCID = flag.String("path-cid", "", "CID of the published paths blob (one-shot mode)")
	)
	flag.Parse()

	cfg.CloudBaseURL = *cloudURL
	cfg.CloudAPIKey = *cloudKey
	cfg.ObjectStoreBucket = *bucket
	cfg.ObjectStoreEndpoint = *endpoint
	cfg.ObjectStoreRegion = *region
	cfg.ObjectStoreAccessKey = *accessKey
	cfg.ObjectStoreSecretKey = *secretKey
	cfg.ObjectStoreGzip = *gzipObjects
	cfg.HTTPTimeout = *httpTimeout
	cfg.HTTPAddr = *httpAddr

	log := logging.New("verifier", logging.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", logging.Fields{"error": err.Error()})
	}

	hashes := &cloudHashClient{baseURL: cfg.CloudBaseURL, apiKey: cfg.CloudAPIKey, http: &http.Client{Timeout: cfg.HTTPTimeout}}
	blobs := objectstore.New(cfg.ObjectStoreRegion, cfg.ObjectStoreBucket, cfg.ObjectStoreEndpoint,
		cfg.ObjectStoreAccessKey, cfg.ObjectStoreSecretKey, cfg.ObjectStoreGzip)

	if *serve {
		runService(cfg, hashes, blobs, log)
		return
	}

	if *batchID == 0 || *root == "" || *pathCID == "" {
		log.Fatal("one-shot mode requires -batch-id, -root and -path-cid", nil)
	}

	anchors := memAnchors{batchID: *batchID, root: *root, pathCID: *pathCID}
	anchoredRoot, anchoredPathCID, ok := anchors.Lookup(*batchID)
	if !ok {
		log.Fatal("batch has no anchored root", nil)
	}

	key, err := objectstore.KeyFromCID(anchoredPathCID, cfg.ObjectStoreGzip)
	if err != nil {
		log.Fatal("invalid path CID", logging.Fields{"error": err.Error()})
	}

	result, err := verify.Verify(context.Background(), hashes, blobs, key, *batchID, anchoredRoot)
	if err != nil {
		log.Fatal("verification failed", logging.Fields{"error": err.Error()})
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal("failed to encode result", logging.Fields{"error": err.Error()})
	}
	fmt.Println(string(out))

	if !result.GlobalOK {
		os.Exit(1)
	}
}

func runService(cfg *config.VerifierConfig, hashes verify.HashMapFetcher, blobs verify.BlobFetcher, log *logging.Logger) {
	var port int
	fmt.Sscanf(cfg.HTTPAddr, ":%d", &port)

	svc := verifyapi.NewService(hashes, blobs, noAnchors{}, cfg.ObjectStoreGzip, port)

	go func() {
		log.Info("verifyapi listening", logging.Fields{"addr": cfg.HTTPAddr})
		if err := svc.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("verifyapi server failed", logging.Fields{"error": err.Error()})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", logging.Fields{"signal": sig.String()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping verifyapi server", logging.Fields{"error": err.Error()})
	}
}

// noAnchors is a placeholder verifyapi.Anchors for deployments that
// don't wire a real anchor lookup into the long-running service; the
// one-shot CLI path above is the primary way batches get checked.
type noAnchors struct{}

func (noAnchors) Lookup(batchID int64) (string, string, bool) { return "", "", false }
