// Package verify implements the verifier (component L, §4.8): an
// independent check that a batch's delivered payload, its published
// Merkle paths, and the root anchored for it are all mutually
// consistent.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/nimbusiot/fogbatch/internal/merkle"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// LeafKind distinguishes which half of a leaf's identity a verdict is
// about: the reserved batch-metadata leaf, or an ordinary measurement
// leaf.
type LeafKind string

const (
	KindBatch       LeafKind = "batch"
	KindMeasurement LeafKind = "measurement"
)

// LeafVerdict is the per-leaf outcome of step 4 (§4.8).
type LeafVerdict struct {
	ID    int64    `json:"id"`
	Kind  LeafKind `json:"kind"`
	Valid bool     `json:"valid"`
	Note  string   `json:"note,omitempty"`
}

// Details partitions leaf verdicts into the ones that checked out and
// the ones that did not.
type Details struct {
	OK        []LeafVerdict `json:"ok"`
	Anomalies []LeafVerdict `json:"anomalies"`
}

// Result is the verifier's final report for one batch.
type Result struct {
	GlobalOK     bool    `json:"global_ok"`
	AnomalyCount int     `json:"anomaly_count"`
	Details      Details `json:"details"`
}

// HashMapFetcher resolves K's GET /batch/mappa-id-hash for a batch
// (§4.8 step 1).
type HashMapFetcher interface {
	IDHashMap(ctx context.Context, batchID int64) (types.LeafMap, error)
}

// BlobFetcher resolves the object store's GET for a key (§4.8 step 2).
type BlobFetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Verify runs the full §4.8 algorithm for one batch: it independently
// recomputes nothing about the root itself (the root is taken as given,
// already anchored) but checks that every leaf hash K reports is
// consistent with the published inclusion path against that root, and
// that the set of ids K reports matches the set of ids the paths blob
// covers.
func Verify(ctx context.Context, hashes HashMapFetcher, blobs BlobFetcher, pathKey string, batchID int64, root string) (Result, error) {
	idHashMap, err := hashes.IDHashMap(ctx, batchID)
	if err != nil {
		return Result{}, fmt.Errorf("verify: fetch id hash map: %w", err)
	}

	rawPaths, err := blobs.Fetch(ctx, pathKey)
	if err != nil {
		return Result{}, fmt.Errorf("verify: fetch paths blob: %w", err)
	}

	var paths types.PathSet
	if err := json.Unmarshal(rawPaths, &paths); err != nil {
		return Result{}, fmt.Errorf("verify: decode paths blob: %w", err)
	}

	details := Details{OK: []LeafVerdict{}, Anomalies: []LeafVerdict{}}

	structural := diffIDSets(idHashMap, paths)
	details.Anomalies = append(details.Anomalies, structural...)

	batchKey := fmt.Sprintf("%d", types.BatchLeafID)
	if _, inMap := idHashMap[batchKey]; inMap {
		if _, inPaths := paths[batchKey]; !inPaths {
			details.Anomalies = append(details.Anomalies, LeafVerdict{
				ID: types.BatchLeafID, Kind: KindBatch, Valid: false,
				Note: "batch leaf present in hash map but missing from published paths",
			})
		}
	}

	for _, id := range commonIDsSorted(idHashMap, paths) {
		key := fmt.Sprintf("%d", id)
		verdict := LeafVerdict{ID: id, Kind: leafKind(id)}

		if merkle.Verify(idHashMap[key], paths[key], root) {
			verdict.Valid = true
			details.OK = append(details.OK, verdict)
		} else {
			verdict.Valid = false
			verdict.Note = "leaf hash does not reconcile to the anchored root via its published path"
			details.Anomalies = append(details.Anomalies, verdict)
		}
	}

	return Result{
		GlobalOK:     len(details.Anomalies) == 0,
		AnomalyCount: len(details.Anomalies),
		Details:      details,
	}, nil
}

func leafKind(id int64) LeafKind {
	if id == types.BatchLeafID {
		return KindBatch
	}
	return KindMeasurement
}

// diffIDSets reports ids present in exactly one of the two id sets,
// excluding the reserved batch leaf id 0 (§4.8 step 3): Verify checks the
// batch leaf separately (a missing path for it, then its per-leaf verify
// pass), not through this structural comparison.
func diffIDSets(idHashMap types.LeafMap, paths types.PathSet) []LeafVerdict {
	var anomalies []LeafVerdict

	batchKey := fmt.Sprintf("%d", types.BatchLeafID)

	for key := range idHashMap {
		if key == batchKey {
			continue
		}
		if _, ok := paths[key]; !ok {
			id := parseID(key)
			anomalies = append(anomalies, LeafVerdict{
				ID: id, Kind: leafKind(id), Valid: false,
				Note: "id present in hash map but missing from published paths",
			})
		}
	}
	for key := range paths {
		if key == batchKey {
			continue
		}
		if _, ok := idHashMap[key]; !ok {
			id := parseID(key)
			anomalies = append(anomalies, LeafVerdict{
				ID: id, Kind: leafKind(id), Valid: false,
				Note: "id present in published paths but missing from hash map",
			})
		}
	}

	sort.Slice(anomalies, func(i, j int) bool { return anomalies[i].ID < anomalies[j].ID })
	return anomalies
}

func commonIDsSorted(idHashMap types.LeafMap, paths types.PathSet) []int64 {
	ids := make([]int64, 0, len(idHashMap))
	for key := range idHashMap {
		if _, ok := paths[key]; ok {
			ids = append(ids, parseID(key))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func parseID(key string) int64 {
	var id int64
	fmt.Sscanf(key, "%d", &id)
	return id
}
