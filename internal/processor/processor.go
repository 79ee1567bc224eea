// Package processor implements the batch processor (component H, §4.5):
// the end-to-end pipeline that turns one sealed batch into a sealed,
// anchored, cloud-ready artifact set.
package processor

import (
	"context"
	"fmt"

	"github.com/nimbusiot/fogbatch/internal/chain"
	"github.com/nimbusiot/fogbatch/internal/hashutil"
	"github.com/nimbusiot/fogbatch/internal/logging"
	"github.com/nimbusiot/fogbatch/internal/merkle"
	"github.com/nimbusiot/fogbatch/internal/procerr"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// Store is the subset of the local store the processor needs (§4.4).
type Store interface {
	LoadBatchRows(ctx context.Context, batchID int64) (types.BatchMeta, []types.Measurement, error)
	RecordBatchArtifacts(ctx context.Context, batchID int64, root, cid, payloadJSON string) error
	MarkBatchError(ctx context.Context, batchID int64, kind, msg string) error
}

// ObjectStore is the subset of component G the processor needs (§4.5 step 5).
type ObjectStore interface {
	Publish(ctx context.Context, pathsJSON []byte) (key string, cid string, err error)
}

// Processor runs the pipeline of §4.5 for one batch at a time.
type Processor struct {
	store   Store
	objects ObjectStore
	anchor  chain.Anchorer
	log     *logging.Logger
}

// New builds a Processor wired to its three collaborators.
func New(store Store, objects ObjectStore, anchor chain.Anchorer, log *logging.Logger) *Processor {
	return &Processor{store: store, objects: objects, anchor: anchor, log: log}
}

// Process runs the §4.5 pipeline for batchID. It returns (true, nil) on
// success, (false, nil) if the batch had no rows (logged, not an error),
// and (false, err) only for errors the caller should surface; every
// pipeline failure that flips elaborable is recorded in the store and
// reported as (false, nil) since the scheduler's job is done once the
// batch is marked non-elaborable.
func (p *Processor) Process(ctx context.Context, batchID int64) (bool, error) {
	log := p.log.With(logging.Fields{"batch_id": batchID})

	meta, measurements, err := p.store.LoadBatchRows(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("processor: load batch rows: %w", err)
	}
	if len(measurements) == 0 {
		log.Warn("sealed batch has no measurements")
		return false, nil
	}

	payload := types.Payload{Batch: meta, Measurements: measurements}
	payloadJSON, err := hashutil.Canonical(payload)
	if err != nil {
		p.failBatch(ctx, batchID, procerr.New(procerr.KindPayloadInvalid, "canonicalize payload", err), log)
		return false, nil
	}

	leaves, ids, _, err := merkle.BuildLeaves(meta, measurements)
	if err != nil {
		p.failBatch(ctx, batchID, procerr.New(procerr.KindMerkleInvalid, "build leaves", err), log)
		return false, nil
	}

	tree, err := merkle.Build(leaves, ids)
	if err != nil {
		p.failBatch(ctx, batchID, procerr.New(procerr.KindMerkleInvalid, "build tree", err), log)
		return false, nil
	}

	pathsJSON, err := hashutil.Canonical(tree.Paths)
	if err != nil {
		p.failBatch(ctx, batchID, procerr.New(procerr.KindPayloadInvalid, "canonicalize paths", err), log)
		return false, nil
	}

	_, cid, err := p.objects.Publish(ctx, pathsJSON)
	if err != nil {
		p.failBatch(ctx, batchID, procerr.New(procerr.KindIPFS, "publish paths", err), log)
		return false, nil
	}

	if err := p.store.RecordBatchArtifacts(ctx, batchID, tree.Root, cid, string(payloadJSON)); err != nil {
		// External effects already succeeded; this is recoverable next
		// tick, not a poison condition (§4.5).
		log.Error("record_batch_artifacts failed, will retry", logging.Fields{"error": err.Error()})
		return false, nil
	}

	if err := p.anchor.Anchor(ctx, batchID, tree.Root, cid); err != nil {
		p.failBatch(ctx, batchID, procerr.New(procerr.KindBlockchain, "anchor root", err), log)
		return false, nil
	}

	log.Info("batch processed", logging.Fields{"root": tree.Root, "cid": cid})
	return true, nil
}

// failBatch records perr against batchID, unless its Kind is transient
// (§7: HTTP), in which case it only logs and lets the next tick retry.
func (p *Processor) failBatch(ctx context.Context, batchID int64, perr *procerr.Error, log *logging.Context) {
	if !perr.Kind.Persistable() {
		log.Warn("transient processing error, retrying next tick", logging.Fields{"kind": perr.Kind, "error": perr.Error()})
		return
	}
	if err := p.store.MarkBatchError(ctx, batchID, string(perr.Kind), perr.Error()); err != nil {
		log.Error("mark_batch_error failed", logging.Fields{"kind": perr.Kind, "error": err.Error()})
		return
	}
	log.Error("batch marked non-elaborable", logging.Fields{"kind": perr.Kind, "message": perr.Error()})
}
