package merkle

import (
	"fmt"
	"sort"

	"github.com/nimbusiot/fogbatch/internal/hashutil"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// ErrEmptyBatch is D's failure mode when the row set for a batch is
// empty (§4.2).
var ErrEmptyBatch = fmt.Errorf("merkle: batch has no rows")

// BuildLeaves turns a batch's metadata and measurements into the ordered
// leaf-hash list, parallel id list, and id→hash map required by the
// Merkle engine (§4.2). Measurements may arrive in any order;
// BuildLeaves sorts them by ascending measurement_id so callers do not
// need to trust their query's ORDER BY.
func BuildLeaves(meta types.BatchMeta, measurements []types.Measurement) ([]string, []int64, types.LeafMap, error) {
	if len(measurements) == 0 {
		return nil, nil, nil, ErrEmptyBatch
	}

	sorted := append([]types.Measurement(nil), measurements...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MeasurementID < sorted[j].MeasurementID
	})

	hBatch, err := hashutil.HashJSON(meta)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("merkle: hash batch leaf: %w", err)
	}

	leaves := make([]string, 0, len(sorted)+1)
	ids := make([]int64, 0, len(sorted)+1)
	leafMap := make(types.LeafMap, len(sorted)+1)

	leaves = append(leaves, hBatch)
	ids = append(ids, types.BatchLeafID)
	leafMap[fmt.Sprintf("%d", types.BatchLeafID)] = hBatch

	for _, m := range sorted {
		h, err := hashutil.HashJSON(m)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("merkle: hash measurement %d leaf: %w", m.MeasurementID, err)
		}
		leaves = append(leaves, h)
		ids = append(ids, m.MeasurementID)
		leafMap[fmt.Sprintf("%d", m.MeasurementID)] = h
	}

	return leaves, ids, leafMap, nil
}
