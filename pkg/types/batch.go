package types

// Batch is the local store's view of a batch, including fields that
// never leave the fog node: ack/elaborable flags and the error taxonomy
// populated on unrecoverable pipeline failure (§3, §7).
type Batch struct {
	BatchID          int64   `json:"batch_id"`
	CreatedAt        string  `json:"created_at"`
	MeasurementCount int     `json:"measurement_count"`
	Complete         bool    `json:"complete"`
	Ack              bool    `json:"ack"`
	Elaborable       bool    `json:"elaborable"`
	MerkleRoot       *string `json:"merkle_root"`
	PathCID          *string `json:"path_cid"`
	PayloadJSON      *string `json:"payload_json"`
	ErrorKind        *string `json:"error_kind"`
	ErrorMessage     *string `json:"error_message"`
}

// Meta strips a Batch down to the BatchMeta leaf record: the root is
// deliberately excluded (§9 open-question decision) since it must be
// computable before the Merkle tree exists.
func (b Batch) Meta() BatchMeta {
	return BatchMeta{
		BatchID:          b.BatchID,
		CreatedAt:        b.CreatedAt,
		MeasurementCount: b.MeasurementCount,
	}
}

// ReadyForDelivery reports whether invariant 5 (§3) is satisfied from the
// batch's own fields alone; the caller is still responsible for checking
// that every referenced sensor has ack=true.
func (b Batch) ReadyForDelivery() bool {
	return b.Complete && b.Elaborable && !b.Ack && b.PayloadJSON != nil
}

// SealedUnprocessed reports whether the batch matches select_sealed_unprocessed
// (§4.4): sealed, not yet acknowledged, still elaborable, and missing at
// least one processing artifact.
func (b Batch) SealedUnprocessed() bool {
	return b.Complete && !b.Ack && b.Elaborable && (b.MerkleRoot == nil || b.PayloadJSON == nil)
}
