package objectstore

import (
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/nimbusiot/fogbatch/internal/hashutil"
)

// DeriveCID computes the content identifier for data the way the cloud
// and verifier sides expect to find it: a SHA-256 multihash wrapped in a
// CIDv1 with the raw codec (§4.5, §4.8).
func DeriveCID(data []byte) (string, error) {
	sum := hashutil.Hash(data)
	digest, err := hex.DecodeString(sum)
	if err != nil {
		return "", fmt.Errorf("objectstore: decode digest: %w", err)
	}

	mh, err := multihash.Encode(digest, multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("objectstore: encode multihash: %w", err)
	}

	c := cid.NewCidV1(cid.Raw, mh)
	return c.String(), nil
}

// ObjectKey derives the bucket key for a paths blob: a fixed prefix plus
// the first 8 hex characters of H(content), exactly as §4.5 specifies, so
// identical content always lands on the same key and collisions are
// benign dedup rather than corruption. gz appends ".gz" when the blob was
// gzip-compressed before upload.
func ObjectKey(pathsJSON []byte, gz bool) string {
	digest := hashutil.Hash(pathsJSON)
	return keyFromDigestHex(digest, gz)
}

// KeyFromCID recovers the bucket key for a paths blob from its CID alone,
// without needing the original content: DeriveCID and ObjectKey both key
// off the same SHA-256 digest, so the verifier (which only ever learns
// the CID, never the raw blob in advance) can locate the object it must
// fetch (§4.8 step 2).
func KeyFromCID(cidStr string, gz bool) (string, error) {
	parsed, err := cid.Decode(cidStr)
	if err != nil {
		return "", fmt.Errorf("objectstore: decode cid: %w", err)
	}
	decoded, err := multihash.Decode(parsed.Hash())
	if err != nil {
		return "", fmt.Errorf("objectstore: decode multihash: %w", err)
	}
	return keyFromDigestHex(hex.EncodeToString(decoded.Digest), gz), nil
}

func keyFromDigestHex(digestHex string, gz bool) string {
	key := "merkle_path_" + digestHex[:8] + ".json"
	if gz {
		key += ".gz"
	}
	return key
}
