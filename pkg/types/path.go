package types

// LeafPath is the compact inclusion proof for one leaf (§4.3). Dir[i]=='0'
// means the running hash was on the left at level i (sibling appended on
// the right); '1' means it was on the right (sibling prepended on the
// left). Dir and Hash always have equal length. The wire schema is fixed
// to {"dir","hash"} everywhere; producer and verifier must not mix it
// with any {"d","h"} variant seen in older snapshots (§9).
type LeafPath struct {
	Dir  string   `json:"dir"`
	Hash []string `json:"hash"`
}

// PathSet is the id→LeafPath map serialized to the object store and
// fetched back by the verifier (§4.3, §4.8). Keys are decimal leaf ids
// as strings, with "0" always present for the batch leaf.
type PathSet map[string]LeafPath

// LeafMap is the ordered id→hash map produced by the leaf-hash builder
// (§4.2): entry "0" first, then ascending measurement ids. It is kept as
// a plain map for storage; callers needing a deterministic hash of it
// must route through hashutil.Canonical, which sorts keys independent of
// map iteration order.
type LeafMap map[string]string
