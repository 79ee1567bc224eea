// Package merkle builds and verifies the fixed power-of-two Merkle tree
// over a batch's leaf hashes (§4.3).
package merkle

import (
	"fmt"

	"github.com/nimbusiot/fogbatch/internal/hashutil"
	"github.com/nimbusiot/fogbatch/pkg/types"
)

// ErrNoLeaves, ErrNotPowerOfTwo and ErrIDCountMismatch are the three
// construction failure modes named in §4.3.
var (
	ErrNoLeaves        = fmt.Errorf("merkle: no leaves")
	ErrNotPowerOfTwo   = fmt.Errorf("merkle: leaf count is not a power of two")
	ErrIDCountMismatch = fmt.Errorf("merkle: id list length does not match leaf count")
)

// Tree is the result of Build: the root and the per-leaf compact path.
type Tree struct {
	Root  string
	Paths types.PathSet
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Build constructs the tree over leaves (already-hashed, in the order
// they should be paired) with the parallel ids slice giving each leaf's
// logical id. Pairing is strictly left-to-right and adjacent; the
// direction convention matches types.LeafPath: '0' when the running hash
// was on the left (sibling appended right), '1' when on the right
// (sibling prepended left).
func Build(leaves []string, ids []int64) (Tree, error) {
	n := len(leaves)
	if n == 0 {
		return Tree{}, ErrNoLeaves
	}
	if !isPowerOfTwo(n) {
		return Tree{}, ErrNotPowerOfTwo
	}
	if len(ids) != n {
		return Tree{}, ErrIDCountMismatch
	}

	dirs := make(map[int64]*[]byte, n)
	sibs := make(map[int64][]string, n)
	groups := make([][]int64, n)
	for i, id := range ids {
		groups[i] = []int64{id}
		d := make([]byte, 0, 8)
		dirs[id] = &d
		sibs[id] = make([]string, 0, 8)
	}

	level := append([]string(nil), leaves...)

	for len(level) > 1 {
		nextLevel := make([]string, 0, len(level)/2)
		nextGroups := make([][]int64, 0, len(level)/2)

		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := level[i+1]
			parent := hashutil.Hcat(left, right)
			nextLevel = append(nextLevel, parent)

			leftGroup := groups[i]
			rightGroup := groups[i+1]

			for _, id := range leftGroup {
				*dirs[id] = append(*dirs[id], '0')
				sibs[id] = append(sibs[id], right)
			}
			for _, id := range rightGroup {
				*dirs[id] = append(*dirs[id], '1')
				sibs[id] = append(sibs[id], left)
			}

			nextGroups = append(nextGroups, append(append([]int64(nil), leftGroup...), rightGroup...))
		}

		level = nextLevel
		groups = nextGroups
	}

	paths := make(types.PathSet, n)
	for _, id := range ids {
		paths[fmt.Sprintf("%d", id)] = types.LeafPath{
			Dir:  string(*dirs[id]),
			Hash: sibs[id],
		}
	}

	return Tree{Root: level[0], Paths: paths}, nil
}

// Verify recomputes the root implied by leafHash and path and compares it
// against expectedRoot (§4.3). It never mutates its inputs.
func Verify(leafHash string, path types.LeafPath, expectedRoot string) bool {
	if len(path.Dir) != len(path.Hash) {
		return false
	}
	h := leafHash
	for i := 0; i < len(path.Dir); i++ {
		sibling := path.Hash[i]
		if path.Dir[i] == '1' {
			h = hashutil.Hcat(sibling, h)
		} else {
			h = hashutil.Hcat(h, sibling)
		}
	}
	return h == expectedRoot
}
