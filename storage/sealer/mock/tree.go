package mock

import (
	"os"

	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"
)

const nodeSize = 32

func trunc254(h *[32]byte) {
	h[31] &= 0x3f
}

func hashPair(l, r []byte) [32]byte {
	var buf [2 * nodeSize]byte
	copy(buf[:nodeSize], l)
	copy(buf[nodeSize:], r)

	out := sha256.Sum256(buf[:])
	trunc254(&out)
	return out
}

// buildTree lays out a binary sha254 tree bottom-up, leaves first, root last.
// The leaf count must be a power of two.
func buildTree(leaves []byte) []byte {
	tree := make([]byte, 2*len(leaves)-nodeSize)
	copy(tree, leaves)

	in, out := 0, len(leaves)
	for width := len(leaves); width > nodeSize; width /= 2 {
		for i := 0; i < width; i += 2 * nodeSize {
			h := hashPair(tree[in+i:in+i+nodeSize], tree[in+i+nodeSize:in+i+2*nodeSize])
			copy(tree[out+i/2:], h[:])
		}
		in, out = out, out+width/2
	}

	return tree
}

func treeRoot(tree []byte) (root [32]byte) {
	copy(root[:], tree[len(tree)-nodeSize:])
	return root
}

func treeLeaf(tree []byte, idx uint64) (leaf [32]byte) {
	copy(leaf[:], tree[idx*nodeSize:])
	return leaf
}

// treePath returns the sibling hashes from the leaf level up to just below the root.
func treePath(tree []byte, leaves int, idx uint64) []byte {
	var path []byte
	off := 0
	for width := leaves; width > 1; width /= 2 {
		sib := off + int(idx^1)*nodeSize
		path = append(path, tree[sib:sib+nodeSize]...)
		off += width * nodeSize
		idx /= 2
	}
	return path
}

func verifyPath(root, leaf [32]byte, idx uint64, path []byte) bool {
	if len(path)%nodeSize != 0 {
		return false
	}

	cur := leaf
	for i := 0; i < len(path); i += nodeSize {
		sib := path[i : i+nodeSize]
		if idx&1 == 0 {
			cur = hashPair(cur[:], sib)
		} else {
			cur = hashPair(sib, cur[:])
		}
		idx >>= 1
	}

	return idx == 0 && cur == root
}

func readTreeRoot(p string) ([32]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return [32]byte{}, err
	}
	defer f.Close() // nolint

	st, err := f.Stat()
	if err != nil {
		return [32]byte{}, err
	}
	if st.Size() < nodeSize {
		return [32]byte{}, xerrors.Errorf("tree file %s too short (%d bytes)", p, st.Size())
	}

	var root [32]byte
	if _, err := f.ReadAt(root[:], st.Size()-nodeSize); err != nil {
		return [32]byte{}, xerrors.Errorf("reading tree root: %w", err)
	}
	return root, nil
}
