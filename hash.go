package board

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// HexString renders a Hash as lowercase hex, the external representation
// used in JSON and the CLI.
func HexString(h Hash) string { return hex.EncodeToString(h[:]) }

// ParseHash parses a lowercase-hex hash. Returns an error if s is not
// exactly HashSize bytes when decoded.
func ParseHash(s string) (Hash, error) {
	var out Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("board: parse hash: %w", err)
	}
	if len(b) != HashSize {
		return out, fmt.Errorf("board: parse hash: expected %d bytes, got %d", HashSize, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Hash derivation is pure and side-effect-free: the three hashX functions
// below are the only place SHA-256 preimages are assembled, and the byte
// layout is normative wire format — it must stay byte-exact so
// independently-written verifiers agree with this engine. No other hash
// function or preimage shape is permitted.

// hashLeaf computes 0x00 ‖ timestamp_be8 ‖ data.
func hashLeaf(ts uint64, data []byte) Hash {
	h := sha256.New()
	h.Write([]byte{byte(KindLeaf)})
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], ts)
	h.Write(tsb[:])
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashBranch computes 0x01 ‖ left ‖ right.
func hashBranch(left, right Hash) Hash {
	h := sha256.New()
	h.Write([]byte{byte(KindBranch)})
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashRoot computes 0x02 ‖ timestamp_be8 ‖ prior_or_empty ‖ elements_concat.
func hashRoot(ts uint64, prior *Hash, elements []Hash) Hash {
	h := sha256.New()
	h.Write([]byte{byte(KindRoot)})
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], ts)
	h.Write(tsb[:])
	if prior != nil {
		h.Write(prior[:])
	} else {
		var zero Hash
		h.Write(zero[:])
	}
	for _, e := range elements {
		h.Write(e[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// recomputeHash re-derives a node's key from its stored fields, so a
// caller can confirm that a node's recomputed hash equals its key. Neither
// the engine nor any backend calls it.
func recomputeHash(n Node) Hash {
	switch n.Kind {
	case KindLeaf:
		return hashLeaf(n.Leaf.Timestamp, n.Leaf.Data)
	case KindBranch:
		return hashBranch(n.Branch.Left, n.Branch.Right)
	case KindRoot:
		return hashRoot(n.Root.Timestamp, n.Root.Prior, n.Root.Elements)
	default:
		return Hash{}
	}
}

// depthOf walks child pointers down to a Leaf to compute a node's depth,
// used on backend recovery where the in-memory depth annotation of the
// pending forest has been lost and must be rebuilt.
func depthOf(get func(Hash) (Node, bool), h Hash) int {
	depth := 0
	for {
		n, ok := get(h)
		if !ok || n.Kind != KindBranch {
			return depth
		}
		depth++
		h = n.Branch.Left
	}
}
