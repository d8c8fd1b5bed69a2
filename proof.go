package board

// ProofLink is one ascending step of an inclusion proof: the hash and
// node of a Branch encountered while walking parent pointers upward from
// a queried Leaf or Branch.
type ProofLink struct {
	Hash Hash
	Node Node
}

// RootLink pairs a PublishedRoot with its hash, mirroring ProofLink for
// the terminal node of a proof.
type RootLink struct {
	Hash Hash
	Root PublishedRoot
}

// ProofChain is the result of GetProofChain: the ascending path from a
// queried node to its enclosing PublishedRoot, or a partial path ending
// in "not yet published" if PublishedRoot is nil.
type ProofChain struct {
	Chain         []ProofLink
	PublishedRoot *RootLink
}

// GetProofChain walks parent pointers from hash upward until a
// PublishedRoot is reached or no parent exists. The
// returned chain starts with the immediate parent of hash and ends with
// the topmost Branch whose own parent is the PublishedRoot; the root
// itself is returned separately in PublishedRoot, not as a chain entry.
func (e *Engine) GetProofChain(hash Hash) (ProofChain, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok, err := e.backend.GetNode(hash); err != nil {
		return ProofChain{}, &BackendUnavailableError{Op: "GetNode", Err: err}
	} else if !ok {
		return ProofChain{}, ErrUnknownHash
	}

	var chain []ProofLink
	cur := hash
	for {
		n, ok, err := e.backend.GetNode(cur)
		if err != nil {
			return ProofChain{}, &BackendUnavailableError{Op: "GetNode", Err: err}
		}
		if !ok {
			return ProofChain{}, ErrUnknownHash
		}
		parentHash, hasParent := n.ParentOf()
		if !hasParent {
			return ProofChain{Chain: chain}, nil
		}
		parentNode, ok, err := e.backend.GetNode(parentHash)
		if err != nil {
			return ProofChain{}, &BackendUnavailableError{Op: "GetNode", Err: err}
		}
		if !ok {
			return ProofChain{}, &InvariantViolationError{Detail: "dangling parent pointer at " + HexString(parentHash)}
		}
		if parentNode.Kind == KindRoot {
			return ProofChain{Chain: chain, PublishedRoot: &RootLink{Hash: parentHash, Root: *parentNode.Root}}, nil
		}
		chain = append(chain, ProofLink{Hash: parentHash, Node: parentNode})
		cur = parentHash
	}
}

// GetAllPublishedRoots walks the prior-chain from the latest published
// root back to the first one, newest first, reaching every root ever
// created.
func (e *Engine) GetAllPublishedRoots() ([]Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	head, ok, err := e.backend.GetLatestPublished()
	if err != nil {
		return nil, &BackendUnavailableError{Op: "GetLatestPublished", Err: err}
	}
	if !ok {
		return nil, nil
	}

	var out []Hash
	cur := head
	for {
		out = append(out, cur)
		n, ok, err := e.backend.GetNode(cur)
		if err != nil {
			return nil, &BackendUnavailableError{Op: "GetNode", Err: err}
		}
		if !ok || n.Kind != KindRoot {
			return nil, &InvariantViolationError{Detail: "prior-chain link does not resolve to a root: " + HexString(cur)}
		}
		if n.Root.Prior == nil {
			return out, nil
		}
		cur = *n.Root.Prior
	}
}

// MerkleProof is the classical sibling/direction list form of an
// inclusion proof, offered as a convenience over GetProofChain for
// callers that already speak that shape. Siblings[i]/Direction[i] describe the sibling
// encountered at the i-th ascending step; Direction[i] is true when the
// queried subtree was the left child at that step (so the sibling is on
// the right). Folding LeafHash through Siblings/Direction lands on one
// entry of the enclosing root's forest, not on RootHash directly — a
// PublishedRoot commits to an N-ary list of forest-top hashes, not a
// single binary root, so Timestamp/Prior/Elements are carried alongside
// so VerifyMerkleProof can perform that last step itself rather than
// requiring the caller to fetch the PublishedRoot separately.
type MerkleProof struct {
	LeafHash  Hash
	Siblings  []Hash
	Direction []bool
	Timestamp uint64
	Prior     *Hash
	Elements  []Hash
	RootHash  Hash
}

// GetMerkleProof re-expresses GetProofChain's result as a MerkleProof.
// Unlike some legacy Merkle-proof APIs this does not take a numeric leaf
// index: the hash already determines position via parent pointers, so
// requiring an index as well would just be a second, redundant way to
// say the same thing.
func (e *Engine) GetMerkleProof(hash Hash) (MerkleProof, error) {
	pc, err := e.GetProofChain(hash)
	if err != nil {
		return MerkleProof{}, err
	}
	if pc.PublishedRoot == nil {
		return MerkleProof{}, ErrNothingToPublish
	}

	mp := MerkleProof{
		LeafHash:  hash,
		RootHash:  pc.PublishedRoot.Hash,
		Timestamp: pc.PublishedRoot.Root.Timestamp,
		Prior:     pc.PublishedRoot.Root.Prior,
		Elements:  pc.PublishedRoot.Root.Elements,
	}
	prev := hash
	for _, link := range pc.Chain {
		br := link.Node.Branch
		switch {
		case br.Left == prev:
			mp.Siblings = append(mp.Siblings, br.Right)
			mp.Direction = append(mp.Direction, true)
		case br.Right == prev:
			mp.Siblings = append(mp.Siblings, br.Left)
			mp.Direction = append(mp.Direction, false)
		default:
			return MerkleProof{}, &InvariantViolationError{Detail: "branch " + HexString(link.Hash) + " does not contain " + HexString(prev)}
		}
		prev = link.Hash
	}
	return mp, nil
}
