package board

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// pendingEntry pairs a forest hash with its depth. Depth is recomputed by
// recover by walking child pointers (depthOf); during normal operation it
// is maintained incrementally so submissions never need to touch the
// backend to learn a sibling's depth.
type pendingEntry struct {
	hash  Hash
	depth int
}

// Config controls Engine behaviour.
type Config struct {
	// Now returns the current time for timestamping leaves and published
	// roots. Defaults to time.Now; overridable so tests get deterministic
	// timestamps. The engine truncates to whole seconds to match the
	// 8-byte big-endian timestamp encoding used in hash preimages.
	Now func() time.Time
}

// Engine is the bulletin-board value: it owns one Backend and the mutex
// serialising every mutating operation over it. Multiple Engines may
// coexist in the same process, each against its own Backend; there is no
// package-level state.
type Engine struct {
	mu      sync.RWMutex
	backend Backend
	cfg     Config
	log     logr.Logger

	pending []pendingEntry // cached mirror of backend.GetPending(), with depths

	subMu       sync.Mutex
	subscribers map[chan struct{}]struct{}
}

// New constructs an Engine over backend and reconstructs its in-memory
// pending-forest depth annotations by recovery. log may be logr.Discard()
// for silent operation.
func New(cfg Config, backend Backend, log logr.Logger) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{backend: backend, cfg: cfg, log: log, subscribers: make(map[chan struct{}]struct{})}
	if err := e.recover(); err != nil {
		return nil, err
	}
	return e, nil
}

// Subscribe registers for a no-payload signal sent after every call to a
// mutating operation (SubmitLeaf, RequestNewPublishedRoot, CensorLeaf),
// including a call that returns an error and changed nothing;
// the caller re-reads whatever state it cares about (GetPendingHashValues,
// GetMostRecentPublishedRoot) rather than receiving a diff. Used by the
// WebSocket feed to avoid polling. Call the returned cancel func to stop
// receiving and release the channel.
func (e *Engine) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMu.Unlock()
	return ch, func() {
		e.subMu.Lock()
		delete(e.subscribers, ch)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// recover rebuilds the in-memory pending-forest depth annotations from
// the backend's persisted forest and validates the depth-strictly-
// decreasing invariant. It does not audit the rest of the node graph
// (parent links, sibling depths, recomputed hashes); this package has no
// such full audit.
func (e *Engine) recover() error {
	hashes, err := e.backend.GetPending()
	if err != nil {
		return &BackendUnavailableError{Op: "GetPending", Err: err}
	}
	entries := make([]pendingEntry, 0, len(hashes))
	get := func(h Hash) (Node, bool) {
		n, ok, _ := e.backend.GetNode(h)
		return n, ok
	}
	prevDepth := -1
	for i, h := range hashes {
		d := depthOf(get, h)
		if prevDepth != -1 && d >= prevDepth {
			return &InvariantViolationError{Detail: fmt.Sprintf(
				"pending forest not depth-strictly-decreasing at position %d: depth %d >= previous depth %d", i, d, prevDepth)}
		}
		prevDepth = d
		entries = append(entries, pendingEntry{hash: h, depth: d})
	}
	e.pending = entries
	return nil
}

// SubmitLeaf accepts a new opaque entry and returns its hash: stores the
// leaf, appends it to the pending forest, and coalesces equal-depth
// trailing pairs until the depth-strictly-decreasing invariant is
// restored.
func (e *Engine) SubmitLeaf(data []byte) (Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.notify()

	ts := uint64(e.cfg.Now().Unix())
	h := hashLeaf(ts, data)

	if err := e.backend.PutLeaf(h, ts, data); err != nil {
		return Hash{}, e.wrapPut("PutLeaf", h, err)
	}

	e.pending = append(e.pending, pendingEntry{hash: h, depth: 0})

	if err := e.coalesce(); err != nil {
		return Hash{}, err
	}

	if err := e.persistPending(); err != nil {
		return Hash{}, err
	}

	e.log.V(1).Info("submit_leaf", "hash", HexString(h), "pending_len", len(e.pending))
	return h, nil
}

// coalesce merges trailing equal-depth pairs in chronological order: the
// two most recently added entries, never an earlier pair, and never
// reordered — everything in the left subtree chronologically precedes
// everything in the right subtree.
func (e *Engine) coalesce() error {
	for len(e.pending) >= 2 {
		n := len(e.pending)
		l, r := e.pending[n-2], e.pending[n-1]
		if l.depth != r.depth {
			break
		}
		b := hashBranch(l.hash, r.hash)
		if err := e.backend.PutBranch(b, l.hash, r.hash); err != nil {
			return e.wrapPut("PutBranch", b, err)
		}
		if err := e.backend.SetParent(l.hash, b); err != nil {
			return &BackendUnavailableError{Op: "SetParent", Err: err}
		}
		if err := e.backend.SetParent(r.hash, b); err != nil {
			return &BackendUnavailableError{Op: "SetParent", Err: err}
		}
		e.pending = append(e.pending[:n-2], pendingEntry{hash: b, depth: l.depth + 1})
	}
	return nil
}

func (e *Engine) persistPending() error {
	hashes := make([]Hash, len(e.pending))
	for i, p := range e.pending {
		hashes[i] = p.hash
	}
	if err := e.backend.SetPending(hashes); err != nil {
		return &BackendUnavailableError{Op: "SetPending", Err: err}
	}
	return nil
}

func (e *Engine) wrapPut(op string, h Hash, err error) error {
	if err == ErrHashCollision {
		return &HashCollisionError{Hash: h}
	}
	return &BackendUnavailableError{Op: op, Err: err}
}

// RequestNewPublishedRoot seals the current pending forest into a new
// PublishedRoot chained to the prior one. Fails with ErrNothingToPublish
// if the forest is empty.
func (e *Engine) RequestNewPublishedRoot() (Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.notify()

	if len(e.pending) == 0 {
		return Hash{}, ErrNothingToPublish
	}

	elements := make([]Hash, len(e.pending))
	for i, p := range e.pending {
		elements[i] = p.hash
	}

	ts := uint64(e.cfg.Now().Unix())
	prior, hasPrior, err := e.backend.GetLatestPublished()
	if err != nil {
		return Hash{}, &BackendUnavailableError{Op: "GetLatestPublished", Err: err}
	}
	var priorPtr *Hash
	if hasPrior {
		priorPtr = &prior
	}

	r := hashRoot(ts, priorPtr, elements)
	if err := e.backend.PutPublished(r, ts, priorPtr, elements); err != nil {
		return Hash{}, e.wrapPut("PutPublished", r, err)
	}

	for _, el := range elements {
		if err := e.backend.SetParent(el, r); err != nil {
			// A backend that folds the parent updates into PutPublished has
			// already pointed el at r; that is not a failure.
			if err == ErrParentAlreadySet {
				if n, ok, gerr := e.backend.GetNode(el); gerr == nil && ok {
					if p, has := n.ParentOf(); has && p == r {
						continue
					}
				}
			}
			return Hash{}, &BackendUnavailableError{Op: "SetParent", Err: err}
		}
	}

	if err := e.backend.SetPending(nil); err != nil {
		return Hash{}, &BackendUnavailableError{Op: "SetPending", Err: err}
	}
	e.pending = nil

	e.log.Info("request_new_published_root", "hash", HexString(r), "elements", len(elements))
	return r, nil
}

// GetPendingHashValues returns the current pending forest. A read
// operation: it never mutates state.
func (e *Engine) GetPendingHashValues() ([]Hash, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Hash, len(e.pending))
	for i, p := range e.pending {
		out[i] = p.hash
	}
	return out, nil
}

// GetMostRecentPublishedRoot returns the latest published root's hash, if
// any publication has ever happened.
func (e *Engine) GetMostRecentPublishedRoot() (Hash, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	h, ok, err := e.backend.GetLatestPublished()
	if err != nil {
		return Hash{}, false, &BackendUnavailableError{Op: "GetLatestPublished", Err: err}
	}
	return h, ok, nil
}

// GetHashInfo resolves a single node, for the /get_hash_info surface.
func (e *Engine) GetHashInfo(hash Hash) (Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok, err := e.backend.GetNode(hash)
	if err != nil {
		return Node{}, &BackendUnavailableError{Op: "GetNode", Err: err}
	}
	if !ok {
		return Node{}, ErrUnknownHash
	}
	return n, nil
}

// CensorLeaf drops a Leaf's data while preserving its hash and parent
// linkage, so that any proof chain built before censorship still
// verifies after it.
func (e *Engine) CensorLeaf(hash Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.notify()

	if err := e.backend.CensorLeaf(hash); err != nil {
		if err == ErrUnknownHash {
			return ErrUnknownHash
		}
		if err == ErrNotALeaf || err == ErrAlreadyCensored {
			return err
		}
		return &BackendUnavailableError{Op: "CensorLeaf", Err: err}
	}
	e.log.Info("censor_leaf", "hash", HexString(hash))
	return nil
}
