package board

import "errors"

// Error kinds surfaced to callers. All of them propagate unmodified — the
// engine never retries and a mutating operation either commits in full or
// leaves the backend untouched.

// ErrUnknownHash is returned when a lookup or proof request names a hash
// that is not present in the store.
var ErrUnknownHash = errors.New("board: unknown hash")

// ErrNothingToPublish is returned by RequestNewPublishedRoot when the
// pending forest is empty.
var ErrNothingToPublish = errors.New("board: nothing to publish")

// ErrNotALeaf is returned when CensorLeaf or a leaf-only operation is
// asked to act on a hash that resolves to a Branch or PublishedRoot.
var ErrNotALeaf = errors.New("board: not a leaf")

// ErrAlreadyCensored is returned by CensorLeaf on a leaf whose data has
// already been withheld.
var ErrAlreadyCensored = errors.New("board: already censored")

// ErrParentAlreadySet is returned when a backend's SetParent is asked to
// reparent a node that already has a parent. Parent pointers are a
// derived index populated once, never mutated.
var ErrParentAlreadySet = errors.New("board: parent already set")

// BackendUnavailableError wraps any failure the backend surfaces while
// persisting or reading state. The operation that triggered it is aborted
// and the backend's state is left unchanged.
type BackendUnavailableError struct {
	Op  string
	Err error
}

func (e *BackendUnavailableError) Error() string {
	return "board: backend unavailable during " + e.Op + ": " + e.Err.Error()
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// ErrHashCollision is the sentinel a Backend returns from PutLeaf,
// PutBranch, or PutPublished when the hash already exists. The engine
// wraps it in a HashCollisionError carrying the offending hash before
// returning it to callers.
var ErrHashCollision = errors.New("board: hash collision")

// HashCollisionError signals that a freshly computed hash already exists
// in the store. Treated as fatal: either a catastrophic break of SHA-256's
// collision resistance, or identical content and timestamp (e.g. the same
// data submitted twice within one second, which produces the same leaf
// hash; SubmitLeaf then returns this error).
type HashCollisionError struct {
	Hash Hash
}

func (e *HashCollisionError) Error() string {
	return "board: hash collision at " + HexString(e.Hash)
}

// InvariantViolationError is raised when engine recovery in New finds the
// persisted pending forest not depth-strictly-decreasing (New then returns
// no Engine), when a proof walk meets a dangling parent pointer or a broken
// prior chain, and by OpenBackend for an unknown backend kind. Recovery
// checks only the pending forest's depth order: it does not look for
// dangling parent pointers, mismatched sibling depths, nodes with two
// parents, or stored nodes whose recomputed hash disagrees with their key.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return "board: invariant violation: " + e.Detail
}
