package board

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return newTestEngineOverBackend(t, NewMemoryBackend())
}

func newTestEngineOverBackend(t *testing.T, backend Backend) *Engine {
	t.Helper()
	now := time.Unix(1700000000, 0)
	cfg := Config{Now: func() time.Time { return now }}
	e, err := New(cfg, backend, logr.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestSubmitLeafAppendsToPending(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.SubmitLeaf([]byte("first"))
	if err != nil {
		t.Fatalf("SubmitLeaf: %v", err)
	}
	pending, err := e.GetPendingHashValues()
	if err != nil {
		t.Fatalf("GetPendingHashValues: %v", err)
	}
	if len(pending) != 1 || pending[0] != h {
		t.Fatalf("pending = %v, want [%v]", pending, h)
	}
}

func TestSubmitLeafCoalescesEqualDepthPair(t *testing.T) {
	e := newTestEngine(t)
	h1, err := e.SubmitLeaf([]byte("a"))
	if err != nil {
		t.Fatalf("SubmitLeaf 1: %v", err)
	}
	h2, err := e.SubmitLeaf([]byte("b"))
	if err != nil {
		t.Fatalf("SubmitLeaf 2: %v", err)
	}

	pending, err := e.GetPendingHashValues()
	if err != nil {
		t.Fatalf("GetPendingHashValues: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("two equal-depth leaves should coalesce into one branch, got pending = %v", pending)
	}

	n, err := e.GetHashInfo(pending[0])
	if err != nil {
		t.Fatalf("GetHashInfo: %v", err)
	}
	if n.Kind != KindBranch {
		t.Fatalf("coalesced entry kind = %v, want Branch", n.Kind)
	}
	if n.Branch.Left != h1 || n.Branch.Right != h2 {
		t.Fatalf("branch children = (%v, %v), want (%v, %v)", n.Branch.Left, n.Branch.Right, h1, h2)
	}

	leaf1, err := e.GetHashInfo(h1)
	if err != nil {
		t.Fatalf("GetHashInfo(h1): %v", err)
	}
	if p, ok := leaf1.ParentOf(); !ok || p != pending[0] {
		t.Fatalf("leaf1 parent = (%v, %v), want (%v, true)", p, ok, pending[0])
	}
}

func TestSubmitLeafDoesNotCoalesceUnequalDepth(t *testing.T) {
	e := newTestEngine(t)
	// Three leaves: first two coalesce into a depth-1 branch, the third
	// stays a bare depth-0 leaf — depths strictly decrease left to right.
	if _, err := e.SubmitLeaf([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitLeaf([]byte("b")); err != nil {
		t.Fatal(err)
	}
	h3, err := e.SubmitLeaf([]byte("c"))
	if err != nil {
		t.Fatal(err)
	}

	pending, err := e.GetPendingHashValues()
	if err != nil {
		t.Fatalf("GetPendingHashValues: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %v, want 2 entries (one branch, one leaf)", pending)
	}
	if pending[1] != h3 {
		t.Fatalf("last pending entry = %v, want %v", pending[1], h3)
	}
}

func TestRequestNewPublishedRootEmptyFails(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.RequestNewPublishedRoot(); err != ErrNothingToPublish {
		t.Fatalf("RequestNewPublishedRoot on empty forest = %v, want ErrNothingToPublish", err)
	}
}

func TestRequestNewPublishedRootClearsPendingAndChains(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.SubmitLeaf([]byte("a")); err != nil {
		t.Fatal(err)
	}

	root1, err := e.RequestNewPublishedRoot()
	if err != nil {
		t.Fatalf("RequestNewPublishedRoot 1: %v", err)
	}

	pending, err := e.GetPendingHashValues()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after publish = %v, want empty", pending)
	}

	head, ok, err := e.GetMostRecentPublishedRoot()
	if err != nil {
		t.Fatal(err)
	}
	if !ok || head != root1 {
		t.Fatalf("head = (%v, %v), want (%v, true)", head, ok, root1)
	}

	if _, err := e.SubmitLeaf([]byte("b")); err != nil {
		t.Fatal(err)
	}
	root2, err := e.RequestNewPublishedRoot()
	if err != nil {
		t.Fatalf("RequestNewPublishedRoot 2: %v", err)
	}

	n, err := e.GetHashInfo(root2)
	if err != nil {
		t.Fatal(err)
	}
	if n.Root.Prior == nil || *n.Root.Prior != root1 {
		t.Fatalf("root2.Prior = %v, want %v", n.Root.Prior, root1)
	}
}

func TestGetHashInfoUnknown(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.GetHashInfo(Hash{0xff}); err != ErrUnknownHash {
		t.Fatalf("GetHashInfo(unknown) = %v, want ErrUnknownHash", err)
	}
}

func TestCensorLeaf(t *testing.T) {
	e := newTestEngine(t)
	h, err := e.SubmitLeaf([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	if err := e.CensorLeaf(h); err != nil {
		t.Fatalf("CensorLeaf: %v", err)
	}

	n, err := e.GetHashInfo(h)
	if err != nil {
		t.Fatal(err)
	}
	if !n.Leaf.Censored || n.Leaf.Data != nil {
		t.Fatalf("censored leaf = %+v, want Censored=true Data=nil", n.Leaf)
	}

	if err := e.CensorLeaf(h); err != ErrAlreadyCensored {
		t.Fatalf("double censor = %v, want ErrAlreadyCensored", err)
	}
}

func TestCensorLeafRejectsNonLeaf(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.SubmitLeaf([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitLeaf([]byte("b")); err != nil {
		t.Fatal(err)
	}
	pending, err := e.GetPendingHashValues()
	if err != nil {
		t.Fatal(err)
	}
	branch := pending[0]

	if err := e.CensorLeaf(branch); err != ErrNotALeaf {
		t.Fatalf("CensorLeaf(branch) = %v, want ErrNotALeaf", err)
	}
}

func TestSubscribeNotifiedOnSubmit(t *testing.T) {
	e := newTestEngine(t)
	ch, cancel := e.Subscribe()
	defer cancel()

	if _, err := e.SubmitLeaf([]byte("a")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification after SubmitLeaf")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	e := newTestEngine(t)
	ch, cancel := e.Subscribe()
	cancel()

	if _, err := e.SubmitLeaf([]byte("a")); err != nil {
		t.Fatal(err)
	}

	select {
	case <-ch:
		t.Fatal("cancelled subscriber must not receive further notifications")
	default:
	}
}

func TestNewRecoversFromExistingBackend(t *testing.T) {
	backend := NewMemoryBackend()
	now := time.Unix(1700000000, 0)
	cfg := Config{Now: func() time.Time { return now }}

	e1, err := New(cfg, backend, logr.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e1.SubmitLeaf([]byte("a")); err != nil {
		t.Fatal(err)
	}

	e2, err := New(cfg, backend, logr.Discard())
	if err != nil {
		t.Fatalf("New on non-empty backend: %v", err)
	}
	pending, err := e2.GetPendingHashValues()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("recovered pending = %v, want 1 entry", pending)
	}
}
