package board

import (
	"path/filepath"
	"testing"
)

func openTestSQLBackend(t *testing.T) Backend {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "board.db")
	b, err := OpenSQLBackend(dsn)
	if err != nil {
		t.Fatalf("OpenSQLBackend: %v", err)
	}
	t.Cleanup(func() {
		if closer, ok := b.(*sqlBackend); ok {
			_ = closer.Close()
		}
	})
	return b
}

func TestSQLBackendConformance(t *testing.T) {
	testBackendBasics(t, openTestSQLBackend(t))
}

func TestSQLBackendPutPublishedIsAtomic(t *testing.T) {
	b := openTestSQLBackend(t)

	leafHash := hashLeaf(1, []byte("a"))
	if err := b.PutLeaf(leafHash, 1, []byte("a")); err != nil {
		t.Fatalf("PutLeaf: %v", err)
	}
	if err := b.SetPending([]Hash{leafHash}); err != nil {
		t.Fatalf("SetPending: %v", err)
	}

	rootHash := hashRoot(2, nil, []Hash{leafHash})
	if err := b.PutPublished(rootHash, 2, nil, []Hash{leafHash}); err != nil {
		t.Fatalf("PutPublished: %v", err)
	}

	n, ok, err := b.GetNode(leafHash)
	if err != nil || !ok {
		t.Fatalf("GetNode(leaf): (%v, %v, %v)", n, ok, err)
	}
	if n.Leaf.Parent == nil || *n.Leaf.Parent != rootHash {
		t.Fatalf("leaf parent = %v, want %v", n.Leaf.Parent, rootHash)
	}

	n, ok, err = b.GetNode(rootHash)
	if err != nil || !ok || n.Kind != KindRoot {
		t.Fatalf("GetNode(root): (%v, %v, %v)", n, ok, err)
	}
	if len(n.Root.Elements) != 1 || n.Root.Elements[0] != leafHash {
		t.Fatalf("root elements = %v, want [%v]", n.Root.Elements, leafHash)
	}

	pending, err := b.GetPending()
	if err != nil {
		t.Fatalf("GetPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after PutPublished = %v, want empty", pending)
	}
}

func TestSQLBackendSerialOrdersPublishedRoots(t *testing.T) {
	b := openTestSQLBackend(t)

	leaf1 := hashLeaf(1, []byte("a"))
	if err := b.PutLeaf(leaf1, 1, []byte("a")); err != nil {
		t.Fatal(err)
	}
	root1 := hashRoot(2, nil, []Hash{leaf1})
	if err := b.PutPublished(root1, 2, nil, []Hash{leaf1}); err != nil {
		t.Fatal(err)
	}

	leaf2 := hashLeaf(3, []byte("b"))
	if err := b.PutLeaf(leaf2, 3, []byte("b")); err != nil {
		t.Fatal(err)
	}
	priorRoot1 := root1
	root2 := hashRoot(4, &priorRoot1, []Hash{leaf2})
	if err := b.PutPublished(root2, 4, &priorRoot1, []Hash{leaf2}); err != nil {
		t.Fatal(err)
	}

	head, ok, err := b.GetLatestPublished()
	if err != nil || !ok || head != root2 {
		t.Fatalf("GetLatestPublished = (%v, %v, %v), want (%v, true, nil)", head, ok, err, root2)
	}
}
