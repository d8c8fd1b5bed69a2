package board

import "testing"

func TestHashIsZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Fatal("zero-value Hash should report IsZero")
	}
	nonZero := zero
	nonZero[31] = 1
	if nonZero.IsZero() {
		t.Fatal("hash with a set byte should not report IsZero")
	}
}

func TestKindString(t *testing.T) {
	cases := []struct {
		k    Kind
		want string
	}{
		{KindLeaf, "Leaf"},
		{KindBranch, "Branch"},
		{KindRoot, "Root"},
		{Kind(0xff), "Unknown"},
	}
	for _, c := range cases {
		if got := c.k.String(); got != c.want {
			t.Errorf("Kind(%v).String() = %q, want %q", c.k, got, c.want)
		}
	}
}

func TestNodeParentOf(t *testing.T) {
	parent := Hash{1}

	leafWithParent := Node{Kind: KindLeaf, Leaf: &Leaf{Parent: &parent}}
	if got, ok := leafWithParent.ParentOf(); !ok || got != parent {
		t.Fatalf("leaf with parent: got (%v, %v), want (%v, true)", got, ok, parent)
	}

	leafNoParent := Node{Kind: KindLeaf, Leaf: &Leaf{}}
	if _, ok := leafNoParent.ParentOf(); ok {
		t.Fatal("leaf with no parent should report ok=false")
	}

	branchWithParent := Node{Kind: KindBranch, Branch: &Branch{Parent: &parent}}
	if got, ok := branchWithParent.ParentOf(); !ok || got != parent {
		t.Fatalf("branch with parent: got (%v, %v), want (%v, true)", got, ok, parent)
	}

	root := Node{Kind: KindRoot, Root: &PublishedRoot{}}
	if _, ok := root.ParentOf(); ok {
		t.Fatal("a PublishedRoot is a terminal and must never report a parent")
	}
}
