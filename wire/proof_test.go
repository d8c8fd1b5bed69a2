package wire

import (
	"testing"
	"time"

	board "github.com/anchorline/merkleboard"
	"github.com/go-logr/logr"
)

func buildPublishedProof(t *testing.T) (board.Hash, board.ProofChain) {
	t.Helper()
	now := time.Unix(1700000000, 0)
	cfg := board.Config{Now: func() time.Time { return now }}
	e, err := board.New(cfg, board.NewMemoryBackend(), logr.Discard())
	if err != nil {
		t.Fatalf("board.New: %v", err)
	}
	h1, err := e.SubmitLeaf([]byte("a"))
	if err != nil {
		t.Fatalf("SubmitLeaf: %v", err)
	}
	if _, err := e.SubmitLeaf([]byte("b")); err != nil {
		t.Fatalf("SubmitLeaf: %v", err)
	}
	if _, err := e.RequestNewPublishedRoot(); err != nil {
		t.Fatalf("RequestNewPublishedRoot: %v", err)
	}
	pc, err := e.GetProofChain(h1)
	if err != nil {
		t.Fatalf("GetProofChain: %v", err)
	}
	return h1, pc
}

func TestEncodeDecodeProofRoundTrip(t *testing.T) {
	h, pc := buildPublishedProof(t)

	data, err := EncodeProof(h, pc)
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("EncodeProof produced no bytes")
	}

	decoded, err := DecodeProof(data)
	if err != nil {
		t.Fatalf("DecodeProof: %v", err)
	}

	if decoded.RootHash != (board.Hash{}) {
		t.Fatalf("DecodeProof should not populate RootHash itself; got %v", decoded.RootHash)
	}
	if len(decoded.Chain) != len(pc.Chain) {
		t.Fatalf("decoded chain length = %d, want %d", len(decoded.Chain), len(pc.Chain))
	}
	for i, link := range decoded.Chain {
		if link.Hash != pc.Chain[i].Hash {
			t.Fatalf("chain[%d].Hash = %v, want %v", i, link.Hash, pc.Chain[i].Hash)
		}
		if link.Node.Branch.Left != pc.Chain[i].Node.Branch.Left || link.Node.Branch.Right != pc.Chain[i].Node.Branch.Right {
			t.Fatalf("chain[%d] branch children mismatch", i)
		}
	}
	if decoded.Root.Timestamp != pc.PublishedRoot.Root.Timestamp {
		t.Fatalf("Root.Timestamp = %d, want %d", decoded.Root.Timestamp, pc.PublishedRoot.Root.Timestamp)
	}
	if len(decoded.Root.Elements) != len(pc.PublishedRoot.Root.Elements) {
		t.Fatalf("Root.Elements length = %d, want %d", len(decoded.Root.Elements), len(pc.PublishedRoot.Root.Elements))
	}

	if err := board.ReplayProofChain(h, decoded.Chain, pc.PublishedRoot.Hash, decoded.Root); err != nil {
		t.Fatalf("ReplayProofChain on decoded proof: %v", err)
	}
}

func TestEncodeProofRejectsUnpublished(t *testing.T) {
	pc := board.ProofChain{}
	if _, err := EncodeProof(board.Hash{1}, pc); err == nil {
		t.Fatal("EncodeProof should reject a proof chain with no PublishedRoot")
	}
}

func TestDecodeProofRejectsChainLengthMismatch(t *testing.T) {
	h, pc := buildPublishedProof(t)
	data, err := EncodeProof(h, pc)
	if err != nil {
		t.Fatalf("EncodeProof: %v", err)
	}
	// Corrupt the first byte of the varint chain-length field's payload so
	// the declared length no longer matches what actually decodes.
	corrupt := append([]byte(nil), data...)
	corrupt[1] = 0x7f
	if _, err := DecodeProof(corrupt); err == nil {
		t.Fatal("DecodeProof should reject a mismatched declared chain length")
	}
}

func TestDecodeProofRejectsGarbage(t *testing.T) {
	if _, err := DecodeProof([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Fatal("DecodeProof should reject malformed input")
	}
}
