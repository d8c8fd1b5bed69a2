// Package wire implements a compact binary encoding of a proof chain for
// out-of-band transport — attaching a proof to an email, storing it
// alongside archived data — independent of the REST server's JSON
// surface. Built directly on protowire's wire-primitive helpers rather
// than a generated protobuf message type, since no .proto schema for
// this domain exists to regenerate from; the encoding below defines its
// own compact field layout using the same varint/length-delimited
// primitives protobuf's own wire format uses.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/anchorline/merkleboard"
)

// field numbers for the top-level proof message.
const (
	fieldChainLen  = 1
	fieldLink      = 2
	fieldRootTS    = 3
	fieldRootPrior = 4
	fieldElement   = 5
)

// link kinds tag each encoded link; Branch is the only kind, since every
// chain entry is a Branch (a chain can be empty if the queried node was
// published directly, in which case the only thing encoded is the root).
const (
	linkKindBranch = 0
)

// EncodeProof serialises a board.ProofChain as queried against
// queriedHash into a compact binary form. Returns an error if pc has no
// PublishedRoot — an unpublished proof has nothing to transport yet.
func EncodeProof(queriedHash board.Hash, pc board.ProofChain) ([]byte, error) {
	if pc.PublishedRoot == nil {
		return nil, fmt.Errorf("board/wire: cannot encode a proof with no published root")
	}

	var out []byte
	out = protowire.AppendTag(out, fieldChainLen, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(len(pc.Chain)))

	for _, link := range pc.Chain {
		out = protowire.AppendTag(out, fieldLink, protowire.BytesType)
		var linkBuf []byte
		linkBuf = protowire.AppendVarint(linkBuf, linkKindBranch)
		linkBuf = protowire.AppendBytes(linkBuf, link.Hash[:])
		linkBuf = protowire.AppendBytes(linkBuf, link.Node.Branch.Left[:])
		linkBuf = protowire.AppendBytes(linkBuf, link.Node.Branch.Right[:])
		out = protowire.AppendBytes(out, linkBuf)
	}

	out = protowire.AppendTag(out, fieldRootTS, protowire.VarintType)
	out = protowire.AppendVarint(out, pc.PublishedRoot.Root.Timestamp)

	out = protowire.AppendTag(out, fieldRootPrior, protowire.BytesType)
	if pc.PublishedRoot.Root.Prior != nil {
		out = protowire.AppendBytes(out, pc.PublishedRoot.Root.Prior[:])
	} else {
		out = protowire.AppendBytes(out, nil)
	}

	for _, el := range pc.PublishedRoot.Root.Elements {
		out = protowire.AppendTag(out, fieldElement, protowire.BytesType)
		out = protowire.AppendBytes(out, el[:])
	}

	return out, nil
}

// DecodedProof is the result of DecodeProof: enough to hand straight to
// board.ReplayProofChain. The root's hash is not part of the encoding, so
// DecodeProof leaves RootHash zero; the caller supplies the root hash they
// already trust.
type DecodedProof struct {
	Chain    []board.ProofLink
	RootHash board.Hash
	Root     board.PublishedRoot
}

// DecodeProof parses the binary form EncodeProof produces. It does not
// trust anything about the bytes beyond their shape — recomputing
// RootHash and replaying Chain is the caller's job via
// board.ReplayProofChain.
func DecodeProof(data []byte) (DecodedProof, error) {
	var out DecodedProof
	var declaredLen uint64
	var haveLen bool

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return DecodedProof{}, fmt.Errorf("board/wire: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldChainLen:
			if typ != protowire.VarintType {
				return DecodedProof{}, fmt.Errorf("board/wire: field %d: wrong wire type", num)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DecodedProof{}, fmt.Errorf("board/wire: malformed chain length")
			}
			declaredLen, haveLen = v, true
			b = b[n:]

		case fieldLink:
			if typ != protowire.BytesType {
				return DecodedProof{}, fmt.Errorf("board/wire: field %d: wrong wire type", num)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedProof{}, fmt.Errorf("board/wire: malformed link")
			}
			b = b[n:]
			link, err := decodeLink(raw)
			if err != nil {
				return DecodedProof{}, err
			}
			out.Chain = append(out.Chain, link)

		case fieldRootTS:
			if typ != protowire.VarintType {
				return DecodedProof{}, fmt.Errorf("board/wire: field %d: wrong wire type", num)
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return DecodedProof{}, fmt.Errorf("board/wire: malformed timestamp")
			}
			out.Root.Timestamp = v
			b = b[n:]

		case fieldRootPrior:
			if typ != protowire.BytesType {
				return DecodedProof{}, fmt.Errorf("board/wire: field %d: wrong wire type", num)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedProof{}, fmt.Errorf("board/wire: malformed prior hash")
			}
			b = b[n:]
			if len(raw) == board.HashSize {
				var p board.Hash
				copy(p[:], raw)
				out.Root.Prior = &p
			}

		case fieldElement:
			if typ != protowire.BytesType {
				return DecodedProof{}, fmt.Errorf("board/wire: field %d: wrong wire type", num)
			}
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return DecodedProof{}, fmt.Errorf("board/wire: malformed element")
			}
			b = b[n:]
			if len(raw) != board.HashSize {
				return DecodedProof{}, fmt.Errorf("board/wire: element hash has wrong length %d", len(raw))
			}
			var h board.Hash
			copy(h[:], raw)
			out.Root.Elements = append(out.Root.Elements, h)

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return DecodedProof{}, fmt.Errorf("board/wire: malformed unknown field %d", num)
			}
			b = b[n:]
		}
	}

	if haveLen && declaredLen != uint64(len(out.Chain)) {
		return DecodedProof{}, fmt.Errorf("board/wire: declared chain length %d does not match %d decoded links", declaredLen, len(out.Chain))
	}
	return out, nil
}

func decodeLink(raw []byte) (board.ProofLink, error) {
	kind, n := protowire.ConsumeVarint(raw)
	if n < 0 {
		return board.ProofLink{}, fmt.Errorf("board/wire: malformed link kind")
	}
	raw = raw[n:]
	if kind != linkKindBranch {
		return board.ProofLink{}, fmt.Errorf("board/wire: unknown link kind %d", kind)
	}

	hashBytes, n := protowire.ConsumeBytes(raw)
	if n < 0 || len(hashBytes) != board.HashSize {
		return board.ProofLink{}, fmt.Errorf("board/wire: malformed link hash")
	}
	raw = raw[n:]

	leftBytes, n := protowire.ConsumeBytes(raw)
	if n < 0 || len(leftBytes) != board.HashSize {
		return board.ProofLink{}, fmt.Errorf("board/wire: malformed link left child")
	}
	raw = raw[n:]

	rightBytes, n := protowire.ConsumeBytes(raw)
	if n < 0 || len(rightBytes) != board.HashSize {
		return board.ProofLink{}, fmt.Errorf("board/wire: malformed link right child")
	}

	var link board.ProofLink
	copy(link.Hash[:], hashBytes)
	br := &board.Branch{}
	copy(br.Left[:], leftBytes)
	copy(br.Right[:], rightBytes)
	link.Node = board.Node{Kind: board.KindBranch, Branch: br}
	return link, nil
}
