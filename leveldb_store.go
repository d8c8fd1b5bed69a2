package board

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// levelBackend stores nodes in a LevelDB instance, keys prefixed by a
// single-byte table space the way the reference corpus's own LevelDB
// backend divides one flat keyspace into logical tables (see the
// corpus's TableSpace/ToDBKey pattern in backend/ldb.go) — generalised
// here from that corpus's 38-byte fixed keys to this package's 32-byte
// hash keys, plus a couple of fixed singleton keys for the head pointer
// and pending-forest snapshot.
type levelBackend struct {
	db *leveldb.DB
}

type tableSpace byte

const (
	spaceLeaf    tableSpace = 'L'
	spaceBranch  tableSpace = 'B'
	spaceRoot    tableSpace = 'R'
	spaceParent  tableSpace = 'P'
	spaceHead    tableSpace = 'H'
	spacePending tableSpace = 'D'
)

func dbKey(t tableSpace, suffix []byte) []byte {
	k := make([]byte, 1+len(suffix))
	k[0] = byte(t)
	copy(k[1:], suffix)
	return k
}

// OpenLevelBackend opens or creates a LevelDB-backed Backend at path.
func OpenLevelBackend(path string) (Backend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("board: open leveldb: %w", err)
	}
	return &levelBackend{db: db}, nil
}

func (b *levelBackend) exists(h Hash) (bool, error) {
	for _, sp := range []tableSpace{spaceLeaf, spaceBranch, spaceRoot} {
		ok, err := b.db.Has(dbKey(sp, h[:]), nil)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// leafRecord/branchRecord/rootRecord are the length-prefixed encodings
// stored under their respective table spaces — hand-rolled rather than
// gob/json, mirroring how the corpus's own LevelDB-backed stores pack
// fixed-width binary records directly (see backend/depot/ldb, backend/
// store/kvdb) rather than reaching for a generic serializer.

func encodeLeaf(l Leaf) []byte {
	out := make([]byte, 0, 8+1+4+len(l.Data)+1+HashSize)
	var tsb [8]byte
	binary.BigEndian.PutUint64(tsb[:], l.Timestamp)
	out = append(out, tsb[:]...)
	if l.Censored {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	var lenb [4]byte
	binary.BigEndian.PutUint32(lenb[:], uint32(len(l.Data)))
	out = append(out, lenb[:]...)
	out = append(out, l.Data...)
	return out
}

func decodeLeaf(b []byte) (Leaf, error) {
	if len(b) < 13 {
		return Leaf{}, fmt.Errorf("board: truncated leaf record")
	}
	l := Leaf{Timestamp: binary.BigEndian.Uint64(b[0:8]), Censored: b[8] == 1}
	n := binary.BigEndian.Uint32(b[9:13])
	if len(b) < 13+int(n) {
		return Leaf{}, fmt.Errorf("board: truncated leaf data")
	}
	if n > 0 {
		l.Data = append([]byte(nil), b[13:13+n]...)
	}
	return l, nil
}

func encodeBranch(br Branch) []byte {
	out := make([]byte, 2*HashSize)
	copy(out[:HashSize], br.Left[:])
	copy(out[HashSize:], br.Right[:])
	return out
}

func decodeBranch(b []byte) (Branch, error) {
	if len(b) != 2*HashSize {
		return Branch{}, fmt.Errorf("board: malformed branch record")
	}
	var br Branch
	copy(br.Left[:], b[:HashSize])
	copy(br.Right[:], b[HashSize:])
	return br, nil
}

func encodeRoot(r PublishedRoot) []byte {
	out := make([]byte, 8+HashSize+4+len(r.Elements)*HashSize)
	binary.BigEndian.PutUint64(out[0:8], r.Timestamp)
	if r.Prior != nil {
		copy(out[8:8+HashSize], r.Prior[:])
	}
	binary.BigEndian.PutUint32(out[8+HashSize:12+HashSize], uint32(len(r.Elements)))
	off := 12 + HashSize
	for _, e := range r.Elements {
		copy(out[off:off+HashSize], e[:])
		off += HashSize
	}
	return out
}

func decodeRoot(b []byte) (PublishedRoot, error) {
	if len(b) < 12+HashSize {
		return PublishedRoot{}, fmt.Errorf("board: truncated root record")
	}
	r := PublishedRoot{Timestamp: binary.BigEndian.Uint64(b[0:8])}
	var prior Hash
	copy(prior[:], b[8:8+HashSize])
	if !prior.IsZero() {
		r.Prior = &prior
	}
	n := binary.BigEndian.Uint32(b[8+HashSize : 12+HashSize])
	off := 12 + HashSize
	for i := uint32(0); i < n; i++ {
		if len(b) < off+HashSize {
			return PublishedRoot{}, fmt.Errorf("board: truncated root elements")
		}
		var h Hash
		copy(h[:], b[off:off+HashSize])
		r.Elements = append(r.Elements, h)
		off += HashSize
	}
	return r, nil
}

func (b *levelBackend) PutLeaf(hash Hash, timestamp uint64, data []byte) error {
	if ok, err := b.exists(hash); err != nil {
		return err
	} else if ok {
		return ErrHashCollision
	}
	return b.db.Put(dbKey(spaceLeaf, hash[:]), encodeLeaf(Leaf{Timestamp: timestamp, Data: data}), nil)
}

func (b *levelBackend) PutBranch(hash, left, right Hash) error {
	if ok, err := b.exists(hash); err != nil {
		return err
	} else if ok {
		return ErrHashCollision
	}
	return b.db.Put(dbKey(spaceBranch, hash[:]), encodeBranch(Branch{Left: left, Right: right}), nil)
}

func (b *levelBackend) PutPublished(hash Hash, timestamp uint64, prior *Hash, elements []Hash) error {
	if ok, err := b.exists(hash); err != nil {
		return err
	} else if ok {
		return ErrHashCollision
	}

	batch := new(leveldb.Batch)
	batch.Put(dbKey(spaceRoot, hash[:]), encodeRoot(PublishedRoot{Timestamp: timestamp, Prior: prior, Elements: elements}))
	batch.Put(dbKey(spaceHead, nil), hash[:])
	batch.Delete(dbKey(spacePending, nil))

	for _, el := range elements {
		if _, ok, err := b.parentOf(el); err != nil {
			return err
		} else if ok {
			return ErrParentAlreadySet
		}
		batch.Put(dbKey(spaceParent, el[:]), hash[:])
	}

	return b.db.Write(batch, nil)
}

func (b *levelBackend) parentOf(child Hash) (Hash, bool, error) {
	v, err := b.db.Get(dbKey(spaceParent, child[:]), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Hash{}, false, nil
	}
	if err != nil {
		return Hash{}, false, err
	}
	var p Hash
	copy(p[:], v)
	return p, true, nil
}

func (b *levelBackend) SetParent(child, parent Hash) error {
	if ok, err := b.exists(child); err != nil {
		return err
	} else if !ok {
		return ErrUnknownHash
	}
	if _, ok, err := b.parentOf(child); err != nil {
		return err
	} else if ok {
		return ErrParentAlreadySet
	}
	return b.db.Put(dbKey(spaceParent, child[:]), parent[:], nil)
}

func (b *levelBackend) GetNode(hash Hash) (Node, bool, error) {
	if v, err := b.db.Get(dbKey(spaceLeaf, hash[:]), nil); err == nil {
		l, err := decodeLeaf(v)
		if err != nil {
			return Node{}, false, err
		}
		if p, ok, err := b.parentOf(hash); err != nil {
			return Node{}, false, err
		} else if ok {
			l.Parent = &p
		}
		return Node{Kind: KindLeaf, Leaf: &l}, true, nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return Node{}, false, err
	}

	if v, err := b.db.Get(dbKey(spaceBranch, hash[:]), nil); err == nil {
		br, err := decodeBranch(v)
		if err != nil {
			return Node{}, false, err
		}
		if p, ok, err := b.parentOf(hash); err != nil {
			return Node{}, false, err
		} else if ok {
			br.Parent = &p
		}
		return Node{Kind: KindBranch, Branch: &br}, true, nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return Node{}, false, err
	}

	if v, err := b.db.Get(dbKey(spaceRoot, hash[:]), nil); err == nil {
		r, err := decodeRoot(v)
		if err != nil {
			return Node{}, false, err
		}
		return Node{Kind: KindRoot, Root: &r}, true, nil
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return Node{}, false, err
	}

	return Node{}, false, nil
}

func (b *levelBackend) GetPending() ([]Hash, error) {
	v, err := b.db.Get(dbKey(spacePending, nil), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(v)%HashSize != 0 {
		return nil, fmt.Errorf("board: malformed pending record")
	}
	out := make([]Hash, len(v)/HashSize)
	for i := range out {
		copy(out[i][:], v[i*HashSize:(i+1)*HashSize])
	}
	return out, nil
}

func (b *levelBackend) SetPending(hashes []Hash) error {
	if len(hashes) == 0 {
		err := b.db.Delete(dbKey(spacePending, nil), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil
		}
		return err
	}
	out := make([]byte, len(hashes)*HashSize)
	for i, h := range hashes {
		copy(out[i*HashSize:(i+1)*HashSize], h[:])
	}
	return b.db.Put(dbKey(spacePending, nil), out, nil)
}

func (b *levelBackend) GetLatestPublished() (Hash, bool, error) {
	v, err := b.db.Get(dbKey(spaceHead, nil), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Hash{}, false, nil
	}
	if err != nil {
		return Hash{}, false, err
	}
	var h Hash
	copy(h[:], v)
	return h, true, nil
}

func (b *levelBackend) CensorLeaf(hash Hash) error {
	v, err := b.db.Get(dbKey(spaceLeaf, hash[:]), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		if ok, err2 := b.exists(hash); err2 != nil {
			return err2
		} else if ok {
			return ErrNotALeaf
		}
		return ErrUnknownHash
	}
	if err != nil {
		return err
	}
	l, err := decodeLeaf(v)
	if err != nil {
		return err
	}
	if l.Censored {
		return ErrAlreadyCensored
	}
	l.Censored = true
	l.Data = nil
	return b.db.Put(dbKey(spaceLeaf, hash[:]), encodeLeaf(l), nil)
}

func (b *levelBackend) AllLeaves() (<-chan LeafRecord, func() error, error) {
	out := make(chan LeafRecord, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		it := b.db.NewIterator(util.BytesPrefix([]byte{byte(spaceLeaf)}), nil)
		defer it.Release()
		for it.Next() {
			select {
			case <-done:
				return
			default:
			}
			var h Hash
			copy(h[:], it.Key()[1:])
			l, err := decodeLeaf(it.Value())
			if err != nil {
				continue
			}
			out <- LeafRecord{Hash: h, Leaf: l}
		}
	}()
	return out, func() error { close(done); return nil }, nil
}

func (b *levelBackend) AllBranches() (<-chan BranchRecord, func() error, error) {
	out := make(chan BranchRecord, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		it := b.db.NewIterator(util.BytesPrefix([]byte{byte(spaceBranch)}), nil)
		defer it.Release()
		for it.Next() {
			select {
			case <-done:
				return
			default:
			}
			var h Hash
			copy(h[:], it.Key()[1:])
			br, err := decodeBranch(it.Value())
			if err != nil {
				continue
			}
			out <- BranchRecord{Hash: h, Branch: br}
		}
	}()
	return out, func() error { close(done); return nil }, nil
}

func (b *levelBackend) AllRoots() (<-chan RootRecord, func() error, error) {
	out := make(chan RootRecord, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		it := b.db.NewIterator(util.BytesPrefix([]byte{byte(spaceRoot)}), nil)
		defer it.Release()
		for it.Next() {
			select {
			case <-done:
				return
			default:
			}
			var h Hash
			copy(h[:], it.Key()[1:])
			r, err := decodeRoot(it.Value())
			if err != nil {
				continue
			}
			out <- RootRecord{Hash: h, Root: r}
		}
	}()
	return out, func() error { close(done); return nil }, nil
}

// Close releases the underlying LevelDB handle.
func (b *levelBackend) Close() error { return b.db.Close() }
