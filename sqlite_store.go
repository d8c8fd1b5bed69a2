package board

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// sqlBackend stores nodes in the four-table schema carried over from the
// distilled specification's own wire description, via the corpus's own
// database/sql + modernc.org/sqlite pairing (see the corpus's own
// sqlite_store.go for the PRAGMA set and transaction style this mirrors).
type sqlBackend struct {
	db *sql.DB
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS LEAF (
  hash      BLOB PRIMARY KEY,
  timestamp INTEGER NOT NULL,
  data      BLOB,
  censored  INTEGER NOT NULL DEFAULT 0,
  parent    BLOB
);
CREATE TABLE IF NOT EXISTS BRANCH (
  hash        BLOB PRIMARY KEY,
  left_child  BLOB NOT NULL,
  right_child BLOB NOT NULL,
  parent      BLOB
);
CREATE TABLE IF NOT EXISTS PUBLISHED_ROOTS (
  hash      BLOB PRIMARY KEY,
  prior_hash BLOB,
  timestamp INTEGER NOT NULL,
  serial    INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS published_roots_serial_uq ON PUBLISHED_ROOTS(serial);
CREATE TABLE IF NOT EXISTS PUBLISHED_ROOT_REFERENCES (
  published  BLOB NOT NULL,
  referenced BLOB NOT NULL,
  position   INTEGER NOT NULL,
  PRIMARY KEY (published, position)
);
CREATE TABLE IF NOT EXISTS PENDING (
  position INTEGER PRIMARY KEY,
  hash     BLOB NOT NULL
);
`

// OpenSQLBackend opens or creates a SQLite-backed Backend at dsn.
func OpenSQLBackend(dsn string) (Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("board: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("board: ping sqlite: %w", err)
	}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("board: set %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("board: create schema: %w", err)
	}
	return &sqlBackend{db: db}, nil
}

func (s *sqlBackend) exists(ctx context.Context, tx *sql.Tx, h Hash) (bool, error) {
	for _, table := range []string{"LEAF", "BRANCH", "PUBLISHED_ROOTS"} {
		var dummy []byte
		err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT hash FROM %s WHERE hash=?", table), h[:]).Scan(&dummy)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
	}
	return false, nil
}

func (s *sqlBackend) PutLeaf(hash Hash, timestamp uint64, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if ok, err := s.exists(ctx, tx, hash); err != nil {
		return err
	} else if ok {
		return ErrHashCollision
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO LEAF(hash, timestamp, data, censored, parent) VALUES(?, ?, ?, 0, NULL)`,
		hash[:], timestamp, data); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlBackend) PutBranch(hash, left, right Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if ok, err := s.exists(ctx, tx, hash); err != nil {
		return err
	} else if ok {
		return ErrHashCollision
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO BRANCH(hash, left_child, right_child, parent) VALUES(?, ?, ?, NULL)`,
		hash[:], left[:], right[:]); err != nil {
		return err
	}
	return tx.Commit()
}

// PutPublished folds the new root insert, the PUBLISHED_ROOT_REFERENCES
// rows, every element's parent update, and the pending-forest reset into
// a single serializable transaction.
func (s *sqlBackend) PutPublished(hash Hash, timestamp uint64, prior *Hash, elements []Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if ok, err := s.exists(ctx, tx, hash); err != nil {
		return err
	} else if ok {
		return ErrHashCollision
	}

	var serial int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(serial), -1) + 1 FROM PUBLISHED_ROOTS`).Scan(&serial); err != nil {
		return err
	}

	var priorBytes []byte
	if prior != nil {
		priorBytes = prior[:]
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO PUBLISHED_ROOTS(hash, prior_hash, timestamp, serial) VALUES(?, ?, ?, ?)`,
		hash[:], priorBytes, timestamp, serial); err != nil {
		return err
	}

	for i, el := range elements {
		if _, err := tx.ExecContext(ctx, `INSERT INTO PUBLISHED_ROOT_REFERENCES(published, referenced, position) VALUES(?, ?, ?)`,
			hash[:], el[:], i); err != nil {
			return err
		}
		if err := setParentTx(ctx, tx, el, hash); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM PENDING`); err != nil {
		return err
	}

	return tx.Commit()
}

func setParentTx(ctx context.Context, tx *sql.Tx, child, parent Hash) error {
	for _, table := range []string{"LEAF", "BRANCH"} {
		var existing []byte
		err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT parent FROM %s WHERE hash=?", table), child[:]).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrParentAlreadySet
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET parent=? WHERE hash=?", table), parent[:], child[:])
		return err
	}
	return ErrUnknownHash
}

func (s *sqlBackend) SetParent(child, parent Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := setParentTx(ctx, tx, child, parent); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlBackend) GetNode(hash Hash) (Node, bool, error) {
	ctx := context.Background()

	var ts int64
	var data []byte
	var censored int
	var parent []byte
	err := s.db.QueryRowContext(ctx, `SELECT timestamp, data, censored, parent FROM LEAF WHERE hash=?`, hash[:]).
		Scan(&ts, &data, &censored, &parent)
	if err == nil {
		leaf := &Leaf{Timestamp: uint64(ts), Data: data, Censored: censored != 0}
		if parent != nil {
			var p Hash
			copy(p[:], parent)
			leaf.Parent = &p
		}
		return Node{Kind: KindLeaf, Leaf: leaf}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Node{}, false, err
	}

	var left, right []byte
	err = s.db.QueryRowContext(ctx, `SELECT left_child, right_child, parent FROM BRANCH WHERE hash=?`, hash[:]).
		Scan(&left, &right, &parent)
	if err == nil {
		br := &Branch{}
		copy(br.Left[:], left)
		copy(br.Right[:], right)
		if parent != nil {
			var p Hash
			copy(p[:], parent)
			br.Parent = &p
		}
		return Node{Kind: KindBranch, Branch: br}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Node{}, false, err
	}

	var priorBytes []byte
	err = s.db.QueryRowContext(ctx, `SELECT prior_hash, timestamp FROM PUBLISHED_ROOTS WHERE hash=?`, hash[:]).
		Scan(&priorBytes, &ts)
	if err == nil {
		root := &PublishedRoot{Timestamp: uint64(ts)}
		if priorBytes != nil {
			var p Hash
			copy(p[:], priorBytes)
			root.Prior = &p
		}
		rows, err := s.db.QueryContext(ctx, `SELECT referenced FROM PUBLISHED_ROOT_REFERENCES WHERE published=? ORDER BY position ASC`, hash[:])
		if err != nil {
			return Node{}, false, err
		}
		defer rows.Close()
		for rows.Next() {
			var ref []byte
			if err := rows.Scan(&ref); err != nil {
				return Node{}, false, err
			}
			var h Hash
			copy(h[:], ref)
			root.Elements = append(root.Elements, h)
		}
		return Node{Kind: KindRoot, Root: root}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Node{}, false, err
	}
	return Node{}, false, nil
}

func (s *sqlBackend) GetPending() ([]Hash, error) {
	rows, err := s.db.Query(`SELECT hash FROM PENDING ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Hash
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		var h Hash
		copy(h[:], b)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *sqlBackend) SetPending(hashes []Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM PENDING`); err != nil {
		return err
	}
	for i, h := range hashes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO PENDING(position, hash) VALUES(?, ?)`, i, h[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlBackend) GetLatestPublished() (Hash, bool, error) {
	var b []byte
	err := s.db.QueryRow(`SELECT hash FROM PUBLISHED_ROOTS ORDER BY serial DESC LIMIT 1`).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return Hash{}, false, nil
	}
	if err != nil {
		return Hash{}, false, err
	}
	var h Hash
	copy(h[:], b)
	return h, true, nil
}

func (s *sqlBackend) CensorLeaf(hash Hash) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var censored int
	err = tx.QueryRowContext(ctx, `SELECT censored FROM LEAF WHERE hash=?`, hash[:]).Scan(&censored)
	if errors.Is(err, sql.ErrNoRows) {
		if ok, err2 := s.exists(ctx, tx, hash); err2 != nil {
			return err2
		} else if ok {
			return ErrNotALeaf
		}
		return ErrUnknownHash
	}
	if err != nil {
		return err
	}
	if censored != 0 {
		return ErrAlreadyCensored
	}
	if _, err := tx.ExecContext(ctx, `UPDATE LEAF SET data=NULL, censored=1 WHERE hash=?`, hash[:]); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlBackend) AllLeaves() (<-chan LeafRecord, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx, `SELECT hash, timestamp, data, censored FROM LEAF`)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan LeafRecord, 64)
	go func() {
		defer close(out)
		defer rows.Close()
		defer cancel()
		for rows.Next() {
			var b, data []byte
			var ts int64
			var censored int
			if err := rows.Scan(&b, &ts, &data, &censored); err != nil {
				return
			}
			var h Hash
			copy(h[:], b)
			out <- LeafRecord{Hash: h, Leaf: Leaf{Timestamp: uint64(ts), Data: data, Censored: censored != 0}}
		}
	}()
	return out, func() error { cancel(); return nil }, nil
}

func (s *sqlBackend) AllBranches() (<-chan BranchRecord, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx, `SELECT hash, left_child, right_child FROM BRANCH`)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan BranchRecord, 64)
	go func() {
		defer close(out)
		defer rows.Close()
		defer cancel()
		for rows.Next() {
			var hb, lb, rb []byte
			if err := rows.Scan(&hb, &lb, &rb); err != nil {
				return
			}
			var h, l, r Hash
			copy(h[:], hb)
			copy(l[:], lb)
			copy(r[:], rb)
			out <- BranchRecord{Hash: h, Branch: Branch{Left: l, Right: r}}
		}
	}()
	return out, func() error { cancel(); return nil }, nil
}

func (s *sqlBackend) AllRoots() (<-chan RootRecord, func() error, error) {
	ctx, cancel := context.WithCancel(context.Background())
	rows, err := s.db.QueryContext(ctx, `SELECT hash, prior_hash, timestamp FROM PUBLISHED_ROOTS ORDER BY serial ASC`)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	out := make(chan RootRecord, 64)
	go func() {
		defer close(out)
		defer rows.Close()
		defer cancel()
		for rows.Next() {
			var hb, pb []byte
			var ts int64
			if err := rows.Scan(&hb, &pb, &ts); err != nil {
				return
			}
			var h Hash
			copy(h[:], hb)
			root := PublishedRoot{Timestamp: uint64(ts)}
			if pb != nil {
				var p Hash
				copy(p[:], pb)
				root.Prior = &p
			}
			refRows, err := s.db.QueryContext(ctx, `SELECT referenced FROM PUBLISHED_ROOT_REFERENCES WHERE published=? ORDER BY position ASC`, hb)
			if err == nil {
				for refRows.Next() {
					var rb []byte
					if refRows.Scan(&rb) == nil {
						var e Hash
						copy(e[:], rb)
						root.Elements = append(root.Elements, e)
					}
				}
				refRows.Close()
			}
			out <- RootRecord{Hash: h, Root: root}
		}
	}()
	return out, func() error { cancel(); return nil }, nil
}

// Close releases the underlying *sql.DB.
func (s *sqlBackend) Close() error { return s.db.Close() }
