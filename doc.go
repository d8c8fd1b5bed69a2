// Package board implements a verifiable append-only bulletin board on a
// chained Merkle forest.
//
// Clients submit opaque data entries with SubmitLeaf. Periodically an
// operator calls RequestNewPublishedRoot to freeze a commitment hash over
// every entry accepted since the previous publication (or since inception,
// for the first one). Anyone holding a published root hash can later ask
// for a GetProofChain for a given entry and replay it independently with
// ReplayProofChain to confirm inclusion, without trusting the engine's own
// verdict.
//
// # Storage backends
//
// The engine is backend-agnostic (see the Backend interface in backend.go).
// Four backends are provided:
//
//   - memoryBackend (memory_store.go) — in-process maps, no dependencies.
//     Best for tests and ephemeral boards.
//   - fileBackend (file_store.go) — a human-readable CSV node log plus a
//     write-ahead journal directory for crash recovery. Zero third-party
//     dependencies; best for small single-operator deployments.
//   - sqlBackend (sqlite_store.go) — SQLite via database/sql, the four
//     reference tables plus a PENDING table. Best for deployments
//     that already operate SQLite elsewhere.
//   - levelBackend (leveldb_store.go) — LevelDB with table-space-prefixed
//     keys. Best for high-throughput single-node deployments that want an
//     LSM-tree write path instead of a page cache.
//
// All four satisfy identical invariants; a board's full history can be
// dumped from any of them as newline-delimited JSON through server.go's
// /export handler. This package has no matching import.
//
// # What this package does not do
//
// No consensus or replication across operators, no authentication of
// submitters, no confidentiality beyond optional per-leaf censorship, and
// no ordering guarantee beyond the order in which SubmitLeaf calls acquire
// the engine's write lock.
package board
