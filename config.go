package board

import "os"

// EnvOrDefault returns the value of the named environment variable, or
// def if it is unset or empty — the flag-first, env-fallback pattern the
// CLI's flag defaults are built from. Kept in this
// package rather than cmd/boardd so backend-opening helpers and the CLI
// agree on the same three variable names without importing each other's
// internals.
func EnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// OpenBackend constructs the named Backend kind ("memory", "file",
// "sql", "leveldb") against dsn, which is a filesystem path for file/
// leveldb and a database/sql DSN for sql (ignored for memory).
func OpenBackend(kind, dsn string) (Backend, error) {
	switch kind {
	case "memory", "":
		return NewMemoryBackend(), nil
	case "file":
		return OpenFileBackend(dsn)
	case "sql":
		return OpenSQLBackend(dsn)
	case "leveldb":
		return OpenLevelBackend(dsn)
	default:
		return nil, &InvariantViolationError{Detail: "unknown backend kind " + kind}
	}
}
