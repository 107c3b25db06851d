// Package repository is the GORM-backed persistence layer underneath the
// Librarian and Privateer: RecordRepository stores packed primitives,
// SecretRepository stores Privateer's committed secrets. Consolidated from
// arkeep's two parallel repository packages (internal/repository and
// internal/repositories) into one, since this module has no second
// persistence concern to justify keeping them apart.
package repository

import "errors"

// ErrNotFound mirrors arkeep's repositories.ErrNotFound: no row matched the
// requested key.
var ErrNotFound = errors.New("repository: record not found")

// ErrConflict mirrors arkeep's repositories.ErrConflict: an insert violated
// the idempotent-insert invariant (spec.md §4.1's store contract — a ghid
// already present must match byte-for-byte).
var ErrConflict = errors.New("repository: record already exists")
