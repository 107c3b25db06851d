// Package herrors defines the error taxonomy shared by every persistence
// engine component. Every error surfaced above the golix layer is one of
// these sentinels, wrapped with context via fmt.Errorf("%w: ...", ...) so
// callers can errors.Is/errors.As against the kind without string matching.
package herrors

import "errors"

var (
	// ErrMalformedObject indicates packed bytes failed to parse, or a
	// primitive's shape violated an Enforcer invariant.
	ErrMalformedObject = errors.New("hypergolix: malformed object")

	// ErrInvalidSignature indicates Doorman's signature verification failed.
	ErrInvalidSignature = errors.New("hypergolix: invalid signature")

	// ErrUnknownParty indicates a primitive references an identity (author
	// or recipient) not present in the Librarian.
	ErrUnknownParty = errors.New("hypergolix: unknown party")

	// ErrInconsistentAuthor indicates a debinding's author does not match
	// the author of the primitive it targets.
	ErrInconsistentAuthor = errors.New("hypergolix: inconsistent author")

	// ErrAlreadyDebound indicates the target of a new primitive already has
	// a live debinding.
	ErrAlreadyDebound = errors.New("hypergolix: already debound")

	// ErrFrameReplay indicates a dynamic binding frame's history does not
	// align with the dynamic object's current state.
	ErrFrameReplay = errors.New("hypergolix: frame replay")

	// ErrNotFound indicates the requested ghid is not present in the
	// Librarian.
	ErrNotFound = errors.New("hypergolix: not found")

	// ErrSecretConflict indicates two differing secrets were staged for the
	// same container ghid.
	ErrSecretConflict = errors.New("hypergolix: secret conflict")

	// ErrSecretMissing indicates no secret is available to decrypt a
	// container that must be opened.
	ErrSecretMissing = errors.New("hypergolix: secret missing")

	// ErrRatchetError indicates the ratchet could not heal (too many missed
	// frames, or an unrecoverable predecessor).
	ErrRatchetError = errors.New("hypergolix: ratchet cannot heal")

	// ErrDeadObject indicates an operation was attempted on a GAO whose
	// is_alive is false.
	ErrDeadObject = errors.New("hypergolix: object is dead")

	// ErrLocallyImmutable indicates a mutation was attempted on a static
	// object, or by a party that is not the object's author.
	ErrLocallyImmutable = errors.New("hypergolix: locally immutable")

	// ErrAlreadyPresent indicates an idempotent ingest of a primitive
	// already stored in the Librarian (not a failure; a control-flow
	// signal consumed by PersistenceCore).
	ErrAlreadyPresent = errors.New("hypergolix: already present")

	// ErrInternal is the single generic error surfaced for bug-class
	// failures that should never reach a caller undetailed. The original
	// failure is logged, never returned, to avoid leaking internals.
	ErrInternal = errors.New("hypergolix: internal error")
)
