package collection

import "errors"

var (
	// ErrDuplicateEntry indicates an insert of an already-present (group, entry) pair.
	ErrDuplicateEntry = errors.New("collection: entry already exists in group")

	// ErrEntryNotFound indicates a delete of an entry that is not live.
	ErrEntryNotFound = errors.New("collection: entry not found")

	// ErrCounterDesync indicates the incremental counter diverged from the
	// entry store. The affected group is recounted before this is reported;
	// it signals a bug, not a user mistake.
	ErrCounterDesync = errors.New("collection: counter diverged from entry store")
)
