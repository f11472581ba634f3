package queue

import "errors"

var (
	// ErrEntityGone means the entity is unknown or tombstoned; any result
	// produced for it must be discarded.
	ErrEntityGone = errors.New("entity deleted or unknown")
	// ErrLeaseLost means the job is no longer leased by the caller.
	ErrLeaseLost = errors.New("job lease lost")
	// ErrAlreadyDispatched means jobs already exist for the entity.
	ErrAlreadyDispatched = errors.New("entity already dispatched")
	// ErrEntityExists means an entity (live or tombstoned) already uses the id.
	ErrEntityExists = errors.New("entity already exists")
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
