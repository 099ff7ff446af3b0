package configstore

import "errors"

// Sentinel errors matching the error kinds named in the specification.
var (
	// ErrConfigMissing indicates the family or system file does not exist.
	ErrConfigMissing = errors.New("configstore: config missing")

	// ErrConfigInvalid indicates the file exists but could not be parsed.
	ErrConfigInvalid = errors.New("configstore: config invalid")

	// ErrUnknownFamily indicates a family name outside profile.Families().
	ErrUnknownFamily = errors.New("configstore: unknown family")

	// ErrPersist indicates a write failure while saving a family file.
	// Callers (the Freeze Manager in particular) log and continue with
	// the in-memory state; a later save attempt will retry.
	ErrPersist = errors.New("configstore: persist failed")
)
