package wbmodel

import "errors"

// Sentinel errors for the infrastructure-level failure taxonomy (spec §7).
// Per-entity recoverable conditions (missing mappings, type mismatches,
// write failures) are never represented as these; they are recorded on a
// TranslationResult instead.
var (
	// ErrUnknownEntityType is returned when an ID's leading letter is not
	// one of Q, P, L, M.
	ErrUnknownEntityType = errors.New("wbmodel: unknown entity type prefix")

	// ErrUnknownDatatype is returned by ParseDatatype for a wire string
	// outside the closed set this module understands.
	ErrUnknownDatatype = errors.New("wbmodel: unknown datatype")

	// ErrLoginRequired is returned when a WikibaseEndpoint configures
	// credentials that are incomplete for the selected auth method.
	ErrLoginRequired = errors.New("wbmodel: login required but credentials incomplete")

	// ErrMergeConflict is returned when two distinct source entities in the
	// same migration batch resolve to the same existing target entity;
	// merging both into it is ambiguous and the batch is rejected rather
	// than silently picking one.
	ErrMergeConflict = errors.New("wbmodel: two source entities map to the same existing target entity")
)
