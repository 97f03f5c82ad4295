package escrow

import "errors"

var (
	// ErrInvalidAmount is returned when an offered or requested amount is
	// zero.
	ErrInvalidAmount = errors.New("escrow: amount must be positive")
	// ErrInvalidMaker is returned when the supplied maker identity does not
	// match the record, or a non-maker attempts to cancel.
	ErrInvalidMaker = errors.New("escrow: maker does not match record")
	// ErrInvalidMintA is returned when the supplied offered asset does not
	// match the record.
	ErrInvalidMintA = errors.New("escrow: offered asset does not match record")
	// ErrInvalidMintB is returned when the supplied requested asset does not
	// match the record.
	ErrInvalidMintB = errors.New("escrow: requested asset does not match record")
	// ErrNotFound is returned when no record exists at the given address.
	ErrNotFound = errors.New("escrow: record not found")
	// ErrExists is returned when a record already exists at the derived
	// address.
	ErrExists = errors.New("escrow: record already exists")
	// ErrDerivation is returned when no valid address can be derived or a
	// stored proof fails re-derivation.
	ErrDerivation = errors.New("escrow: address derivation failed")
)
