package scratchcard

import "errors"

var (
	// ErrStoreUnavailable means the outcome of an operation could not be
	// determined. Callers may retry; it never means the PIN is invalid.
	ErrStoreUnavailable = errors.New("card store unavailable")

	ErrCardNotFound    = errors.New("scratch card not found")
	ErrCardNotActive   = errors.New("scratch card is not active")
	ErrDuplicatePin    = errors.New("pin already exists")
	ErrDuplicateSerial = errors.New("serial number already exists")
	ErrInvalidCard     = errors.New("invalid card definition")
	ErrInvalidBatch    = errors.New("invalid batch definition")

	ErrManifestNotFound = errors.New("batch manifest not found")

	// errNotRedeemable is returned by a store when the conditional update
	// matched no row.
	errNotRedeemable = errors.New("card not redeemable")
)
