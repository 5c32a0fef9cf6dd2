package repository

import "errors"

// Sentinel kinds for ledger errors.
var (
	ErrNotFound       = errors.New("transfer record not found")
	ErrConflict       = errors.New("transfer already recorded")
	ErrUnsupportedDSN = errors.New("unsupported or unrecognized database url")
)
