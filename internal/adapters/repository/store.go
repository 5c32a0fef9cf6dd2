// Package repository persists the transfer ledger.
package repository

import (
	"context"

	"github.com/okian/xferkarma/internal/domain/model"
)

// Store provides read/write access to the transfer ledger. Identities are
// matched case-insensitively and each identity has at most one record.
type Store interface {
	// Lookup returns the record for author or ErrNotFound.
	Lookup(ctx context.Context, author string) (model.TransferRecord, error)

	// RecordTransfer inserts rec only when no record exists for its author.
	// Returns ErrConflict when another writer got there first.
	RecordTransfer(ctx context.Context, rec model.TransferRecord) error

	// ReplaceTransfer inserts rec or overwrites the existing record.
	ReplaceTransfer(ctx context.Context, rec model.TransferRecord) error

	// Count returns the number of records in the ledger.
	Count(ctx context.Context) (int64, error)

	// Migrate creates or updates the ledger schema.
	Migrate(ctx context.Context) error

	Close() error
}
