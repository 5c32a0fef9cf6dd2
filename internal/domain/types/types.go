// Package types contains the JSON shapes served by the ops API.
package types

import "time"

// LedgerEntry is the read shape of a transfer record.
type LedgerEntry struct {
	Author        string    `json:"author"`
	Amount        int       `json:"amount"`
	SourceURL     string    `json:"source_url"`
	TransferredAt time.Time `json:"transferred_at"`
}
