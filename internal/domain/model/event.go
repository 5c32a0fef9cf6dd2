// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// Event is a single comment delivered by the feed.
type Event struct {
	ID             string    // fullname of the comment, e.g. "t1_abc123"
	Author         string    // display name of the commenter
	Body           string    // raw comment text
	Permalink      string    // absolute URL of the comment
	Subreddit      string    // community the comment was posted in
	AuthorFlair    string    // commenter's flair in that community
	HasAuthorFlair bool      // false when the commenter has no flair at all
	CreatedAt      time.Time // creation time reported by the feed
}

// TransferRecord is the ledger entry written by the first successful
// transfer for an identity.
type TransferRecord struct {
	TransferredAt time.Time
	Author        string
	Amount        int
	SourceURL     string
}

// NormalizeIdentity returns the case-insensitive key for a user name.
func NormalizeIdentity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
