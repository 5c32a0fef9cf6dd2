package transfer

import "github.com/okian/xferkarma/internal/domain/model"

// Kind enumerates the user-visible results of a command.
type Kind int

const (
	None Kind = iota
	Unauthorized
	NoSourceSubmission
	NoSourceKarma
	AlreadyTransferred
	ExtractionFailed
	Transferred
	TransferInfo
	TargetMissing
	TargetBanned
	KarmaAssigned
)

var kindNames = map[Kind]string{
	None:               "none",
	Unauthorized:       "unauthorized",
	NoSourceSubmission: "no_source_submission",
	NoSourceKarma:      "no_source_karma",
	AlreadyTransferred: "already_transferred",
	ExtractionFailed:   "extraction_failed",
	Transferred:        "transferred",
	TransferInfo:       "transfer_info",
	TargetMissing:      "target_missing",
	TargetBanned:       "target_banned",
	KarmaAssigned:      "karma_assigned",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Side names the community whose flair could not be read.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// Outcome is the result of one command. Fields not relevant to Kind are zero.
type Outcome struct {
	Kind     Kind
	Identity string // requester

	// Transferred
	Source      int
	Destination int
	Combined    int
	Label       string
	Tier        string

	// AlreadyTransferred, TransferInfo (nil when no record), Transferred
	Record *model.TransferRecord

	// ExtractionFailed
	Side Side

	// TransferInfo, TargetMissing, TargetBanned, KarmaAssigned
	Target string
	Amount int
}
