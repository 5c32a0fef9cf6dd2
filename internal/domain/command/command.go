// Package command classifies comment text into the bot's command set.
package command

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind enumerates the recognised commands.
type Kind int

const (
	NoMatch Kind = iota
	TransferRequest
	InfoQuery
	SetKarma
)

// String returns the metric/log label of the kind.
func (k Kind) String() string {
	switch k {
	case TransferRequest:
		return "transfer"
	case InfoQuery:
		return "info"
	case SetKarma:
		return "setkarma"
	default:
		return "none"
	}
}

// Command is the result of classifying one comment body.
type Command struct {
	Kind   Kind
	Target string // InfoQuery and SetKarma
	Amount int    // SetKarma
}

var (
	transferPattern = regexp.MustCompile(`^(xferkarma!|!xferkarma)$`)
	infoPattern     = regexp.MustCompile(`^xferkarma info ([a-z0-9_-]+)$`)
	setKarmaPattern = regexp.MustCompile(`^setkarma ([a-z0-9_-]+) ([0-9]+)$`)
)

// Normalize case-folds and trims text and strips the backslash escaping the
// rich-text editor inserts.
func Normalize(text string) string {
	return strings.ReplaceAll(strings.TrimSpace(strings.ToLower(text)), `\`, "")
}

// Classify maps text to a Command. It never fails; anything that is not an
// exact command is NoMatch.
func Classify(text string) Command {
	body := Normalize(text)

	if transferPattern.MatchString(body) {
		return Command{Kind: TransferRequest}
	}
	if m := infoPattern.FindStringSubmatch(body); m != nil {
		return Command{Kind: InfoQuery, Target: m[1]}
	}
	if m := setKarmaPattern.FindStringSubmatch(body); m != nil {
		amount, err := strconv.Atoi(m[2])
		if err != nil {
			return Command{Kind: NoMatch}
		}
		return Command{Kind: SetKarma, Target: m[1], Amount: amount}
	}
	return Command{Kind: NoMatch}
}
