// Package responder renders outcomes as comment replies.
package responder

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"

	"github.com/okian/xferkarma/internal/adapters/reddit"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/internal/domain/transfer"
)

// Footer is appended to every reply.
const Footer = "^(This action was performed by a bot, please contact the mods for any questions.)"

const timeLayout = "2006-01-02 03:04 PM UTC"

//go:embed templates/*.md
var templateFS embed.FS

// Poster publishes replies.
type Poster interface {
	ReplyModerated(ctx context.Context, parent, text string) (string, error)
}

// Communities names the two communities in reply text.
type Communities struct {
	Source      string
	Destination string
	InfoURL     string // optional link appended to successful transfers
}

// Responder turns outcomes into replies.
type Responder struct {
	poster    Poster
	names     Communities
	templates map[transfer.Kind]*pongo2.Template
}

// New compiles the reply templates.
func New(poster Poster, names Communities) (*Responder, error) {
	r := &Responder{
		poster:    poster,
		names:     names,
		templates: make(map[transfer.Kind]*pongo2.Template),
	}
	for _, kind := range []transfer.Kind{
		transfer.Transferred,
		transfer.AlreadyTransferred,
		transfer.NoSourceKarma,
		transfer.NoSourceSubmission,
		transfer.ExtractionFailed,
		transfer.TransferInfo,
		transfer.TargetMissing,
		transfer.TargetBanned,
		transfer.KarmaAssigned,
	} {
		src, err := templateFS.ReadFile("templates/" + kind.String() + ".md")
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", kind, err)
		}
		tpl, err := pongo2.FromString("{% autoescape off %}" + string(src) + "{% endautoescape %}")
		if err != nil {
			return nil, fmt.Errorf("compile template %s: %w", kind, err)
		}
		r.templates[kind] = tpl
	}
	return r, nil
}

// Render returns the reply text for out, or "" for outcomes that get no
// reply.
func (r *Responder) Render(out transfer.Outcome) (string, error) {
	tpl, ok := r.templates[out.Kind]
	if !ok {
		return "", nil
	}
	data := pongo2.Context{
		"identity":              out.Identity,
		"source":                out.Source,
		"destination":           out.Destination,
		"combined":              out.Combined,
		"label":                 out.Label,
		"tier":                  out.Tier,
		"side":                  string(out.Side),
		"target":                out.Target,
		"amount":                out.Amount,
		"source_community":      r.names.Source,
		"destination_community": r.names.Destination,
		"info_url":              r.names.InfoURL,
		"record":                nil,
	}
	if out.Record != nil {
		data["record"] = out.Record
		data["when"] = out.Record.TransferredAt.UTC().Format(timeLayout)
	}
	body, err := tpl.Execute(data)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", out.Kind, err)
	}
	return strings.TrimSpace(body) + "\n\n " + Footer, nil
}

// Respond replies to ev with the rendered outcome. Replies refused for lack
// of permission are dropped.
func (r *Responder) Respond(ctx context.Context, ev model.Event, out transfer.Outcome) error {
	text, err := r.Render(out)
	if err != nil || text == "" {
		return err
	}
	if _, err := r.poster.ReplyModerated(ctx, ev.ID, text); err != nil && !errors.Is(err, reddit.ErrForbidden) {
		return fmt.Errorf("reply to %s: %w", ev.ID, err)
	}
	return nil
}
