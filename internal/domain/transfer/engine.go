// Package transfer implements the reputation transfer state machine.
//
// Each request walks a fixed sequence of checks and ends in exactly one
// Outcome. Errors are reserved for infrastructure faults; every condition a
// user can cause is reported as an Outcome kind.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/okian/xferkarma/internal/adapters/repository"
	"github.com/okian/xferkarma/internal/domain/karma"
	"github.com/okian/xferkarma/internal/domain/model"
	"github.com/okian/xferkarma/internal/domain/scoring"
)

// Directory answers questions about users across both communities.
type Directory interface {
	// SourceFlair returns the flair shown on the user's most recent
	// submission in the source community. found is false when the user has
	// no submission there.
	SourceFlair(ctx context.Context, identity string) (flair string, found bool, err error)

	// DestinationFlair returns the user's current flair in the destination
	// community. found is false when the user has none.
	DestinationFlair(ctx context.Context, identity string) (flair string, found bool, err error)

	Exists(ctx context.Context, identity string) (bool, error)
	Banned(ctx context.Context, identity string) (bool, error)
}

// Labeler writes flair in the destination community.
type Labeler interface {
	SetLabel(ctx context.Context, identity, text, category string) error
}

// RoleFunc reports whether identity holds a role.
type RoleFunc func(ctx context.Context, identity string) (bool, error)

// Request is a transfer request taken from a stream event.
type Request struct {
	Identity            string
	Locator             string // permalink of the requesting comment
	DestinationFlair    string
	HasDestinationFlair bool
}

// Engine runs transfer, info and setkarma commands.
type Engine struct {
	store      repository.Store
	dir        Directory
	labeler    Labeler
	policy     *scoring.Policy
	admin      RoleFunc
	privileged RoleFunc
	clock      clockwork.Clock
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithAdmin sets the predicate gating info and setkarma.
func WithAdmin(fn RoleFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.admin = fn
		}
	}
}

// WithPrivileged sets the predicate selecting the privileged tier.
func WithPrivileged(fn RoleFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.privileged = fn
		}
	}
}

// WithClock sets the clock used for ledger timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func deny(context.Context, string) (bool, error) { return false, nil }

// NewEngine creates an engine. Without role predicates nobody is an admin
// and nobody is privileged.
func NewEngine(store repository.Store, dir Directory, labeler Labeler, policy *scoring.Policy, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		dir:        dir,
		labeler:    labeler,
		policy:     policy,
		admin:      deny,
		privileged: deny,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transfer moves the requester's source karma into their destination flair
// at most once per identity.
func (e *Engine) Transfer(ctx context.Context, req Request) (Outcome, error) {
	out := Outcome{Identity: req.Identity}

	srcFlair, found, err := e.dir.SourceFlair(ctx, req.Identity)
	if err != nil {
		return out, fmt.Errorf("%w: source flair of %s: %w", ErrDirectory, req.Identity, err)
	}
	if !found {
		out.Kind = NoSourceSubmission
		return out, nil
	}
	if strings.TrimSpace(srcFlair) == "" {
		out.Kind = NoSourceKarma
		return out, nil
	}

	if prior, ok, err := e.lookup(ctx, req.Identity); err != nil {
		return out, err
	} else if ok {
		out.Kind = AlreadyTransferred
		out.Record = prior
		return out, nil
	}

	source, ok := karma.Extract(srcFlair)
	if !ok {
		out.Kind = ExtractionFailed
		out.Side = SideSource
		return out, nil
	}

	flair, destination, ok := destinationFlair(req.DestinationFlair, req.HasDestinationFlair)
	if !ok {
		out.Kind = ExtractionFailed
		out.Side = SideDestination
		return out, nil
	}

	combined := scoring.Combine(source, destination)
	tier, label, err := e.plan(ctx, req.Identity, flair, combined)
	if err != nil {
		return out, err
	}

	// Commit the record before touching flair: once the flair holds the
	// combined score, the request must no longer be retryable.
	rec := model.TransferRecord{
		TransferredAt: e.clock.Now().UTC(),
		Author:        req.Identity,
		Amount:        source,
		SourceURL:     req.Locator,
	}
	if err := e.store.RecordTransfer(ctx, rec); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return out, fmt.Errorf("record transfer for %s: %w", req.Identity, err)
		}
		// Lost a race against a concurrent request for the same identity.
		winner, ok, lerr := e.lookup(ctx, req.Identity)
		if lerr != nil {
			return out, lerr
		}
		if !ok {
			return out, fmt.Errorf("record for %s vanished after conflict", req.Identity)
		}
		out.Kind = AlreadyTransferred
		out.Record = winner
		return out, nil
	}
	if err := e.setLabel(ctx, req.Identity, label, tier); err != nil {
		return out, err
	}

	out.Kind = Transferred
	out.Source = source
	out.Destination = destination
	out.Combined = combined
	out.Label = label
	out.Tier = tier.Name
	out.Record = &rec
	return out, nil
}

// Info reports the ledger record of target to an admin caller.
func (e *Engine) Info(ctx context.Context, caller, target string) (Outcome, error) {
	out := Outcome{Identity: caller, Target: target}
	if ok, err := e.authorize(ctx, caller); err != nil || !ok {
		out.Kind = Unauthorized
		return out, err
	}

	rec, _, err := e.lookup(ctx, target)
	if err != nil {
		return out, err
	}
	out.Kind = TransferInfo
	out.Record = rec
	return out, nil
}

// SetKarma overwrites target's score. It bypasses the once-only rule and
// rewrites the ledger record.
func (e *Engine) SetKarma(ctx context.Context, caller, target string, amount int, locator string) (Outcome, error) {
	out := Outcome{Identity: caller, Target: target, Amount: amount}
	if ok, err := e.authorize(ctx, caller); err != nil || !ok {
		out.Kind = Unauthorized
		return out, err
	}

	exists, err := e.dir.Exists(ctx, target)
	if err != nil {
		return out, fmt.Errorf("%w: exists %s: %w", ErrDirectory, target, err)
	}
	if !exists {
		out.Kind = TargetMissing
		return out, nil
	}
	banned, err := e.dir.Banned(ctx, target)
	if err != nil {
		return out, fmt.Errorf("%w: banned %s: %w", ErrDirectory, target, err)
	}
	if banned {
		out.Kind = TargetBanned
		return out, nil
	}

	text, found, err := e.dir.DestinationFlair(ctx, target)
	if err != nil {
		return out, fmt.Errorf("%w: destination flair of %s: %w", ErrDirectory, target, err)
	}
	flair := karma.ParseFlair(text)
	if !found || flair.Empty() {
		flair = karma.ParseFlair(karma.DefaultLabel)
	}

	tier, label, err := e.plan(ctx, target, flair, amount)
	if err != nil {
		return out, err
	}

	rec := model.TransferRecord{
		TransferredAt: e.clock.Now().UTC(),
		Author:        target,
		Amount:        amount,
		SourceURL:     locator,
	}
	if err := e.store.ReplaceTransfer(ctx, rec); err != nil {
		return out, fmt.Errorf("replace record for %s: %w", target, err)
	}
	if err := e.setLabel(ctx, target, label, tier); err != nil {
		return out, err
	}

	out.Kind = KarmaAssigned
	out.Label = label
	out.Tier = tier.Name
	out.Record = &rec
	return out, nil
}

// plan picks the tier and renders the flair text for score.
func (e *Engine) plan(ctx context.Context, identity string, flair karma.Flair, score int) (scoring.Tier, string, error) {
	privileged, err := e.privileged(ctx, identity)
	if err != nil {
		return scoring.Tier{}, "", fmt.Errorf("%w: privileged role of %s: %w", ErrDirectory, identity, err)
	}
	return e.policy.Assign(score, privileged), flair.Render(score), nil
}

func (e *Engine) setLabel(ctx context.Context, identity, label string, tier scoring.Tier) error {
	if err := e.labeler.SetLabel(ctx, identity, label, tier.Category); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLabel, identity, err)
	}
	return nil
}

func (e *Engine) authorize(ctx context.Context, caller string) (bool, error) {
	ok, err := e.admin(ctx, caller)
	if err != nil {
		return false, fmt.Errorf("%w: admin role of %s: %w", ErrDirectory, caller, err)
	}
	return ok, nil
}

func (e *Engine) lookup(ctx context.Context, identity string) (*model.TransferRecord, bool, error) {
	rec, err := e.store.Lookup(ctx, identity)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s: %w", identity, err)
	}
	return &rec, true, nil
}

// destinationFlair parses the requester's current destination flair. Users
// without flair, or with blank flair, start from the default label at zero.
func destinationFlair(text string, present bool) (karma.Flair, int, bool) {
	flair := karma.ParseFlair(text)
	if !present || flair.Empty() {
		return karma.ParseFlair(karma.DefaultLabel), 0, true
	}
	v, ok := flair.Value()
	return flair, v, ok
}
