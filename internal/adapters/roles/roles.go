// Package roles resolves moderator and courier membership of the destination
// community.
package roles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"gopkg.in/yaml.v3"

	"github.com/okian/xferkarma/internal/adapters/reddit"
	"github.com/okian/xferkarma/pkg/metrics"
)

// DefaultCourierPage is the wiki page holding the courier list.
const DefaultCourierPage = "custom_bot_config/courier_list"

const (
	keyModerators = "moderators"
	keyCouriers   = "couriers"
)

// Source lists role members.
type Source interface {
	Moderators(ctx context.Context) ([]string, error)
	WikiPage(ctx context.Context, page string) (string, error)
}

// ErrCourierList is returned when the courier wiki page is not valid YAML.
var ErrCourierList = errors.New("invalid courier list")

// Resolver answers role questions from cached member lists.
type Resolver struct {
	src         Source
	courierPage string
	cache       *expirable.LRU[string, map[string]struct{}]
}

// Option applies a configuration option to the Resolver.
type Option func(*resolverConfig)

type resolverConfig struct {
	ttl         time.Duration
	courierPage string
}

// WithTTL sets how long member lists are cached.
func WithTTL(ttl time.Duration) Option {
	return func(c *resolverConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCourierPage sets the wiki page listing couriers.
func WithCourierPage(page string) Option {
	return func(c *resolverConfig) {
		if page != "" {
			c.courierPage = page
		}
	}
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, opts ...Option) *Resolver {
	cfg := resolverConfig{ttl: 10 * time.Minute, courierPage: DefaultCourierPage}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Resolver{
		src:         src,
		courierPage: cfg.courierPage,
		cache:       expirable.NewLRU[string, map[string]struct{}](2, nil, cfg.ttl),
	}
}

// IsModerator reports whether identity moderates the community.
func (r *Resolver) IsModerator(ctx context.Context, identity string) (bool, error) {
	return r.member(ctx, keyModerators, identity)
}

// IsCourier reports whether identity is on the courier list.
func (r *Resolver) IsCourier(ctx context.Context, identity string) (bool, error) {
	return r.member(ctx, keyCouriers, identity)
}

// IsModeratorOrCourier reports whether identity qualifies for the
// privileged tier.
func (r *Resolver) IsModeratorOrCourier(ctx context.Context, identity string) (bool, error) {
	if ok, err := r.IsModerator(ctx, identity); err != nil || ok {
		return ok, err
	}
	return r.IsCourier(ctx, identity)
}

// Invalidate drops cached member lists.
func (r *Resolver) Invalidate() {
	r.cache.Purge()
}

func (r *Resolver) member(ctx context.Context, key, identity string) (bool, error) {
	set, ok := r.cache.Get(key)
	if ok {
		metrics.RecordRoleCache("hit")
	} else {
		metrics.RecordRoleCache("miss")
		var names []string
		var err error
		switch key {
		case keyModerators:
			names, err = r.src.Moderators(ctx)
		default:
			names, err = r.couriers(ctx)
		}
		if err != nil {
			return false, fmt.Errorf("load %s: %w", key, err)
		}
		set = make(map[string]struct{}, len(names))
		for _, n := range names {
			set[fold(n)] = struct{}{}
		}
		r.cache.Add(key, set)
	}
	_, found := set[fold(identity)]
	return found, nil
}

type courierList struct {
	Couriers []string `yaml:"couriers"`
}

// couriers parses the courier wiki page. A missing page means no couriers.
func (r *Resolver) couriers(ctx context.Context) ([]string, error) {
	md, err := r.src.WikiPage(ctx, r.courierPage)
	if errors.Is(err, reddit.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cl courierList
	if err := yaml.Unmarshal([]byte(md), &cl); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCourierList, err)
	}
	return cl.Couriers, nil
}

func fold(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
