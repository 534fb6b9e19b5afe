// Package games holds the closed set of games the service accepts data for.
package games

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/tjfontaine/gamestats/internal/config"
	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/pipeline"
)

// Kind is a logical collection type.
type Kind string

const (
	KindEvents Kind = "events"
	KindScores Kind = "scores"
)

// Kinds lists every logical collection a game owns.
var Kinds = []Kind{KindEvents, KindScores}

// ParseKind resolves a logical collection name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindEvents, KindScores:
		return Kind(s), true
	}
	return "", false
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

// Game is a configured game and the sanitizer built from its policy profile.
type Game struct {
	ID         string
	Name       string
	PolicyName string
	Sanitizer  *pipeline.Sanitizer
}

// Collection returns the physical collection name for kind.
func (g *Game) Collection(kind Kind) string {
	return g.ID + "_" + string(kind)
}

// Info returns the public description of the game.
func (g *Game) Info() domain.GameInfo {
	collections := make([]string, len(Kinds))
	for i, k := range Kinds {
		collections[i] = string(k)
	}
	return domain.GameInfo{
		ID:          g.ID,
		Name:        g.Name,
		Policy:      g.PolicyName,
		Strict:      g.Sanitizer.Policy().Strict,
		Collections: collections,
	}
}

// Registry manages game instances. It is read-only after construction.
type Registry struct {
	games map[string]*Game
}

// NewRegistry builds a game for every config entry. Options are applied to
// every sanitizer the registry creates.
func NewRegistry(games []config.GameConfig, policies map[string]config.PolicyConfig, opts ...pipeline.Option) (*Registry, error) {
	r := &Registry{games: make(map[string]*Game, len(games))}

	for _, cfg := range games {
		if !idPattern.MatchString(cfg.ID) {
			return nil, fmt.Errorf("invalid game id %q", cfg.ID)
		}
		if _, dup := r.games[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate game id %q", cfg.ID)
		}

		name := cfg.Policy
		if name == "" {
			name = config.DefaultPolicyName
		}
		policy, err := ResolvePolicy(name, policies)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", cfg.ID, err)
		}
		gameOpts := append([]pipeline.Option{pipeline.WithLookupCollections(lookupCollections(cfg.ID))}, opts...)
		sanitizer, err := pipeline.New(policy, gameOpts...)
		if err != nil {
			return nil, fmt.Errorf("game %s: %w", cfg.ID, err)
		}

		display := cfg.Name
		if display == "" {
			display = cfg.ID
		}
		r.games[cfg.ID] = &Game{
			ID:         cfg.ID,
			Name:       display,
			PolicyName: name,
			Sanitizer:  sanitizer,
		}
	}

	return r, nil
}

// lookupCollections lets a game's lookups read only its own collections,
// named either by kind ("scores") or physically ("chess_scores").
func lookupCollections(gameID string) map[string]string {
	names := make(map[string]string, 2*len(Kinds))
	for _, k := range Kinds {
		physical := gameID + "_" + string(k)
		names[string(k)] = physical
		names[physical] = physical
	}
	return names
}

// ResolvePolicy merges the named profile over the stock policy. The default
// profile may be omitted from configuration.
func ResolvePolicy(name string, policies map[string]config.PolicyConfig) (pipeline.Policy, error) {
	p := pipeline.DefaultPolicy()

	cfg, ok := policies[name]
	if !ok {
		if name == config.DefaultPolicyName {
			return p, nil
		}
		return pipeline.Policy{}, fmt.Errorf("unknown policy %q", name)
	}

	overrides := []struct {
		dst *int
		src int
	}{
		{&p.MaxStages, cfg.MaxStages},
		{&p.MaxLimitValue, cfg.MaxLimit},
		{&p.MaxSortFields, cfg.MaxSortFields},
		{&p.MaxGroupOverflow, cfg.MaxGroupOverflow},
		{&p.LookupSubLimit, cfg.LookupSubLimit},
		{&p.DefaultLimit, cfg.DefaultLimit},
	}
	for _, o := range overrides {
		if o.src != 0 {
			*o.dst = o.src
		}
	}
	p.Strict = cfg.Strict

	if err := p.Validate(); err != nil {
		return pipeline.Policy{}, fmt.Errorf("policy %s: %w", name, err)
	}
	return p, nil
}

// Get retrieves a game by ID
func (r *Registry) Get(id string) (*Game, bool) {
	g, ok := r.games[id]
	return g, ok
}

// List returns every game ordered by ID.
func (r *Registry) List() []*Game {
	out := make([]*Game, 0, len(r.games))
	for _, g := range r.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Collections returns every physical collection name across all games.
func (r *Registry) Collections() []string {
	var out []string
	for _, g := range r.List() {
		for _, k := range Kinds {
			out = append(out, g.Collection(k))
		}
	}
	return out
}
