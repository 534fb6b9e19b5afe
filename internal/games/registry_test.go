package games

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/gamestats/internal/config"
	"github.com/tjfontaine/gamestats/internal/pipeline"
)

func TestRegistry_NewRegistry(t *testing.T) {
	policies := map[string]config.PolicyConfig{
		"free": {MaxStages: 4, MaxLimit: 50, Strict: true},
	}
	gameConfigs := []config.GameConfig{
		{ID: "snake", Name: "Snake", Policy: "free"},
		{ID: "chess", Name: "Chess"},
		{ID: "go"},
	}

	registry, err := NewRegistry(gameConfigs, policies)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	chess, ok := registry.Get("chess")
	if !ok {
		t.Fatal("Get(chess) not found")
	}
	if chess.PolicyName != config.DefaultPolicyName {
		t.Errorf("chess policy = %q, want default", chess.PolicyName)
	}
	if diff := cmp.Diff(pipeline.DefaultPolicy(), chess.Sanitizer.Policy()); diff != "" {
		t.Errorf("chess policy mismatch (-want +got):\n%s", diff)
	}

	snake, _ := registry.Get("snake")
	want := pipeline.DefaultPolicy()
	want.MaxStages = 4
	want.MaxLimitValue = 50
	want.Strict = true
	if diff := cmp.Diff(want, snake.Sanitizer.Policy()); diff != "" {
		t.Errorf("snake policy mismatch (-want +got):\n%s", diff)
	}

	g, _ := registry.Get("go")
	if g.Name != "go" {
		t.Errorf("Name = %q, want id fallback", g.Name)
	}

	if _, ok := registry.Get("pong"); ok {
		t.Error("Get(pong) should not be found")
	}
}

func TestRegistry_ListAndCollections(t *testing.T) {
	registry, err := NewRegistry([]config.GameConfig{{ID: "snake"}, {ID: "chess"}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	var ids []string
	for _, g := range registry.List() {
		ids = append(ids, g.ID)
	}
	if diff := cmp.Diff([]string{"chess", "snake"}, ids); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}

	wantCollections := []string{"chess_events", "chess_scores", "snake_events", "snake_scores"}
	if diff := cmp.Diff(wantCollections, registry.Collections()); diff != "" {
		t.Errorf("Collections() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_LookupsStayInsideGame(t *testing.T) {
	registry, err := NewRegistry([]config.GameConfig{{ID: "snake"}, {ID: "chess"}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	chess, _ := registry.Get("chess")

	lookup := func(from string) []pipeline.Stage {
		return []pipeline.Stage{
			pipeline.NewStage("$lookup", pipeline.Document{
				{Key: "from", Value: from},
				{Key: "pipeline", Value: []any{pipeline.Document{{Key: "$limit", Value: int64(5)}}}},
				{Key: "as", Value: "joined"},
			}),
			pipeline.NewStage("$limit", int64(10)),
		}
	}

	tests := []struct {
		from     string
		wantFrom string
		reasons  []pipeline.Reason
	}{
		{from: "scores", wantFrom: "chess_scores"},
		{from: "chess_events", wantFrom: "chess_events"},
		{from: "snake_scores", reasons: []pipeline.Reason{pipeline.ReasonForeignCollection}},
		{from: "system.users", reasons: []pipeline.Reason{pipeline.ReasonForeignCollection}},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			out := chess.Sanitizer.Sanitize(lookup(tt.from))

			var got []pipeline.Reason
			for _, d := range out.Diagnostics {
				got = append(got, d.Reason)
			}
			if diff := cmp.Diff(tt.reasons, got); diff != "" {
				t.Errorf("reasons mismatch (-want +got):\n%s", diff)
			}

			if tt.wantFrom == "" {
				if len(out.Stages) != 1 {
					t.Errorf("foreign lookup kept: %v", out.Stages)
				}
				return
			}
			params, _ := pipeline.AsDocument(out.Stages[0].Params())
			if from, _ := params.Get("from"); from != tt.wantFrom {
				t.Errorf("from = %v, want %s", from, tt.wantFrom)
			}
		})
	}
}

func TestRegistry_Errors(t *testing.T) {
	tests := []struct {
		name     string
		games    []config.GameConfig
		policies map[string]config.PolicyConfig
	}{
		{
			name:  "invalid id",
			games: []config.GameConfig{{ID: "Chess Online"}},
		},
		{
			name:  "collection name injection",
			games: []config.GameConfig{{ID: "chess.events"}},
		},
		{
			name:  "duplicate id",
			games: []config.GameConfig{{ID: "chess"}, {ID: "chess"}},
		},
		{
			name:  "unknown policy",
			games: []config.GameConfig{{ID: "chess", Policy: "premium"}},
		},
		{
			name:     "negative bound",
			games:    []config.GameConfig{{ID: "chess", Policy: "broken"}},
			policies: map[string]config.PolicyConfig{"broken": {MaxSortFields: -1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.games, tt.policies); err == nil {
				t.Error("NewRegistry() expected error")
			}
		})
	}
}

func TestResolvePolicy_DefaultOverride(t *testing.T) {
	p, err := ResolvePolicy(config.DefaultPolicyName, map[string]config.PolicyConfig{
		"default": {DefaultLimit: 25},
	})
	if err != nil {
		t.Fatalf("ResolvePolicy() error = %v", err)
	}
	if p.DefaultLimit != 25 || p.MaxLimitValue != 1000 {
		t.Errorf("ResolvePolicy() = %+v", p)
	}
}

func TestGame_Info(t *testing.T) {
	registry, err := NewRegistry([]config.GameConfig{{ID: "chess", Name: "Chess"}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	g, _ := registry.Get("chess")

	info := g.Info()
	if info.ID != "chess" || info.Name != "Chess" || info.Policy != "default" || info.Strict {
		t.Errorf("Info() = %+v", info)
	}
	if diff := cmp.Diff([]string{"events", "scores"}, info.Collections); diff != "" {
		t.Errorf("Info().Collections mismatch (-want +got):\n%s", diff)
	}
	if got := g.Collection(KindScores); got != "chess_scores" {
		t.Errorf("Collection() = %q", got)
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"events", "scores"} {
		if _, ok := ParseKind(s); !ok {
			t.Errorf("ParseKind(%q) not ok", s)
		}
	}
	for _, s := range []string{"", "Events", "chess_events", "system.users"} {
		if _, ok := ParseKind(s); ok {
			t.Errorf("ParseKind(%q) should fail", s)
		}
	}
}
