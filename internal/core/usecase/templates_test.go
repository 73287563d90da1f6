package usecase

import (
	"context"
	"testing"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

func buildIndex(t *testing.T, examples ...domain.Example) *TemplateIndex {
	t.Helper()
	store := &fakeExampleStore{examples: examples}
	idx := NewTemplateIndex(store, discardLogger())
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return idx
}

func TestTemplateIndexMatchInjectsTypedCaptures(t *testing.T) {
	idx := buildIndex(t, domain.Example{
		Utterance: "turn the volume to 5",
		Answer: domain.Object{
			"action": domain.Leaf{V: "set_volume"},
			"level":  domain.Leaf{V: int64(5)},
		},
	})

	resolution, ok := idx.Match("turn the volume to 11", "")
	if !ok {
		t.Fatal("expected a template match")
	}
	if resolution.Source != domain.SourceTemplate {
		t.Fatalf("source = %q", resolution.Source)
	}
	obj := resolution.Answer.(domain.Object)
	level := obj["level"].(domain.Leaf)
	if level.V != int64(11) {
		t.Fatalf("level = %#v, want int64(11)", level.V)
	}
	if obj["action"].(domain.Leaf).V != "set_volume" {
		t.Fatalf("skeleton constant was lost: %#v", obj["action"])
	}
}

func TestTemplateIndexMatchFloatCapture(t *testing.T) {
	idx := buildIndex(t, domain.Example{
		Utterance: "set temperature to 21.5 degrees",
		Answer: domain.Object{
			"action": domain.Leaf{V: "set_temperature"},
			"target": domain.Leaf{V: 21.5},
		},
	})

	resolution, ok := idx.Match("set temperature to 19.5 degrees", "")
	if !ok {
		t.Fatal("expected a template match")
	}
	target := resolution.Answer.(domain.Object)["target"].(domain.Leaf)
	if target.V != 19.5 {
		t.Fatalf("target = %#v, want float64(19.5)", target.V)
	}
}

func TestTemplateIndexMatchDoesNotMutateSkeleton(t *testing.T) {
	idx := buildIndex(t, domain.Example{
		Utterance: "turn the volume to 5",
		Answer: domain.Object{
			"action": domain.Leaf{V: "set_volume"},
			"level":  domain.Leaf{V: int64(5)},
		},
	})

	if _, ok := idx.Match("turn the volume to 99", ""); !ok {
		t.Fatal("first match failed")
	}
	resolution, ok := idx.Match("turn the volume to 2", "")
	if !ok {
		t.Fatal("second match failed")
	}
	level := resolution.Answer.(domain.Object)["level"].(domain.Leaf)
	if level.V != int64(2) {
		t.Fatalf("level = %#v; a previous match leaked into the skeleton", level.V)
	}
}

func TestTemplateIndexScopeEligibility(t *testing.T) {
	idx := buildIndex(t,
		domain.Example{
			Utterance: "mute",
			Answer:    domain.Object{"action": domain.Leaf{V: "mute_kitchen"}},
			Scope:     domain.ScopeID("kitchen"),
		},
		domain.Example{
			Utterance: "mute",
			Answer:    domain.Object{"action": domain.Leaf{V: "mute_everywhere"}},
		},
	)

	// A scoped query sees its own scope's template first.
	resolution, ok := idx.Match("mute", domain.ScopeID("kitchen"))
	if !ok {
		t.Fatal("expected a match in kitchen scope")
	}
	if got := resolution.Answer.(domain.Object)["action"].(domain.Leaf).V; got != "mute_kitchen" {
		t.Fatalf("action = %v, want mute_kitchen", got)
	}

	// A different scope skips the kitchen template and falls through to
	// the global one.
	resolution, ok = idx.Match("mute", domain.ScopeID("garage"))
	if !ok {
		t.Fatal("expected the global template to match")
	}
	if got := resolution.Answer.(domain.Object)["action"].(domain.Leaf).V; got != "mute_everywhere" {
		t.Fatalf("action = %v, want mute_everywhere", got)
	}
}

func TestTemplateIndexRebuildDeduplicates(t *testing.T) {
	example := domain.Example{
		Utterance: "mute the tv",
		Answer:    domain.Object{"action": domain.Leaf{V: "mute"}},
	}
	idx := buildIndex(t, example, example)
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after dedup", idx.Len())
	}
}

func TestTemplateIndexRebuildSwapsAtomically(t *testing.T) {
	store := &fakeExampleStore{examples: []domain.Example{{
		Utterance: "mute the tv",
		Answer:    domain.Object{"action": domain.Leaf{V: "mute"}},
	}}}
	idx := NewTemplateIndex(store, discardLogger())
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	store.mu.Lock()
	store.examples = nil
	store.mu.Unlock()
	if err := idx.Rebuild(context.Background()); err != nil {
		t.Fatalf("second Rebuild() error = %v", err)
	}
	if idx.Len() != 0 {
		t.Fatalf("Len() = %d after empty rebuild", idx.Len())
	}
	if _, ok := idx.Match("mute the tv", ""); ok {
		t.Fatal("stale snapshot still matching after rebuild")
	}
}

func TestTemplateIndexInsertFastPath(t *testing.T) {
	idx := buildIndex(t)
	template, err := CompileExample("turn off the lights", domain.Object{
		"action": domain.Leaf{V: "lights_off"},
	}, "")
	if err != nil {
		t.Fatalf("CompileExample() error = %v", err)
	}

	idx.Insert(template)
	if _, ok := idx.Match("turn off the lights", ""); !ok {
		t.Fatal("inserted template not matchable")
	}

	// Inserting the same pattern again is a no-op.
	idx.Insert(template)
	if idx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", idx.Len())
	}
}

func TestTemplateIndexVocabularyFiltersByScope(t *testing.T) {
	idx := buildIndex(t,
		domain.Example{
			Utterance: "mute the kitchen speaker",
			Answer:    domain.Object{"action": domain.Leaf{V: "mute"}},
			Scope:     domain.ScopeID("kitchen"),
		},
		domain.Example{
			Utterance: "turn off the lights",
			Answer:    domain.Object{"action": domain.Leaf{V: "lights_off"}},
		},
	)

	vocabulary := idx.Vocabulary(domain.ScopeID("garage"))
	if len(vocabulary) != 1 || vocabulary[0] != "turn off the lights" {
		t.Fatalf("garage vocabulary = %v", vocabulary)
	}

	vocabulary = idx.Vocabulary(domain.ScopeID("kitchen"))
	if len(vocabulary) != 2 {
		t.Fatalf("kitchen vocabulary = %v, want both utterances", vocabulary)
	}
}
