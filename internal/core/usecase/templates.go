package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync/atomic"

	"github.com/mkraev/instruction-engine/internal/core/domain"
	"github.com/mkraev/instruction-engine/internal/core/ports"
)

var (
	intPattern   = regexp.MustCompile(`^\d+$`)
	floatPattern = regexp.MustCompile(`^\d+\.\d+$`)
)

// TemplateIndex holds the in-memory template collection as a swappable
// snapshot. Rebuild constructs a fresh snapshot from the example store
// and publishes it atomically; concurrent readers see either the old or
// the new collection, never a partially built one.
type TemplateIndex struct {
	examples ports.ExampleStore
	log      *slog.Logger

	snapshot atomic.Pointer[templateSnapshot]
}

type templateSnapshot struct {
	templates []domain.Template
}

func NewTemplateIndex(examples ports.ExampleStore, log *slog.Logger) *TemplateIndex {
	idx := &TemplateIndex{
		examples: examples,
		log:      log,
	}
	idx.snapshot.Store(&templateSnapshot{})
	return idx
}

// Rebuild replays all persisted examples into a new snapshot and swaps
// it in. Examples that fail to compile are skipped, not fatal.
func (idx *TemplateIndex) Rebuild(ctx context.Context) error {
	examples, err := idx.examples.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list examples: %w", err)
	}

	next := &templateSnapshot{templates: make([]domain.Template, 0, len(examples))}
	for _, example := range examples {
		template, err := CompileExample(example.Utterance, example.Answer, example.Scope)
		if err != nil {
			idx.log.Warn("skip uncompilable example",
				"example_id", example.ID,
				"utterance", example.Utterance,
				"error", err,
			)
			continue
		}
		next.insert(template)
	}

	idx.snapshot.Store(next)
	idx.log.Info("template index rebuilt", "templates", len(next.templates))
	return nil
}

// Insert adds one freshly compiled template on top of the current
// snapshot (copy, append, swap). Used for the learn fast-path so a
// confirmed pair matches before the next full rebuild.
func (idx *TemplateIndex) Insert(template domain.Template) {
	current := idx.snapshot.Load()
	next := &templateSnapshot{templates: make([]domain.Template, len(current.templates), len(current.templates)+1)}
	copy(next.templates, current.templates)
	next.insert(template)
	idx.snapshot.Store(next)
}

// Vocabulary returns the source utterances of templates eligible for
// the scope. The LLM fallback receives them as the scope's known
// command vocabulary.
func (idx *TemplateIndex) Vocabulary(scope domain.ScopeID) []string {
	const maxVocabulary = 50
	snapshot := idx.snapshot.Load()
	out := make([]string, 0, len(snapshot.templates))
	for _, template := range snapshot.templates {
		if !template.Scope.AppliesTo(scope) {
			continue
		}
		out = append(out, template.SourceUtterance)
		if len(out) == maxVocabulary {
			break
		}
	}
	return out
}

// Len reports the number of templates in the current snapshot.
func (idx *TemplateIndex) Len() int {
	return len(idx.snapshot.Load().templates)
}

// insert appends with dedup by (pattern, scope).
func (s *templateSnapshot) insert(template domain.Template) {
	for _, existing := range s.templates {
		if existing.Pattern.String() == template.Pattern.String() && existing.Scope == template.Scope {
			return
		}
	}
	s.templates = append(s.templates, template)
}

// Match evaluates the utterance against the snapshot in insertion order;
// the first eligible matching template wins. The returned resolution
// carries a fresh deep copy of the skeleton with typed captures
// injected; stored templates are never mutated.
func (idx *TemplateIndex) Match(utterance string, scope domain.ScopeID) (*domain.Resolution, bool) {
	snapshot := idx.snapshot.Load()
	for _, template := range snapshot.templates {
		if !template.Scope.AppliesTo(scope) {
			continue
		}
		match := template.Pattern.FindStringSubmatch(utterance)
		if match == nil {
			continue
		}

		answer := domain.Clone(template.Skeleton)
		ok := true
		for i, name := range template.Pattern.SubexpNames() {
			if name == "" || i >= len(match) {
				continue
			}
			path, mapped := template.ParamMap[name]
			if !mapped {
				continue
			}
			if err := domain.SetAtPath(answer, path, inferTypedValue(match[i])); err != nil {
				idx.log.Warn("inject capture failed",
					"path", path,
					"pattern", template.Pattern.String(),
					"error", err,
				)
				ok = false
				break
			}
		}
		if !ok {
			continue
		}

		return &domain.Resolution{
			Answer:           answer,
			Source:           domain.SourceTemplate,
			MatchedUtterance: template.SourceUtterance,
			Scope:            template.Scope,
		}, true
	}
	return nil, false
}

// inferTypedValue restores the numeric type of a captured string:
// integer when all digits, float when digits.digits, string otherwise.
func inferTypedValue(captured string) any {
	if intPattern.MatchString(captured) {
		if n, err := strconv.ParseInt(captured, 10, 64); err == nil {
			return n
		}
	}
	if floatPattern.MatchString(captured) {
		if f, err := strconv.ParseFloat(captured, 64); err == nil {
			return f
		}
	}
	return captured
}
