package usecase

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mkraev/instruction-engine/internal/core/domain"
)

// valueSpan is one leaf value located verbatim inside the utterance.
type valueSpan struct {
	start   int
	end     int
	path    string
	numeric bool
}

// CompileExample turns one (utterance, answer) pair into a reusable
// template. Only the first literal occurrence of each leaf value is
// considered, and overlapping spans are resolved earliest-start-wins;
// examples with repeated values can therefore compile to a narrower
// pattern than intended. An example whose values never appear in the
// utterance degenerates to a literal, exact-match pattern.
func CompileExample(utterance string, answer domain.Value, scope domain.ScopeID) (domain.Template, error) {
	spans := locateSpans(utterance, answer)

	var pattern strings.Builder
	pattern.WriteString("(?i)^")

	paramMap := make(map[string]string, len(spans))
	cursor := 0
	for i, span := range spans {
		if span.start > cursor {
			pattern.WriteString(regexp.QuoteMeta(utterance[cursor:span.start]))
		}
		name := fmt.Sprintf("p_%d", i)
		if span.numeric {
			pattern.WriteString(fmt.Sprintf(`(?P<%s>\d+(?:\.\d+)?)`, name))
		} else {
			pattern.WriteString(fmt.Sprintf(`(?P<%s>.+?)`, name))
		}
		paramMap[name] = span.path
		cursor = span.end
	}
	if cursor < len(utterance) {
		pattern.WriteString(regexp.QuoteMeta(utterance[cursor:]))
	}
	pattern.WriteString("$")

	compiled, err := regexp.Compile(pattern.String())
	if err != nil {
		return domain.Template{}, fmt.Errorf("compile template pattern: %w", err)
	}

	return domain.Template{
		Pattern:         compiled,
		Skeleton:        domain.Clone(answer),
		ParamMap:        paramMap,
		Scope:           scope,
		SourceUtterance: utterance,
	}, nil
}

// locateSpans finds the first occurrence of each leaf value inside the
// utterance, sorts spans by start and drops overlaps keeping the
// earliest. The returned slice is deterministic for a given pair.
func locateSpans(utterance string, answer domain.Value) []valueSpan {
	leaves := domain.Flatten(answer)

	spans := make([]valueSpan, 0, len(leaves))
	for _, leaf := range leaves {
		literal := leaf.Leaf.String()
		if literal == "" {
			continue
		}
		start := strings.Index(utterance, literal)
		if start < 0 {
			continue
		}
		spans = append(spans, valueSpan{
			start:   start,
			end:     start + len(literal),
			path:    leaf.Path,
			numeric: leaf.Leaf.IsNumeric(),
		})
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	kept := spans[:0]
	lastEnd := 0
	for _, span := range spans {
		if span.start >= lastEnd {
			kept = append(kept, span)
			lastEnd = span.end
		}
	}
	return kept
}
