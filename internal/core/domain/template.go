package domain

import "regexp"

// ScopeID partitions templates and cache entries, typically an
// instruction-repository or tenant id. The zero value means global.
type ScopeID string

func (s ScopeID) IsGlobal() bool { return s == "" }

// AppliesTo reports whether a template carrying this scope is eligible
// for a request made under the given scope.
func (s ScopeID) AppliesTo(request ScopeID) bool {
	return s.IsGlobal() || s == request
}

// Template is a compiled, reusable pattern derived from one verified
// (utterance, answer) example. Templates are never mutated after
// construction; the index replaces whole snapshots instead.
type Template struct {
	Pattern         *regexp.Regexp
	Skeleton        Value             // answer tree the captures are injected into
	ParamMap        map[string]string // capture-group name -> dot path in Skeleton
	Scope           ScopeID
	SourceUtterance string
}

// Example is one persisted (utterance, answer) pair the template index
// is rebuilt from.
type Example struct {
	ID        string
	Utterance string
	Answer    Value
	Scope     ScopeID
	Source    ExampleSource
}

type ExampleSource string

const (
	// ExampleSourceSystem marks seeded default pairs.
	ExampleSourceSystem ExampleSource = "system"
	// ExampleSourceManual marks pairs learned from positive feedback.
	ExampleSourceManual ExampleSource = "manual"
)

// ResolutionSource tags which cascade tier produced an answer.
type ResolutionSource string

const (
	SourceCache    ResolutionSource = "cache"
	SourceTemplate ResolutionSource = "template"
	SourceLLM      ResolutionSource = "llm"
)

// Resolution is the outcome of resolving one utterance.
type Resolution struct {
	Answer Value
	Source ResolutionSource
	// MatchedUtterance is the source utterance of the template that
	// matched, empty for cache and llm hits. Used for hit accounting.
	MatchedUtterance string
	Scope            ScopeID
}
