package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// Reason explains why the sanitizer dropped, rewrote or added a stage.
type Reason string

const (
	// ReasonDangerous marks a dropped stage whose operator is denied.
	ReasonDangerous Reason = "dangerous"
	// ReasonUnsupported marks a dropped stage whose operator is not allowed.
	ReasonUnsupported Reason = "unsupported"
	// ReasonMalformed marks a dropped stage without exactly one operator key,
	// or with parameters of the wrong shape.
	ReasonMalformed Reason = "malformed"
	// ReasonLimitClamped marks a limit whose value was replaced.
	ReasonLimitClamped Reason = "limit-clamped"
	// ReasonSortTruncated marks a sort that lost trailing keys.
	ReasonSortTruncated Reason = "sort-truncated"
	// ReasonLookupLimitInjected marks a lookup sub-pipeline that gained a limit.
	ReasonLookupLimitInjected Reason = "lookup-limit-injected"
	// ReasonImplicitLimitAppended marks the fallback limit at the end.
	ReasonImplicitLimitAppended Reason = "implicit-limit-appended"
	// ReasonGroupLimitInjected marks the limit inserted after a group.
	ReasonGroupLimitInjected Reason = "group-limit-injected"
	// ReasonForeignCollection marks a dropped lookup whose source is not one
	// of the permitted collections.
	ReasonForeignCollection Reason = "foreign-collection"
	// ReasonStagesTruncated marks lookup sub-pipeline stages dropped by the
	// stage cap.
	ReasonStagesTruncated Reason = "stages-truncated"
)

// Violation reports whether the reason reflects something the client asked
// for that the policy does not permit, as opposed to a bound the sanitizer
// added on its own.
func (r Reason) Violation() bool {
	switch r {
	case ReasonDangerous, ReasonUnsupported, ReasonMalformed, ReasonLimitClamped, ReasonSortTruncated,
		ReasonForeignCollection, ReasonStagesTruncated:
		return true
	}
	return false
}

// Diagnostic records one drop or rewrite.
type Diagnostic struct {
	// Index is the position of the input stage that caused the action, or -1
	// for the trailing fallback limit.
	Index    int    `json:"index"`
	Operator string `json:"operator"`
	Reason   Reason `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("stage %d %s: %s", d.Index, d.Operator, d.Reason)
	if d.Detail != "" {
		s += " (" + d.Detail + ")"
	}
	return s
}

// DiagnosticSink observes diagnostics as they are produced.
type DiagnosticSink interface {
	Observe(Diagnostic)
}

// SinkFunc adapts a function to DiagnosticSink.
type SinkFunc func(Diagnostic)

func (f SinkFunc) Observe(d Diagnostic) { f(d) }

// Outcome is the result of sanitizing one pipeline.
type Outcome struct {
	Stages      []Stage
	Diagnostics []Diagnostic
	// Truncated counts input stages discarded unseen by the stage cap.
	Truncated int
}

// Violations returns the diagnostics that reflect disallowed client input.
func (o Outcome) Violations() []Diagnostic {
	var out []Diagnostic
	for _, d := range o.Diagnostics {
		if d.Reason.Violation() {
			out = append(out, d)
		}
	}
	return out
}

// Reject returns a *RejectedError when the pipeline needed any rewriting that
// counts as a violation, or was cut by the stage cap. It returns nil otherwise.
func (o Outcome) Reject() error {
	v := o.Violations()
	if len(v) == 0 && o.Truncated == 0 {
		return nil
	}
	return &RejectedError{Violations: v, Truncated: o.Truncated}
}

// RejectedError is returned in strict mode for pipelines that would have been
// downgraded.
type RejectedError struct {
	Violations []Diagnostic
	Truncated  int
}

func (e *RejectedError) Error() string {
	parts := make([]string, 0, len(e.Violations)+1)
	for _, d := range e.Violations {
		parts = append(parts, d.String())
	}
	if e.Truncated > 0 {
		parts = append(parts, fmt.Sprintf("%d stages over the stage cap", e.Truncated))
	}
	return "pipeline rejected: " + strings.Join(parts, "; ")
}

// IsRejected returns true if the error is a strict-mode rejection.
func IsRejected(err error) bool {
	_, ok := err.(*RejectedError)
	return ok
}

// Sanitizer rewrites client pipelines so they respect a Policy. It holds no
// mutable state and may be shared between goroutines.
type Sanitizer struct {
	policy      Policy
	sink        DiagnosticSink
	collections map[string]string
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithSink registers a sink that sees every diagnostic.
func WithSink(sink DiagnosticSink) Option {
	return func(s *Sanitizer) {
		s.sink = sink
	}
}

// WithLookupCollections restricts lookup sources to the keys of names. Each
// key maps to the collection name the stage is rewritten to, so a caller can
// accept logical and physical spellings of the same collection. Without this
// option any source is accepted.
func WithLookupCollections(names map[string]string) Option {
	return func(s *Sanitizer) {
		s.collections = make(map[string]string, len(names))
		for k, v := range names {
			s.collections[k] = v
		}
	}
}

// New creates a sanitizer for the given policy.
func New(p Policy, opts ...Option) (*Sanitizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &Sanitizer{policy: p}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policy returns the policy the sanitizer enforces.
func (s *Sanitizer) Policy() Policy {
	return s.policy
}

// pass holds the per-call state of one Sanitize run.
type pass struct {
	policy      Policy
	sink        DiagnosticSink
	collections map[string]string
	out         []Stage
	diagnostics []Diagnostic
	limitSeen   bool
	// groupBound is set when a group left its bound to the limit that
	// directly follows it.
	groupBound bool
}

// Sanitize returns a bounded version of in. It never fails and never mutates
// its input.
//
// Only the first MaxStages input stages are inspected. Inspection also stops
// once the output holds MaxStages stages, which only happens when limits were
// inserted after group stages; this keeps Sanitize idempotent.
func (s *Sanitizer) Sanitize(in []Stage) Outcome {
	p := &pass{policy: s.policy, sink: s.sink, collections: s.collections}

	window := in
	if len(window) > p.policy.MaxStages {
		window = window[:p.policy.MaxStages]
	}

	consumed := 0
	for i := 0; i < len(window) && len(p.out) < p.policy.MaxStages; i++ {
		consumed++
		groupBound := p.groupBound
		p.groupBound = false

		stage := window[i]
		op, ok := stage.Operator()
		if !ok {
			p.report(i, strings.Join(Document(stage).Keys(), ","), ReasonMalformed, fmt.Sprintf("%d top-level keys", len(stage)))
			continue
		}

		switch Classify(op) {
		case ClassDenied:
			p.report(i, op, ReasonDangerous, "")
			continue
		case ClassUnknown:
			p.report(i, op, ReasonUnsupported, "")
			continue
		}

		switch op {
		case OpLimit:
			limitCap := p.policy.MaxLimitValue
			if groupBound {
				limitCap = p.policy.MaxGroupOverflow
			}
			p.out = append(p.out, p.limit(i, stage, limitCap))
			p.limitSeen = true

		case OpSort:
			if sorted, ok := p.sort(i, stage); ok {
				p.out = append(p.out, sorted)
			}

		case OpGroup:
			p.out = append(p.out, stage)
			if p.limitSeen {
				continue
			}
			p.limitSeen = true
			if i+1 < len(window) && isLimit(window[i+1]) && len(p.out) < p.policy.MaxStages {
				p.groupBound = true
				continue
			}
			p.out = append(p.out, NewStage(OpLimit, int64(p.policy.MaxGroupOverflow)))
			p.report(i, OpLimit, ReasonGroupLimitInjected, fmt.Sprintf("limit %d", p.policy.MaxGroupOverflow))

		case OpLookup:
			if looked, ok := p.lookup(i, stage); ok {
				p.out = append(p.out, looked)
			}

		default:
			p.out = append(p.out, stage)
		}
	}

	if !p.limitSeen {
		p.out = append(p.out, NewStage(OpLimit, int64(p.policy.MaxLimitValue)))
		p.report(-1, OpLimit, ReasonImplicitLimitAppended, fmt.Sprintf("limit %d", p.policy.MaxLimitValue))
	}

	return Outcome{
		Stages:      p.out,
		Diagnostics: p.diagnostics,
		Truncated:   len(in) - consumed,
	}
}

func (p *pass) report(index int, op string, reason Reason, detail string) {
	d := Diagnostic{Index: index, Operator: op, Reason: reason, Detail: detail}
	p.diagnostics = append(p.diagnostics, d)
	if p.sink != nil {
		p.sink.Observe(d)
	}
}

// limit keeps a positive whole value up to limitCap and otherwise replaces it
// with min(declared or DefaultLimit, limitCap).
func (p *pass) limit(index int, stage Stage, limitCap int) Stage {
	value := stage.Params()
	if n, ok := wholePositive(value); ok && n <= int64(limitCap) {
		return stage
	}
	bound := clampLimit(value, p.policy.DefaultLimit, limitCap)
	p.report(index, OpLimit, ReasonLimitClamped, fmt.Sprintf("%v -> %d", value, bound))
	return stage.withParams(bound)
}

func (p *pass) sort(index int, stage Stage) (Stage, bool) {
	keys, ok := AsDocument(stage.Params())
	if !ok {
		p.report(index, OpSort, ReasonMalformed, "sort specification is not a document")
		return nil, false
	}
	if len(keys) <= p.policy.MaxSortFields {
		return stage, true
	}
	kept := make(Document, p.policy.MaxSortFields)
	copy(kept, keys[:p.policy.MaxSortFields])
	p.report(index, OpSort, ReasonSortTruncated, fmt.Sprintf("%d -> %d keys", len(keys), len(kept)))
	return stage.withParams(kept), true
}

func (p *pass) lookup(index int, stage Stage) (Stage, bool) {
	params, ok := AsDocument(stage.Params())
	if !ok {
		p.report(index, OpLookup, ReasonMalformed, "lookup specification is not a document")
		return nil, false
	}
	params, renamed, ok := p.lookupSource(index, params, "")
	if !ok {
		return nil, false
	}
	rewritten, changed := p.lookupParams(index, params)
	if !changed && !renamed {
		return stage, true
	}
	return stage.withParams(rewritten), true
}

// lookupSource checks the lookup's "from" against the permitted collections
// and rewrites it to the mapped name. ok is false when the lookup must be
// dropped.
func (p *pass) lookupSource(index int, params Document, detail string) (Document, bool, bool) {
	if p.collections == nil {
		return params, false, true
	}
	raw, _ := params.Get("from")
	from, _ := raw.(string)
	target, ok := p.collections[from]
	if !ok {
		msg := fmt.Sprintf("from %q", from)
		if detail != "" {
			msg = detail + ": " + msg
		}
		p.report(index, OpLookup, ReasonForeignCollection, msg)
		return nil, false, false
	}
	if target == from {
		return params, false, true
	}
	return params.With("from", target), true, true
}

// lookupParams bounds the sub-pipeline of one lookup specification.
func (p *pass) lookupParams(index int, params Document) (Document, bool) {
	raw, present := params.Get("pipeline")
	sub, isArray := AsArray(raw)
	if !present || !isArray {
		injected := []any{Document{{Key: OpLimit, Value: int64(p.policy.LookupSubLimit)}}}
		p.report(index, OpLimit, ReasonLookupLimitInjected, fmt.Sprintf("lookup sub-pipeline limit %d", p.policy.LookupSubLimit))
		return params.With("pipeline", injected), true
	}
	bounded, changed := p.subPipeline(index, sub)
	if _, plain := raw.([]any); !changed && plain {
		return params, false
	}
	return params.With("pipeline", bounded), true
}

// subPipeline applies the lookup rules to a nested pipeline: disallowed
// stages are dropped, limits are capped at LookupSubLimit, nested lookups are
// bounded recursively and a limit is appended when none exists. Once the
// output holds MaxStages stages, later stages are dropped except for a first
// limit.
func (p *pass) subPipeline(index int, sub []any) ([]any, bool) {
	const detail = "lookup sub-pipeline"

	out := make([]any, 0, len(sub)+1)
	changed := false
	hasLimit := false
	dropped := 0
	for _, elem := range sub {
		if len(out) >= p.policy.MaxStages && (hasLimit || !isLimitElem(elem)) {
			dropped++
			continue
		}
		doc, ok := AsDocument(elem)
		if !ok || len(doc) != 1 {
			p.report(index, OpLookup, ReasonMalformed, detail)
			changed = true
			continue
		}
		op, _ := Stage(doc).Operator()
		switch Classify(op) {
		case ClassDenied:
			p.report(index, op, ReasonDangerous, detail)
			changed = true
			continue
		case ClassUnknown:
			p.report(index, op, ReasonUnsupported, detail)
			changed = true
			continue
		}

		switch op {
		case OpLimit:
			hasLimit = true
			value := doc[0].Value
			if n, ok := wholePositive(value); ok && n <= int64(p.policy.LookupSubLimit) {
				out = append(out, elem)
				continue
			}
			bound := clampLimit(value, p.policy.DefaultLimit, p.policy.LookupSubLimit)
			p.report(index, OpLimit, ReasonLimitClamped, fmt.Sprintf("%s: %v -> %d", detail, value, bound))
			out = append(out, Document{{Key: doc[0].Key, Value: bound}})
			changed = true

		case OpSort:
			keys, ok := AsDocument(doc[0].Value)
			if !ok {
				p.report(index, OpSort, ReasonMalformed, detail)
				changed = true
				continue
			}
			if len(keys) <= p.policy.MaxSortFields {
				out = append(out, elem)
				continue
			}
			kept := make(Document, p.policy.MaxSortFields)
			copy(kept, keys[:p.policy.MaxSortFields])
			p.report(index, OpSort, ReasonSortTruncated, detail)
			out = append(out, Document{{Key: doc[0].Key, Value: kept}})
			changed = true

		case OpLookup:
			params, ok := AsDocument(doc[0].Value)
			if !ok {
				p.report(index, OpLookup, ReasonMalformed, detail)
				changed = true
				continue
			}
			params, renamed, ok := p.lookupSource(index, params, detail)
			if !ok {
				changed = true
				continue
			}
			rewritten, nestedChanged := p.lookupParams(index, params)
			if !nestedChanged && !renamed {
				out = append(out, elem)
				continue
			}
			out = append(out, Document{{Key: doc[0].Key, Value: rewritten}})
			changed = true

		default:
			out = append(out, elem)
		}
	}

	if dropped > 0 {
		p.report(index, OpLookup, ReasonStagesTruncated, fmt.Sprintf("%s: %d stages over the stage cap", detail, dropped))
		changed = true
	}
	if !hasLimit {
		out = append(out, Document{{Key: OpLimit, Value: int64(p.policy.LookupSubLimit)}})
		p.report(index, OpLimit, ReasonLookupLimitInjected, fmt.Sprintf("%s limit %d", detail, p.policy.LookupSubLimit))
		changed = true
	}
	return out, changed
}

func isLimit(s Stage) bool {
	op, ok := s.Operator()
	return ok && op == OpLimit
}

func isLimitElem(v any) bool {
	doc, ok := AsDocument(v)
	return ok && isLimit(Stage(doc))
}

// wholePositive reports v as an int64 when it is a whole number >= 1.
func wholePositive(v any) (int64, bool) {
	f, ok := number(v)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if !ok || f < 1 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// clampLimit returns min(declared, limitCap), where declared is v rounded down
// when v is a number >= 1 and def otherwise.
func clampLimit(v any, def, limitCap int) int64 {
	declared := float64(def)
	if f, ok := number(v); ok && f >= 1 {
		declared = math.Floor(f)
	}
	if declared > float64(limitCap) {
		return int64(limitCap)
	}
	return int64(declared)
}

func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
