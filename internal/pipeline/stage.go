package pipeline

import "strings"

// Stage is one pipeline step: a document holding a single operator key whose
// value carries the operator parameters, e.g. {"limit": 50}.
type Stage Document

// NewStage builds a stage for operator op.
func NewStage(op string, params any) Stage {
	return Stage{{Key: op, Value: params}}
}

// Operator returns the operator name with any leading "$" removed, so
// "$match" and "match" name the same operator. ok is false when the stage
// does not have exactly one top-level key.
func (s Stage) Operator() (name string, ok bool) {
	if len(s) != 1 {
		return "", false
	}
	return strings.TrimPrefix(s[0].Key, "$"), true
}

// Params returns the operator parameters of a well-formed stage.
func (s Stage) Params() any {
	if len(s) != 1 {
		return nil
	}
	return s[0].Value
}

// withParams returns a copy of s with the same key spelling and new params.
func (s Stage) withParams(params any) Stage {
	return Stage{{Key: s[0].Key, Value: params}}
}

// MarshalJSON encodes the stage in field order.
func (s Stage) MarshalJSON() ([]byte, error) {
	return Document(s).MarshalJSON()
}

// UnmarshalJSON decodes a stage object, preserving field order.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var d Document
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*s = Stage(d)
	return nil
}

// Class partitions operator names.
type Class int

const (
	ClassUnknown Class = iota
	ClassAllowed
	ClassDenied
)

func (c Class) String() string {
	switch c {
	case ClassAllowed:
		return "allowed"
	case ClassDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Operator names the sanitizer treats specially.
const (
	OpMatch     = "match"
	OpGroup     = "group"
	OpSort      = "sort"
	OpLimit     = "limit"
	OpProject   = "project"
	OpLookup    = "lookup"
	OpUnwind    = "unwind"
	OpAddFields = "addFields"
	OpSet       = "set"
	OpCount     = "count"
)

var allowedOperators = map[string]struct{}{
	OpMatch:     {},
	OpGroup:     {},
	OpSort:      {},
	OpLimit:     {},
	OpProject:   {},
	OpLookup:    {},
	OpUnwind:    {},
	OpAddFields: {},
	OpSet:       {},
	OpCount:     {},
}

// Operators that write to collections or expose server internals.
var deniedOperators = map[string]struct{}{
	"out":               {},
	"merge":             {},
	"geoNear":           {},
	"text":              {},
	"indexStats":        {},
	"collStats":         {},
	"currentOp":         {},
	"listLocalSessions": {},
}

// Classify reports which class an operator name belongs to. Matching is exact
// and case sensitive.
func Classify(op string) Class {
	if _, ok := deniedOperators[op]; ok {
		return ClassDenied
	}
	if _, ok := allowedOperators[op]; ok {
		return ClassAllowed
	}
	return ClassUnknown
}
