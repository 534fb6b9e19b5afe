package pipeline

import "fmt"

// Policy bounds what a sanitized pipeline may do. A Policy is a plain value;
// several profiles can be used side by side.
type Policy struct {
	// MaxStages is the number of input stages inspected. Later stages are
	// discarded without evaluation.
	MaxStages int
	// MaxLimitValue caps every limit stage and is the bound of the limit
	// appended when a pipeline has none.
	MaxLimitValue int
	// MaxSortFields is the number of sort keys kept per sort stage.
	MaxSortFields int
	// MaxGroupOverflow bounds the output of a group stage that runs before
	// any limit.
	MaxGroupOverflow int
	// LookupSubLimit bounds every lookup sub-pipeline.
	LookupSubLimit int
	// DefaultLimit replaces limit values that are not positive numbers.
	DefaultLimit int
	// Strict makes executors reject pipelines that needed rewriting instead
	// of running the downgraded version.
	Strict bool
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxStages:        10,
		MaxLimitValue:    1000,
		MaxSortFields:    5,
		MaxGroupOverflow: 10000,
		LookupSubLimit:   1000,
		DefaultLimit:     100,
	}
}

// Validate checks that every bound is positive.
func (p Policy) Validate() error {
	bounds := []struct {
		name  string
		value int
	}{
		{"max_stages", p.MaxStages},
		{"max_limit", p.MaxLimitValue},
		{"max_sort_fields", p.MaxSortFields},
		{"max_group_overflow", p.MaxGroupOverflow},
		{"lookup_sub_limit", p.LookupSubLimit},
		{"default_limit", p.DefaultLimit},
	}
	for _, b := range bounds {
		if b.value <= 0 {
			return fmt.Errorf("policy %s must be positive, got %d", b.name, b.value)
		}
	}
	return nil
}
