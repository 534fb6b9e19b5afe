// Package pipeline sanitizes client-supplied aggregation pipelines.
//
// A pipeline is an ordered list of stages. Each stage is a document with a
// single operator key, written with or without the "$" prefix:
//
//	[{"match": {"mode": "classic"}}, {"sort": {"score": -1}}, {"limit": 50}]
//
// The Sanitizer never rejects a pipeline. It drops stages whose operator is
// denied, unknown or malformed, clamps limit values, truncates long sort
// specifications, bounds lookup sub-pipelines and appends a limit when the
// pipeline has none. Every drop or rewrite is reported as a Diagnostic.
//
// # Guarantees
//
// For every Outcome produced under a Policy p:
//   - no stage uses a denied or unknown operator, including inside lookups;
//   - there is a limit of at most p.MaxLimitValue, or a group directly
//     followed by a limit of at most p.MaxGroupOverflow;
//   - a client limit placed directly after the first group is that group's
//     bound, so it is capped at p.MaxGroupOverflow rather than
//     p.MaxLimitValue: [group, limit 5000] may return 5000 documents;
//   - every sort has at most p.MaxSortFields keys;
//   - every lookup sub-pipeline holds a limit of at most p.LookupSubLimit
//     and at most p.MaxStages other stages;
//   - with WithLookupCollections, every lookup reads from a permitted
//     collection;
//   - sanitizing the output again yields the same output.
//
// Strict callers can turn a downgraded pipeline into an error with
// Outcome.Reject.
package pipeline
