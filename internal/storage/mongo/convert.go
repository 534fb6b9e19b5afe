package mongo

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/tjfontaine/gamestats/internal/pipeline"
)

// Pipeline converts sanitized stages into a driver pipeline. Stage keys get
// the "$" operator prefix when it is missing, including the stages of lookup
// sub-pipelines. Field order is preserved.
func Pipeline(stages []pipeline.Stage) (mongo.Pipeline, error) {
	out := make(mongo.Pipeline, 0, len(stages))
	for i, s := range stages {
		d, err := stageToBSON(pipeline.Document(s))
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func stageToBSON(doc pipeline.Document) (bson.D, error) {
	if len(doc) != 1 {
		return nil, fmt.Errorf("stage has %d keys, want 1", len(doc))
	}
	op := strings.TrimPrefix(doc[0].Key, "$")

	var value any
	if op == pipeline.OpLookup {
		params, ok := pipeline.AsDocument(doc[0].Value)
		if !ok {
			return nil, fmt.Errorf("lookup specification is not a document")
		}
		converted, err := lookupToBSON(params)
		if err != nil {
			return nil, err
		}
		value = converted
	} else {
		value = valueToBSON(doc[0].Value)
	}

	return bson.D{{Key: "$" + op, Value: value}}, nil
}

func lookupToBSON(params pipeline.Document) (bson.D, error) {
	out := make(bson.D, 0, len(params))
	for _, f := range params {
		if f.Key != "pipeline" {
			out = append(out, bson.E{Key: f.Key, Value: valueToBSON(f.Value)})
			continue
		}
		elems, ok := pipeline.AsArray(f.Value)
		if !ok {
			return nil, fmt.Errorf("lookup pipeline is not an array")
		}
		sub := make(bson.A, 0, len(elems))
		for _, elem := range elems {
			doc, ok := pipeline.AsDocument(elem)
			if !ok {
				return nil, fmt.Errorf("lookup sub-stage is not a document")
			}
			d, err := stageToBSON(doc)
			if err != nil {
				return nil, fmt.Errorf("lookup sub-stage: %w", err)
			}
			sub = append(sub, d)
		}
		out = append(out, bson.E{Key: f.Key, Value: sub})
	}
	return out, nil
}

func valueToBSON(v any) any {
	switch t := v.(type) {
	case pipeline.Document:
		return documentToBSON(t)
	case pipeline.Stage:
		return documentToBSON(pipeline.Document(t))
	case map[string]any:
		m := make(bson.M, len(t))
		for k, val := range t {
			m[k] = valueToBSON(val)
		}
		return m
	case []any:
		a := make(bson.A, len(t))
		for i, val := range t {
			a[i] = valueToBSON(val)
		}
		return a
	default:
		return v
	}
}

func documentToBSON(doc pipeline.Document) bson.D {
	d := make(bson.D, len(doc))
	for i, f := range doc {
		d[i] = bson.E{Key: f.Key, Value: valueToBSON(f.Value)}
	}
	return d
}

// normalize converts decoded driver values into plain Go values that encode
// cleanly as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalize(e.Value)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case primitive.Decimal128:
		return t.String()
	case primitive.Timestamp:
		return map[string]any{"t": t.T, "i": t.I}
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = normalize(val)
	}
	return out
}
