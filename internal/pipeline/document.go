package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Field is a single key/value pair of a Document.
type Field struct {
	Key   string
	Value any
}

// Document is an ordered set of fields. Aggregation operators such as sort
// depend on field order, so plain Go maps cannot represent stage parameters.
type Document []Field

// Get returns the value stored under key.
func (d Document) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field names in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}
	return keys
}

// With returns a copy of d where key is set to value. An existing field keeps
// its position; a new field is appended.
func (d Document) With(key string, value any) Document {
	out := make(Document, 0, len(d)+1)
	replaced := false
	for _, f := range d {
		if f.Key == key {
			out = append(out, Field{Key: key, Value: value})
			replaced = true
			continue
		}
		out = append(out, f)
	}
	if !replaced {
		out = append(out, Field{Key: key, Value: value})
	}
	return out
}

// MarshalJSON encodes the document as a JSON object in field order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving the order of its fields.
// Nested objects become Documents, arrays become []any, integral numbers
// that fit in an int64 become int64 and all other numbers float64.
func (d *Document) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid JSON document")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return fmt.Errorf("expected JSON object, got %s", res.Type)
	}
	*d = decodeObject(res)
	return nil
}

// ParseDocument decodes a JSON object into a Document.
func ParseDocument(data []byte) (Document, error) {
	var d Document
	if err := d.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeObject(res gjson.Result) Document {
	doc := Document{}
	res.ForEach(func(key, value gjson.Result) bool {
		doc = append(doc, Field{Key: key.String(), Value: decodeValue(value)})
		return true
	})
	return doc
}

func decodeValue(res gjson.Result) any {
	switch res.Type {
	case gjson.Null:
		return nil
	case gjson.False:
		return false
	case gjson.True:
		return true
	case gjson.String:
		return res.Str
	case gjson.Number:
		if strings.ContainsAny(res.Raw, ".eE") {
			return res.Num
		}
		// Integers outside the int64 range keep their float64 value.
		if n, err := strconv.ParseInt(res.Raw, 10, 64); err == nil {
			return n
		}
		return res.Num
	}

	if res.IsObject() {
		return decodeObject(res)
	}
	arr := res.Array()
	out := make([]any, len(arr))
	for i, v := range arr {
		out[i] = decodeValue(v)
	}
	return out
}

// AsDocument views v as a Document. Single-key maps are accepted for callers
// that build stages in Go; multi-key maps are sorted by key since their
// iteration order is undefined.
func AsDocument(v any) (Document, bool) {
	switch t := v.(type) {
	case Document:
		return t, true
	case Stage:
		return Document(t), true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc := make(Document, len(keys))
		for i, k := range keys {
			doc[i] = Field{Key: k, Value: t[k]}
		}
		return doc, true
	}
	return nil, false
}

// AsArray views v as a list of pipeline elements.
func AsArray(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []Stage:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, true
	case []Document:
		out := make([]any, len(t))
		for i, d := range t {
			out[i] = d
		}
		return out, true
	}
	return nil, false
}
