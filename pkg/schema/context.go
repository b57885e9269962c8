package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Context is the data bag threaded through a run. Keys keep insertion order;
// writing an existing key replaces its value in place. Values are normalized to
// plain JSON values (nil, bool, float64, string, []any, map[string]any) so that
// what a node stores is exactly what a replayed run reads back from the step log.
//
// A Context is never mutated by With or Merge: both return a new Context that
// shares the untouched values with the receiver.
type Context struct {
	keys   []string
	values map[string]any
}

// NewContext builds a Context from a map. Keys of a Go map have no order, so
// they are inserted sorted.
func NewContext(m map[string]any) (Context, error) {
	c := Context{}
	for _, k := range sortedKeys(m) {
		var err error
		if c, err = c.With(k, m[k]); err != nil {
			return Context{}, err
		}
	}
	return c, nil
}

// Len returns the number of keys.
func (c Context) Len() int { return len(c.keys) }

// Keys returns the keys in insertion order.
func (c Context) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

// Get returns the value stored under key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// With returns a new Context equal to c plus key=value. The value is
// normalized first; values that cannot be represented as JSON are rejected.
func (c Context) With(key string, value any) (Context, error) {
	norm, err := normalize(value)
	if err != nil {
		return Context{}, NewErrorf(ErrCodeValidation, "context value for %q is not JSON-compatible: %v", key, err).WithCause(err)
	}
	out := c.clone(1)
	if _, exists := out.values[key]; !exists {
		out.keys = append(out.keys, key)
	}
	out.values[key] = norm
	return out, nil
}

// Merge returns the shallow union of c and other. Keys of other win and are
// appended in other's order when new.
func (c Context) Merge(other Context) Context {
	out := c.clone(other.Len())
	for _, k := range other.keys {
		if _, exists := out.values[k]; !exists {
			out.keys = append(out.keys, k)
		}
		out.values[k] = other.values[k]
	}
	return out
}

// Map returns the context as a plain map, the shape template rendering and JSON
// consumers expect. The map is a shallow copy.
func (c Context) Map() map[string]any {
	m := make(map[string]any, len(c.keys))
	for _, k := range c.keys {
		m[k] = c.values[k]
	}
	return m
}

// MarshalJSON encodes the context as a JSON object in insertion order.
func (c Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the document.
func (c *Context) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = Context{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("context: expected JSON object, got %v", tok)
	}
	out := Context{values: make(map[string]any)}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("context: expected string key, got %v", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("context: decode %q: %w", key, err)
		}
		if _, exists := out.values[key]; !exists {
			out.keys = append(out.keys, key)
		}
		out.values[key] = v
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*c = out
	return nil
}

func (c Context) clone(extra int) Context {
	out := Context{
		keys:   make([]string, len(c.keys), len(c.keys)+extra),
		values: make(map[string]any, len(c.keys)+extra),
	}
	copy(out.keys, c.keys)
	for k, v := range c.values {
		out.values[k] = v
	}
	return out
}

// normalize round-trips v through JSON unless it is already a plain JSON value.
func normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
