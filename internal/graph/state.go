// Package graph is a small directed-graph runtime: named nodes over a shared
// state bag, sequential and conditional edges, Send-style parallel fan-out,
// and declarative per-field state merging. It exists so the research
// pipeline can be expressed as a wiring diagram instead of a hand-rolled
// control loop.
package graph

import (
	"fmt"
	"reflect"
)

// End is the terminal pseudo-node.
const End = "__end__"

// State is the graph's working memory. Nodes return partial states; the
// runtime merges them per the schema.
type State map[string]any

// Clone returns a shallow copy. Field values are shared; nodes must treat
// incoming values as read-only and return fresh slices in their deltas.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// GetString reads a string field, "" when absent or mistyped.
func (s State) GetString(key string) string {
	v, _ := s[key].(string)
	return v
}

// GetInt reads an int field, 0 when absent or mistyped.
func (s State) GetInt(key string) int {
	v, _ := s[key].(int)
	return v
}

// GetBool reads a bool field, false when absent or mistyped.
func (s State) GetBool(key string) bool {
	v, _ := s[key].(bool)
	return v
}

// GetStrings reads a []string field, nil when absent or mistyped.
func (s State) GetStrings(key string) []string {
	v, _ := s[key].([]string)
	return v
}

// Reducer is a per-field merge policy.
type Reducer int

const (
	// Replace overwrites the field with the latest delta value.
	Replace Reducer = iota
	// Append concatenates slice deltas onto the existing slice.
	Append
)

// Schema declares the reducer for every append field. Fields absent from
// the schema default to Replace.
type Schema map[string]Reducer

// Merge folds a delta into dst in place, honoring the schema.
func (sch Schema) Merge(dst State, delta State) error {
	for k, v := range delta {
		if sch[k] != Append {
			dst[k] = v
			continue
		}
		merged, err := appendValues(dst[k], v)
		if err != nil {
			return fmt.Errorf("merge field %q: %w", k, err)
		}
		dst[k] = merged
	}
	return nil
}

func appendValues(existing, addition any) (any, error) {
	if addition == nil {
		return existing, nil
	}
	av := reflect.ValueOf(addition)
	if av.Kind() != reflect.Slice {
		return nil, fmt.Errorf("append reducer needs a slice, got %T", addition)
	}
	if existing == nil {
		return addition, nil
	}
	ev := reflect.ValueOf(existing)
	if ev.Kind() != reflect.Slice || ev.Type() != av.Type() {
		return nil, fmt.Errorf("append reducer type mismatch: %T vs %T", existing, addition)
	}
	out := reflect.MakeSlice(ev.Type(), 0, ev.Len()+av.Len())
	out = reflect.AppendSlice(out, ev)
	out = reflect.AppendSlice(out, av)
	return out.Interface(), nil
}
