package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is a structured answer tree: Leaf, Object or Array. Trees are
// treated as immutable once stored; use Clone before writing into one.
type Value interface {
	isValue()
	clone() Value
}

type Leaf struct {
	V any // nil, bool, string, int64 or float64
}

type Object map[string]Value

type Array []Value

func (Leaf) isValue()   {}
func (Object) isValue() {}
func (Array) isValue()  {}

func (l Leaf) clone() Value { return l }

func (o Object) clone() Value {
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = v.clone()
	}
	return out
}

func (a Array) clone() Value {
	out := make(Array, len(a))
	for i, v := range a {
		out[i] = v.clone()
	}
	return out
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	if v == nil {
		return nil
	}
	return v.clone()
}

// LeafAt is one flattened leaf with its dot-notation path
// (object keys and numeric array indices, e.g. "params.0.value").
type LeafAt struct {
	Path string
	Leaf Leaf
}

// Flatten walks v depth-first and returns its leaves in a deterministic
// order: object keys sorted lexicographically, array elements in order.
func Flatten(v Value) []LeafAt {
	var out []LeafAt
	flattenInto(v, "", &out)
	return out
}

func flattenInto(v Value, prefix string, out *[]LeafAt) {
	switch node := v.(type) {
	case Leaf:
		*out = append(*out, LeafAt{Path: prefix, Leaf: node})
	case Object:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(node[k], joinPath(prefix, k), out)
		}
	case Array:
		for i, elem := range node {
			flattenInto(elem, joinPath(prefix, strconv.Itoa(i)), out)
		}
	}
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

// SetAtPath writes a leaf value into an existing position of the tree.
// The path must already resolve inside v; SetAtPath never grows the tree.
func SetAtPath(v Value, path string, leaf any) error {
	if path == "" {
		return fmt.Errorf("set %q: empty path", path)
	}
	segments := strings.Split(path, ".")
	return setAtSegments(v, segments, path, leaf)
}

func setAtSegments(v Value, segments []string, fullPath string, leaf any) error {
	head, rest := segments[0], segments[1:]

	switch node := v.(type) {
	case Object:
		if len(rest) == 0 {
			if _, ok := node[head]; !ok {
				return fmt.Errorf("set %q: key %q not found", fullPath, head)
			}
			node[head] = Leaf{V: leaf}
			return nil
		}
		child, ok := node[head]
		if !ok {
			return fmt.Errorf("set %q: key %q not found", fullPath, head)
		}
		return setAtSegments(child, rest, fullPath, leaf)
	case Array:
		idx, err := strconv.Atoi(head)
		if err != nil || idx < 0 || idx >= len(node) {
			return fmt.Errorf("set %q: index %q out of range", fullPath, head)
		}
		if len(rest) == 0 {
			node[idx] = Leaf{V: leaf}
			return nil
		}
		return setAtSegments(node[idx], rest, fullPath, leaf)
	default:
		return fmt.Errorf("set %q: segment %q addresses a leaf", fullPath, head)
	}
}

// LeafString renders a leaf the way it would appear verbatim inside an
// utterance. Integral numbers never carry a trailing ".0".
func (l Leaf) String() string {
	switch v := l.V.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsNumeric reports whether the leaf holds an int64 or float64.
func (l Leaf) IsNumeric() bool {
	switch l.V.(type) {
	case int64, float64:
		return true
	}
	return false
}

// FromJSON decodes raw JSON into a Value tree. Numbers become int64 when
// they parse as integers, float64 otherwise.
func FromJSON(raw []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var any any
	if err := dec.Decode(&any); err != nil {
		return nil, fmt.Errorf("decode answer json: %w", err)
	}
	return fromDecoded(any)
}

func fromDecoded(v any) (Value, error) {
	switch node := v.(type) {
	case map[string]any:
		out := make(Object, len(node))
		for k, child := range node {
			converted, err := fromDecoded(child)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	case []any:
		out := make(Array, len(node))
		for i, child := range node {
			converted, err := fromDecoded(child)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	case json.Number:
		if n, err := strconv.ParseInt(node.String(), 10, 64); err == nil {
			return Leaf{V: n}, nil
		}
		f, err := node.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse number %q: %w", node.String(), err)
		}
		return Leaf{V: f}, nil
	case nil, bool, string:
		return Leaf{V: node}, nil
	default:
		return nil, fmt.Errorf("unsupported json node %T", v)
	}
}

// ToJSON serializes a Value tree back to compact JSON.
func ToJSON(v Value) ([]byte, error) {
	raw, err := json.Marshal(toPlain(v))
	if err != nil {
		return nil, fmt.Errorf("encode answer json: %w", err)
	}
	return raw, nil
}

func toPlain(v Value) any {
	switch node := v.(type) {
	case Leaf:
		return node.V
	case Object:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = toPlain(child)
		}
		return out
	case Array:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = toPlain(child)
		}
		return out
	default:
		return nil
	}
}

// Equal compares two trees structurally.
func Equal(a, b Value) bool {
	switch left := a.(type) {
	case Leaf:
		right, ok := b.(Leaf)
		return ok && left.V == right.V
	case Object:
		right, ok := b.(Object)
		if !ok || len(left) != len(right) {
			return false
		}
		for k, v := range left {
			other, ok := right[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	case Array:
		right, ok := b.(Array)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Equal(left[i], right[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	default:
		return false
	}
}
