// Package params implements the ordered parameter mapping attached to a job
// submission and the conversion of that mapping into the argument string
// passed to the analysis container.
package params

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Map is an insertion-ordered mapping from parameter name to value.
// Values are scalars (string, json.Number, bool) or ordered sequences
// ([]any of scalars). JSON round-trips preserve key order, which matters
// because the argument builder emits tokens in declaration order and the
// parameter hash must be stable for identical request bodies.
type Map struct {
	keys   []string
	values map[string]any
}

// New returns an empty Map.
func New() *Map {
	return &Map{values: make(map[string]any)}
}

// Set adds or replaces a value. A new key is appended to the key order;
// replacing an existing key keeps its position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = make(map[string]any)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it is present.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the parameter names in declaration order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of parameters.
func (m *Map) Len() int {
	return len(m.keys)
}

// StringSlice returns the value for key as a string slice. Sequence elements
// that are not strings are stringified. Returns false if the key is absent
// or the value is not a sequence.
func (m *Map) StringSlice(key string) ([]string, bool) {
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	seq, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, len(seq))
	for i, el := range seq {
		out[i] = scalarString(el)
	}
	return out, true
}

// Clone returns a deep copy of the map. Sequence values are copied so the
// per-subject reduction never aliases the original submission parameters.
func (m *Map) Clone() *Map {
	c := &Map{
		keys:   make([]string, len(m.keys)),
		values: make(map[string]any, len(m.values)),
	}
	copy(c.keys, m.keys)
	for k, v := range m.values {
		if seq, ok := v.([]any); ok {
			cp := make([]any, len(seq))
			copy(cp, seq)
			c.values[k] = cp
		} else {
			c.values[k] = v
		}
	}
	return c
}

// WithValue returns a clone with key replaced by value, keeping its position
// in the key order.
func (m *Map) WithValue(key string, value any) *Map {
	c := m.Clone()
	c.Set(key, value)
	return c
}

// Hash returns the hex MD5 digest of the canonical JSON encoding. Used as
// the parameter component of the submission deduplication key.
func (m *Map) Hash() string {
	b, err := m.MarshalJSON()
	if err != nil {
		// Map values come from JSON decoding, so re-encoding cannot fail.
		panic(err)
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// MarshalJSON encodes the map as a JSON object in declaration order.
func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving its key order. Numbers are
// kept as json.Number so falsiness checks and re-encoding are exact.
func (m *Map) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return fmt.Errorf("params: expected JSON object, got %v", tok)
	}

	m.keys = nil
	m.values = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val, err := decodeValue(raw)
		if err != nil {
			return err
		}
		m.Set(key, val)
	}

	// Consume closing brace
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

func decodeValue(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
