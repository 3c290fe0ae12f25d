// Package templateinput holds per-device template input sets and the pure
// transformations applied to them before they are submitted to the controller.
package templateinput

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Well-known keys of a controller input set.
const (
	FieldStatus   = "csv-status"
	FieldDeviceID = "csv-deviceId"
	FieldDeviceIP = "csv-deviceIP"
	FieldHostName = "csv-host-name"
)

// Entry is a single key/value binding of an input set.
type Entry struct {
	Key   string
	Value interface{}
}

// InputSet is an ordered mapping of template variable names to values for one
// device. Key order is preserved through JSON round trips so that exported
// sheets keep the controller's column order.
type InputSet struct {
	keys   []string
	values map[string]interface{}
}

// New creates an input set from entries in order. Repeated keys keep their
// first position and take the last value.
func New(entries ...Entry) *InputSet {
	s := &InputSet{values: make(map[string]interface{}, len(entries))}
	for _, e := range entries {
		s.Set(e.Key, e.Value)
	}
	return s
}

// Get returns the value bound to key.
func (s *InputSet) Get(key string) (interface{}, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value bound to key rendered as a string.
func (s *InputSet) GetString(key string) string {
	v, ok := s.values[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// Set binds key to value, appending the key if it is new.
func (s *InputSet) Set(key string, value interface{}) {
	if s.values == nil {
		s.values = make(map[string]interface{})
	}
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Delete removes key and reports whether it was present.
func (s *InputSet) Delete(key string) bool {
	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether key is bound.
func (s *InputSet) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Keys returns the keys in order.
func (s *InputSet) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Entries returns the bindings in order.
func (s *InputSet) Entries() []Entry {
	out := make([]Entry, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, Entry{Key: k, Value: s.values[k]})
	}
	return out
}

// Len returns the number of bindings.
func (s *InputSet) Len() int {
	return len(s.keys)
}

// DeviceID returns the device UUID the set is keyed to.
func (s *InputSet) DeviceID() string {
	return s.GetString(FieldDeviceID)
}

// Clone returns a deep copy of the set. Nested maps and slices produced by
// JSON decoding are copied as well.
func (s *InputSet) Clone() *InputSet {
	out := &InputSet{
		keys:   make([]string, len(s.keys)),
		values: make(map[string]interface{}, len(s.values)),
	}
	copy(out.keys, s.keys)
	for k, v := range s.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []interface{}:
		l := make([]interface{}, len(t))
		for i, inner := range t {
			l[i] = cloneValue(inner)
		}
		return l
	default:
		return v
	}
}

// MarshalJSON encodes the set as a JSON object in key order.
func (s *InputSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %q: %w", k, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping the order of its top-level keys.
func (s *InputSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("input set must be a JSON object")
	}

	s.keys = nil
	s.values = make(map[string]interface{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in input set", tok)
		}
		var value interface{}
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("failed to decode %q: %w", key, err)
		}
		s.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
