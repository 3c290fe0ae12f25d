package templateinput

import "strings"

// Override replaces the value bound to Key. Keys beginning with "/" are
// template variable paths.
type Override struct {
	Key   string
	Value interface{}
}

// Overrides are applied in order; a later override on the same key wins.
type Overrides []Override

// StripTransient returns a copy of set without the controller's status field,
// which the controller rejects on submission.
func StripTransient(set *InputSet) *InputSet {
	out := set.Clone()
	out.Delete(FieldStatus)
	return out
}

// RebindDevice returns a copy of set keyed to deviceUUID.
func RebindDevice(set *InputSet, deviceUUID string) *InputSet {
	out := set.Clone()
	out.Set(FieldDeviceID, deviceUUID)
	return out
}

// ApplyOverrides returns a copy of set with every override applied.
//
// A variable path is written to the nested binding it addresses when the set
// carries nested objects all the way down to the leaf's parent. Otherwise the
// path itself is used as a flat key, which is how the controller returns
// variables from the input endpoint.
func ApplyOverrides(set *InputSet, overrides Overrides) *InputSet {
	out := set.Clone()
	for _, o := range overrides {
		if !IsVariablePath(o.Key) || out.Has(o.Key) {
			out.Set(o.Key, o.Value)
			continue
		}
		if !setNested(out, o.Key, o.Value) {
			out.Set(o.Key, o.Value)
		}
	}
	return out
}

// IsVariablePath reports whether key addresses a template variable path.
func IsVariablePath(key string) bool {
	return strings.HasPrefix(key, "/")
}

func setNested(set *InputSet, path string, value interface{}) bool {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) < 2 {
		return false
	}

	root, ok := set.values[segments[0]].(map[string]interface{})
	if !ok {
		return false
	}
	parent := root
	for _, seg := range segments[1 : len(segments)-1] {
		next, ok := parent[seg].(map[string]interface{})
		if !ok {
			return false
		}
		parent = next
	}
	parent[segments[len(segments)-1]] = value
	return true
}
