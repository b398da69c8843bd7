package core

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ArtifactValue is a tagged value tree produced by completed nodes and
// consumed by downstream nodes. JSON interop happens at the boundary;
// internal logic switches on Kind.
type ArtifactValue struct {
	Kind   ArtifactKind
	Scalar string
	List   []ArtifactValue
	Map    map[string]ArtifactValue
}

// ArtifactKind discriminates the value tree.
type ArtifactKind int

const (
	ArtifactScalar ArtifactKind = iota
	ArtifactList
	ArtifactMap
)

// ScalarValue returns a scalar artifact.
func ScalarValue(s string) ArtifactValue {
	return ArtifactValue{Kind: ArtifactScalar, Scalar: s}
}

// ListValue returns a list artifact.
func ListValue(items ...ArtifactValue) ArtifactValue {
	return ArtifactValue{Kind: ArtifactList, List: items}
}

// MapValue returns a map artifact.
func MapValue(m map[string]ArtifactValue) ArtifactValue {
	return ArtifactValue{Kind: ArtifactMap, Map: m}
}

// ArtifactFromJSON converts a decoded JSON value (the result of
// json.Unmarshal into any) into an ArtifactValue. Numbers and booleans
// become scalars via their JSON text.
func ArtifactFromJSON(v any) ArtifactValue {
	switch t := v.(type) {
	case nil:
		return ScalarValue("")
	case string:
		return ScalarValue(t)
	case bool:
		if t {
			return ScalarValue("true")
		}
		return ScalarValue("false")
	case float64:
		b, _ := json.Marshal(t)
		return ScalarValue(string(b))
	case json.Number:
		return ScalarValue(t.String())
	case []any:
		items := make([]ArtifactValue, 0, len(t))
		for _, item := range t {
			items = append(items, ArtifactFromJSON(item))
		}
		return ListValue(items...)
	case map[string]any:
		m := make(map[string]ArtifactValue, len(t))
		for k, item := range t {
			m[k] = ArtifactFromJSON(item)
		}
		return MapValue(m)
	default:
		return ScalarValue(fmt.Sprintf("%v", t))
	}
}

// ToJSON converts an ArtifactValue back to a plain JSON-encodable value.
func (a ArtifactValue) ToJSON() any {
	switch a.Kind {
	case ArtifactList:
		out := make([]any, 0, len(a.List))
		for _, item := range a.List {
			out = append(out, item.ToJSON())
		}
		return out
	case ArtifactMap:
		out := make(map[string]any, len(a.Map))
		keys := make([]string, 0, len(a.Map))
		for k := range a.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = a.Map[k].ToJSON()
		}
		return out
	default:
		return a.Scalar
	}
}

// MarshalJSON implements json.Marshaler.
func (a ArtifactValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.ToJSON())
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *ArtifactValue) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = ArtifactFromJSON(v)
	return nil
}
