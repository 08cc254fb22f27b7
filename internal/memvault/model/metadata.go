package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetaKind enumerates the value kinds a metadata entry may hold.
type MetaKind string

const (
	MetaString MetaKind = "string"
	MetaNumber MetaKind = "number"
	MetaBool   MetaKind = "bool"
	MetaTime   MetaKind = "time"
	MetaList   MetaKind = "list"
)

// MetaValue holds exactly one metadata value of a closed set of kinds.
// Arbitrary nesting is not supported; anything richer belongs in Content.
type MetaValue struct {
	Kind MetaKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
	List []string
}

// StringValue creates a string metadata value.
func StringValue(s string) MetaValue { return MetaValue{Kind: MetaString, Str: s} }

// NumberValue creates a numeric metadata value.
func NumberValue(n float64) MetaValue { return MetaValue{Kind: MetaNumber, Num: n} }

// BoolValue creates a boolean metadata value.
func BoolValue(b bool) MetaValue { return MetaValue{Kind: MetaBool, Bool: b} }

// TimeValue creates a timestamp metadata value.
func TimeValue(t time.Time) MetaValue { return MetaValue{Kind: MetaTime, Time: t} }

// ListValue creates a string-list metadata value.
func ListValue(items ...string) MetaValue {
	return MetaValue{Kind: MetaList, List: append([]string(nil), items...)}
}

// MarshalJSON encodes the value in its natural JSON form. Timestamps are
// written as RFC 3339 strings.
func (v MetaValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case MetaString:
		return json.Marshal(v.Str)
	case MetaNumber:
		return json.Marshal(v.Num)
	case MetaBool:
		return json.Marshal(v.Bool)
	case MetaTime:
		return json.Marshal(v.Time.Format(time.RFC3339Nano))
	case MetaList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	default:
		return nil, fmt.Errorf("metadata value has unknown kind %q", v.Kind)
	}
}

// UnmarshalJSON decodes a natural JSON value back into a kind. A string that
// parses as RFC 3339 becomes a timestamp.
func (v *MetaValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch val := raw.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
			*v = TimeValue(t)
			return nil
		}
		*v = StringValue(val)
		return nil
	case float64:
		*v = NumberValue(val)
		return nil
	case bool:
		*v = BoolValue(val)
		return nil
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("metadata lists may only contain strings, got %T", item)
			}
			items = append(items, s)
		}
		*v = MetaValue{Kind: MetaList, List: items}
		return nil
	default:
		return fmt.Errorf("unsupported metadata value type %T", raw)
	}
}

// Equal reports whether two values hold the same kind and content.
func (v MetaValue) Equal(o MetaValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case MetaString:
		return v.Str == o.Str
	case MetaNumber:
		return v.Num == o.Num
	case MetaBool:
		return v.Bool == o.Bool
	case MetaTime:
		return v.Time.Equal(o.Time)
	case MetaList:
		if len(v.List) != len(o.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != o.List[i] {
				return false
			}
		}
		return true
	}
	return false
}

// Metadata is the typed string-keyed map attached to a record.
type Metadata map[string]MetaValue

// Clone returns a deep copy of the metadata map.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if v.Kind == MetaList {
			v.List = append([]string(nil), v.List...)
		}
		out[k] = v
	}
	return out
}
