package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMetaValueJSONRoundTrip(t *testing.T) {
	indexed := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   MetaValue
	}{
		{"string", StringValue("go")},
		{"number", NumberValue(42.5)},
		{"bool", BoolValue(true)},
		{"time", TimeValue(indexed)},
		{"list", ListValue("a", "b")},
		{"empty list", ListValue()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var out MetaValue
			if err := json.Unmarshal(raw, &out); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", raw, err)
			}
			if !out.Equal(tt.in) {
				t.Errorf("round trip = %+v, want %+v", out, tt.in)
			}
		})
	}
}

func TestMetaValueUnmarshalRejectsNestedValues(t *testing.T) {
	var v MetaValue
	if err := json.Unmarshal([]byte(`{"nested":1}`), &v); err == nil {
		t.Error("Unmarshal(object) = nil error, want rejection")
	}
	if err := json.Unmarshal([]byte(`[1,2]`), &v); err == nil {
		t.Error("Unmarshal(number list) = nil error, want rejection")
	}
}

func TestMetaValueStringVsTime(t *testing.T) {
	var v MetaValue
	if err := json.Unmarshal([]byte(`"2026-08-01T09:30:00Z"`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v.Kind != MetaTime {
		t.Errorf("RFC 3339 string decoded as %v, want time", v.Kind)
	}
	if err := json.Unmarshal([]byte(`"plain text"`), &v); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if v.Kind != MetaString {
		t.Errorf("plain string decoded as %v, want string", v.Kind)
	}
}

func TestMetadataClone(t *testing.T) {
	m := Metadata{"tags": ListValue("x")}
	c := m.Clone()
	c["tags"].List[0] = "changed"
	if m["tags"].List[0] != "x" {
		t.Error("Clone() shares list storage with the original")
	}
	if Metadata(nil).Clone() != nil {
		t.Error("Clone() of nil = non-nil")
	}
}
