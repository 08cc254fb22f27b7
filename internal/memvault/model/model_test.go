package model

import (
	"testing"
	"time"
)

func TestStateForAge(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want LifecycleState
	}{
		{0, StateActive},
		{6 * 24 * time.Hour, StateActive},
		{7 * 24 * time.Hour, StateRecent},
		{29 * 24 * time.Hour, StateRecent},
		{30 * 24 * time.Hour, StateArchived},
		{179 * 24 * time.Hour, StateArchived},
		{180 * 24 * time.Hour, StateStale},
		{365 * 24 * time.Hour, StateStale},
	}
	for _, tt := range tests {
		if got := StateForAge(tt.age); got != tt.want {
			t.Errorf("StateForAge(%v) = %v, want %v", tt.age, got, tt.want)
		}
	}
}

func TestLifecycleWeight(t *testing.T) {
	tests := []struct {
		state LifecycleState
		want  float64
	}{
		{StateActive, 1.0},
		{StateRecent, 0.7},
		{StateArchived, 0.3},
		{StateStale, 0.1},
		{LifecycleState("unknown"), 1.0},
	}
	for _, tt := range tests {
		if got := tt.state.Weight(); got != tt.want {
			t.Errorf("%s.Weight() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestRecordClone(t *testing.T) {
	now := time.Now()
	r := &Record{
		ID:        "r1",
		Content:   "hello",
		Tags:      []string{"a", "b"},
		Embedding: []float32{0.1, 0.2},
		Deletion: &DeletionMetadata{
			RollbackToken: "tok",
			DeletedAt:     now,
		},
	}
	c := r.Clone()

	c.Tags[0] = "x"
	c.Embedding[0] = 9
	c.Deletion.RollbackToken = "other"

	if r.Tags[0] != "a" {
		t.Error("Clone() shares Tags backing array")
	}
	if r.Embedding[0] != 0.1 {
		t.Error("Clone() shares Embedding backing array")
	}
	if r.Deletion.RollbackToken != "tok" {
		t.Error("Clone() shares Deletion pointer")
	}
}

func TestRecordDeleted(t *testing.T) {
	r := &Record{}
	if r.Deleted() {
		t.Error("fresh record reported deleted")
	}
	r.Deletion = &DeletionMetadata{DeletedAt: time.Now()}
	if !r.Deleted() {
		t.Error("record with deletion metadata not reported deleted")
	}
}

func TestBulkFilterEmpty(t *testing.T) {
	if !(BulkFilter{}).Empty() {
		t.Error("zero filter should be empty")
	}
	if (BulkFilter{Category: "notes"}).Empty() {
		t.Error("category filter should not be empty")
	}
	if (BulkFilter{OlderThan: time.Now()}).Empty() {
		t.Error("older-than filter should not be empty")
	}
}
