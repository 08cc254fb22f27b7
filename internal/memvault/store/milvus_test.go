package store

import (
	"strings"
	"testing"
	"time"
)

func TestBuildExprSoftDeleteDefault(t *testing.T) {
	expr := buildExpr(Query{Category: "notes"})
	if !strings.Contains(expr, "deleted_at == 0") {
		t.Errorf("expr %q does not exclude tombstones", expr)
	}
	if !strings.Contains(expr, `category == "notes"`) {
		t.Errorf("expr %q missing category clause", expr)
	}
}

func TestBuildExprDeletedOnly(t *testing.T) {
	expr := buildExpr(Query{DeletedOnly: true, RollbackToken: "01J0TOKEN"})
	if !strings.Contains(expr, "deleted_at > 0") {
		t.Errorf("expr %q missing tombstone clause", expr)
	}
	if !strings.Contains(expr, `rollback_id == "01J0TOKEN"`) {
		t.Errorf("expr %q missing rollback clause", expr)
	}
}

func TestBuildExprIncludeDeleted(t *testing.T) {
	expr := buildExpr(Query{IncludeDeleted: true, Project: "p1"})
	if strings.Contains(expr, "deleted_at == 0") {
		t.Errorf("expr %q must not exclude tombstones", expr)
	}
}

func TestBuildExprTagAndCutoffClauses(t *testing.T) {
	cutoff := time.UnixMilli(1700000000000)
	expr := buildExpr(Query{
		Tags:          []string{"go"},
		MinImportance: 0.5,
		CreatedBefore: cutoff,
	})
	if !strings.Contains(expr, `tags like "%\"go\"%"`) {
		t.Errorf("expr %q missing tag clause", expr)
	}
	if !strings.Contains(expr, "importance >= 0.5") {
		t.Errorf("expr %q missing importance clause", expr)
	}
	if !strings.Contains(expr, "created_at < 1700000000000") {
		t.Errorf("expr %q missing creation cutoff clause", expr)
	}
}

func TestBuildExprEmptyQueryMatchesAll(t *testing.T) {
	expr := buildExpr(Query{IncludeDeleted: true})
	if expr != "deleted_at >= 0" {
		t.Errorf("buildExpr(include all) = %q, want the match-all expression", expr)
	}
}

func TestEscapeExpr(t *testing.T) {
	if got := escapeExpr(`a"b\c`); got != `a\"b\\c` {
		t.Errorf("escapeExpr() = %q, want %q", got, `a\"b\\c`)
	}
}
