package repo

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return conn
}

func TestBaseDBBindsContext(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	ctx := context.WithValue(context.Background(), struct{}{}, "value")
	withCtx := base.DB(ctx)
	if withCtx.Statement == nil || withCtx.Statement.Context != ctx {
		t.Fatalf("expected context to flow through")
	}
	if base.DB(nil) != db {
		t.Fatalf("expected nil context to return raw connection")
	}
}

func TestBaseBindSwapsConnection(t *testing.T) {
	db := newTestDB(t)
	other := newTestDB(t)
	base := NewBase(db)

	if base.Bind(nil).db != db {
		t.Fatal("expected nil tx to keep the connection")
	}
	if base.Bind(other).db != other {
		t.Fatal("expected bound connection to be the transaction")
	}
}

func TestBaseForUpdateAddsLockingClause(t *testing.T) {
	db := newTestDB(t)
	base := NewBase(db)

	stmt := base.ForUpdate(context.Background()).Statement
	if _, ok := stmt.Clauses["FOR"]; !ok {
		t.Fatalf("expected a locking clause, got %v", stmt.Clauses)
	}
}
