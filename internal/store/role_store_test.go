package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"
)

func TestRoleStoreHasRole(t *testing.T) {
	store := NewRoleStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FROM user_roles") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != "user-1" || args[1] != "admin" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*int) = 1
			return nil
		},
	})
	ok, err := store.HasRole(context.Background(), "user-1", "admin")
	if err != nil || !ok {
		t.Fatalf("expected true/nil, got %v/%v", ok, err)
	}
}

func TestRoleStoreGrantIgnoresDuplicates(t *testing.T) {
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "ON CONFLICT DO NOTHING") {
				t.Fatalf("grant must be idempotent: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	}
	if err := NewRoleStore(stubDB{}).Grant(context.Background(), execer, "user-1", "freelancer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRoleStoreUserExists(t *testing.T) {
	store := NewRoleStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			*dest.(*bool) = true
			return nil
		},
	})
	ok, err := store.UserExists(context.Background(), "user-1")
	if err != nil || !ok {
		t.Fatalf("expected true/nil, got %v/%v", ok, err)
	}
}
