package memstore

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/dominusproject/dominus-status/pkg/store"
)

func TestReadWriteAuthority(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.ReadAuthority(ctx); !errors.Is(err, store.ErrNotExist) {
		t.Fatalf("want %v for empty store, got %v", store.ErrNotExist, err)
	}

	want := store.Authority{Role: store.RolePrimary, Hostname: "node-1"}
	if err := s.WriteAuthority(ctx, want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.ReadAuthority(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("want authority %+v, got %+v", want, got)
	}

	// The store hands out copies; mutating the read value must not
	// touch the stored record.
	got.Role = store.RoleSecondary

	again, err := s.ReadAuthority(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != want {
		t.Errorf("want authority %+v after mutating a copy, got %+v", want, again)
	}
}

func TestWriteAuthorityRejectsInvalid(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.WriteAuthority(ctx, store.Authority{Role: "leader", Hostname: "node-1"}); !errors.Is(err, store.ErrInvalidRole) {
		t.Fatalf("want %v, got %v", store.ErrInvalidRole, err)
	}

	if _, err := s.ReadAuthority(ctx); !errors.Is(err, store.ErrNotExist) {
		t.Errorf("want store to stay empty after rejected write, got %v", err)
	}
}
