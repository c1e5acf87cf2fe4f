package diskstore

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/dominusproject/dominus-status/pkg/store"
)

func TestReadAuthority(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		missing  bool
		wantErr  error
		want     store.Authority
	}{
		{
			name:    "missing file",
			missing: true,
			wantErr: store.ErrNotExist,
		},
		{
			name:     "valid record",
			contents: `{"version":1,"state":"primary","hostname":"node-1"}`,
			want:     store.Authority{Role: store.RolePrimary, Hostname: "node-1"},
		},
		{
			name:     "legacy noset spelling",
			contents: `{"version":1,"state":"noset","hostname":"node-1"}`,
			want:     store.Authority{Role: store.RoleNotSet, Hostname: "node-1"},
		},
		{
			name:     "record without version",
			contents: `{"state":"secondary","hostname":"node-1"}`,
			want:     store.Authority{Role: store.RoleSecondary, Hostname: "node-1"},
		},
		{
			name:     "record from a newer version",
			contents: `{"version":2,"state":"primary","hostname":"node-1"}`,
			wantErr:  store.ErrCorrupt,
		},
		{
			name:     "truncated json",
			contents: `{"version":1,"state":"prim`,
			wantErr:  store.ErrCorrupt,
		},
		{
			name:     "not json at all",
			contents: "primary\n",
			wantErr:  store.ErrCorrupt,
		},
		{
			name:     "unknown state",
			contents: `{"version":1,"state":"leader","hostname":"node-1"}`,
			wantErr:  store.ErrCorrupt,
		},
		{
			name:     "case mismatch is not accepted",
			contents: `{"version":1,"state":"Primary","hostname":"node-1"}`,
			wantErr:  store.ErrCorrupt,
		},
		{
			name:     "empty hostname",
			contents: `{"version":1,"state":"primary","hostname":""}`,
			wantErr:  store.ErrCorrupt,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.json")
			if !tc.missing {
				if err := ioutil.WriteFile(path, []byte(tc.contents), 0644); err != nil {
					t.Fatal(err)
				}
			}

			s := New(log.NewNopLogger(), path)

			got, err := s.ReadAuthority(context.Background())
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("want error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("want authority %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestWriteAuthority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(log.NewNopLogger(), path)
	ctx := context.Background()

	if err := s.WriteAuthority(ctx, store.Authority{Role: store.RoleSecondary, Hostname: "node-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.ReadAuthority(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (store.Authority{Role: store.RoleSecondary, Hostname: "node-2"}); got != want {
		t.Errorf("want authority %+v, got %+v", want, got)
	}

	// Overwrite and make sure no temporary files are left behind.
	if err := s.WriteAuthority(ctx, store.Authority{Role: store.RolePrimary, Hostname: "node-2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := ioutil.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("want exactly the state file on disk, got %v", names)
	}
}

func TestWriteAuthorityRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(log.NewNopLogger(), path)
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		a    store.Authority
	}{
		{name: "unknown role", a: store.Authority{Role: "leader", Hostname: "node-1"}},
		{name: "empty role", a: store.Authority{Hostname: "node-1"}},
		{name: "empty hostname", a: store.Authority{Role: store.RolePrimary}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.WriteAuthority(ctx, tc.a); err == nil {
				t.Error("want error, got nil")
			}
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Errorf("want no state file after rejected write, got stat err %v", err)
			}
		})
	}
}
