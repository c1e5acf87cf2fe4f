// Package diskstore persists authority state as a JSON document on
// local disk. Writes go through a temporary file in the same directory
// followed by a rename so that readers never observe a partial record.
package diskstore

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/pkg/errors"

	"github.com/dominusproject/dominus-status/pkg/runutil"
	"github.com/dominusproject/dominus-status/pkg/store"
)

const recordVersion = 1

type record struct {
	Version  int    `json:"version"`
	State    string `json:"state"`
	Hostname string `json:"hostname"`
}

type diskStore struct {
	logger log.Logger
	path   string
}

// New returns a store persisting authority state at path.
func New(logger log.Logger, path string) store.Store {
	return &diskStore{
		logger: log.With(logger, "component", "store/diskstore"),
		path:   path,
	}
}

func (s *diskStore) ReadAuthority(ctx context.Context) (store.Authority, error) {
	data, err := ioutil.ReadFile(s.path)
	if os.IsNotExist(err) {
		return store.Authority{}, store.ErrNotExist
	}
	if err != nil {
		return store.Authority{}, errors.Wrapf(err, "reading authority state from %s", s.path)
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return store.Authority{}, errors.Wrapf(store.ErrCorrupt, "decoding %s: %v", s.path, err)
	}

	// Records written before the version field was introduced carry no
	// version and read as 0.
	if r.Version > recordVersion {
		return store.Authority{}, errors.Wrapf(store.ErrCorrupt, "record in %s: unknown version %d", s.path, r.Version)
	}

	role, err := store.ParseRole(r.State)
	if err != nil {
		return store.Authority{}, errors.Wrapf(store.ErrCorrupt, "state in %s: %v", s.path, err)
	}

	a := store.Authority{Role: role, Hostname: r.Hostname}
	if err := a.Validate(); err != nil {
		return store.Authority{}, errors.Wrapf(store.ErrCorrupt, "record in %s: %v", s.path, err)
	}

	return a, nil
}

func (s *diskStore) WriteAuthority(ctx context.Context, a store.Authority) (err error) {
	if err := a.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(record{
		Version:  recordVersion,
		State:    string(a.Role),
		Hostname: a.Hostname,
	})
	if err != nil {
		return errors.Wrap(err, "encoding authority state")
	}

	// Write to a temporary file in the target directory and rename it
	// over the destination. Rename is atomic within a filesystem, so a
	// concurrent reader sees either the old record or the new one.
	dir := filepath.Dir(s.path)
	tmp, err := ioutil.TempFile(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file in %s", dir)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		runutil.CloseWithLogOnErr(s.logger, tmp, "close temporary state file")
		return errors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		runutil.CloseWithLogOnErr(s.logger, tmp, "close temporary state file")
		return errors.Wrapf(err, "syncing %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", tmp.Name())
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.Wrapf(err, "replacing %s", s.path)
	}

	return nil
}
