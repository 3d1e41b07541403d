package taskstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/exp/slices"
)

// Layout names the three sibling directories of a DirStore.
type Layout struct {
	Pending  string // availability area
	InFlight string // tasks handed to a worker
	Results  string // completed results
}

// DirStore implements Store on the filesystem. Each task is one archive file
// named by its task name; results carry ResultPrefix.
//
// All three directories must live on the same filesystem so that Claim is a
// single rename.
type DirStore struct {
	layout Layout
}

// NewDirStore creates the layout directories if needed and returns a store
// over them.
func NewDirStore(layout Layout) (*DirStore, error) {
	for _, dir := range []string{layout.Pending, layout.InFlight, layout.Results} {
		if dir == "" {
			return nil, errors.New("taskstore: layout directory must not be empty")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("taskstore: create %s: %w", dir, err)
		}
	}
	return &DirStore{layout: layout}, nil
}

// Layout returns the directories backing the store.
func (d *DirStore) Layout() Layout {
	return d.layout
}

// Pending lists visible .zip files in the pending directory.
func (d *DirStore) Pending() ([]string, error) {
	return listFiles(d.layout.Pending, IsTaskName)
}

// Claim renames name from the pending directory into the in-flight directory.
func (d *DirStore) Claim(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Rename(filepath.Join(d.layout.Pending, name), filepath.Join(d.layout.InFlight, name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrTaskNotFound
	}
	return err
}

// Read returns the bytes of an in-flight archive.
func (d *DirStore) Read(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.layout.InFlight, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrTaskNotFound
	}
	return data, err
}

// Complete deletes the in-flight archive for name if present.
func (d *DirStore) Complete(name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	err := os.Remove(filepath.Join(d.layout.InFlight, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutResult writes data to the results directory, replacing any earlier result.
func (d *DirStore) PutResult(name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return writeFileAtomic(d.layout.Results, ResultName(name), data)
}

// Result reads the recorded result for name.
func (d *DirStore) Result(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.layout.Results, ResultName(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrTaskNotFound
	}
	return data, err
}

// Results lists result files.
func (d *DirStore) Results() ([]string, error) {
	return listFiles(d.layout.Results, func(name string) bool {
		return len(name) > 0 && name[0] != '.'
	})
}

// Add writes data into the pending directory. The file appears under its
// final name only once fully written.
func (d *DirStore) Add(name string, data []byte) error {
	if err := validateTaskName(name); err != nil {
		return err
	}
	return writeFileAtomic(d.layout.Pending, name, data)
}

// State reports which directory holds name.
func (d *DirStore) State(name string) (State, error) {
	if err := ValidateName(name); err != nil {
		return StateUnknown, err
	}
	checks := []struct {
		path  string
		state State
	}{
		{filepath.Join(d.layout.Pending, name), StatePending},
		{filepath.Join(d.layout.InFlight, name), StateInFlight},
		{filepath.Join(d.layout.Results, ResultName(name)), StateCompleted},
	}
	for _, c := range checks {
		_, err := os.Stat(c.path)
		if err == nil {
			return c.state, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return StateUnknown, err
		}
	}
	return StateUnknown, ErrTaskNotFound
}

// Stats counts files in each directory.
func (d *DirStore) Stats() (Stats, error) {
	pending, err := d.Pending()
	if err != nil {
		return Stats{}, err
	}
	inFlight, err := listFiles(d.layout.InFlight, IsTaskName)
	if err != nil {
		return Stats{}, err
	}
	results, err := d.Results()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Pending: len(pending), InFlight: len(inFlight), Results: len(results)}, nil
}

func listFiles(dir string, keep func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !keep(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// writeFileAtomic writes to a hidden temp file in dir and renames it into place.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
