package setstore

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
)

type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
	List(ctx context.Context, name string) ([]string, error)
}

// Named sets of strings, loaded from files at startup.
type MemSetStore struct {
	Sets map[string]map[string]bool

	lk sync.RWMutex
}

var _ SetStore = (*MemSetStore)(nil)

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		Sets: make(map[string]map[string]bool),
	}
}

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	set, ok := s.Sets[name]
	if !ok {
		// NOTE: currently returns false when entire set isn't found
		return false, nil
	}
	_, ok = set[val]
	return ok, nil
}

// Returns set members in sorted order; an unknown set is empty.
func (s *MemSetStore) List(ctx context.Context, name string) ([]string, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	out := make([]string, 0, len(s.Sets[name]))
	for val := range s.Sets[name] {
		out = append(out, val)
	}
	slices.Sort(out)
	return out, nil
}

// Replaces (or creates) a set.
func (s *MemSetStore) Put(name string, vals []string) {
	m := make(map[string]bool, len(vals))
	for _, val := range vals {
		m[val] = true
	}
	s.lk.Lock()
	s.Sets[name] = m
	s.lk.Unlock()
}

// Loads a JSON object mapping set names to lists of values.
func (s *MemSetStore) LoadFromFileJSON(p string) error {

	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var rules map[string][]string
	if err := json.Unmarshal(raw, &rules); err != nil {
		return err
	}

	for name, l := range rules {
		s.Put(name, l)
	}
	return nil
}

// Loads a plain text file into the named set: one value per line, lower-cased.
// Blank lines and lines starting with '#' are skipped.
func (s *MemSetStore) LoadFromFileText(name, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	vals, err := readLines(f)
	if err != nil {
		return err
	}
	s.Put(name, vals)
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.ToLower(strings.TrimSpace(sc.Text()))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
