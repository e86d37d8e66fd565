package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var namespaceRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Stores each namespace as one human-readable JSON document (`<dir>/<ns>.json`)
// mapping keys to values, sorted by key. Every write replaces the whole file
// via a temporary file and rename, so a crash mid-write leaves the previous
// version intact.
//
// Namespaces are loaded lazily and kept in memory; the store assumes it is the
// only writer of its directory.
type FileStore struct {
	Dir string

	lk     sync.Mutex
	loaded map[string]map[string][]byte
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileStore{
		Dir:    dir,
		loaded: make(map[string]map[string][]byte),
	}, nil
}

func (s *FileStore) path(ns string) string {
	return filepath.Join(s.Dir, ns+".json")
}

// must be called with lock held
func (s *FileStore) namespace(ns string) (map[string][]byte, error) {
	if !namespaceRegex.MatchString(ns) {
		return nil, fmt.Errorf("invalid namespace name: %q", ns)
	}
	if m, ok := s.loaded[ns]; ok {
		return m, nil
	}
	raw, err := os.ReadFile(s.path(ns))
	if errors.Is(err, fs.ErrNotExist) {
		m := make(map[string][]byte)
		s.loaded[ns] = m
		return m, nil
	} else if err != nil {
		return nil, err
	}
	m, err := decodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path(ns), err)
	}
	s.loaded[ns] = m
	return m, nil
}

func decodeDocument(raw []byte) (map[string][]byte, error) {
	var doc map[string]json.RawMessage
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}
	m := make(map[string][]byte, len(doc))
	for k, v := range doc {
		// values are handed out in compact form, whatever the file indentation
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, err
		}
		m[k] = buf.Bytes()
	}
	return m, nil
}

func encodeDocument(m map[string][]byte) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		doc[k] = json.RawMessage(v)
	}
	// encoding/json sorts map keys, which keeps the output stable
	compact, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// must be called with lock held
func (s *FileStore) commit(ns string, m map[string][]byte) error {
	raw, err := encodeDocument(m)
	if err != nil {
		return fmt.Errorf("encoding namespace %s: %w", ns, err)
	}
	if err := writeFileAtomic(s.path(ns), raw); err != nil {
		return err
	}
	s.loaded[ns] = m
	return nil
}

func writeFileAtomic(p string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, p); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", p, err)
	}
	return nil
}

func cloneMap(m map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *FileStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	m, err := s.namespace(ns)
	if err != nil {
		return nil, err
	}
	v, ok := m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(v), nil
}

func (s *FileStore) Put(ctx context.Context, ns, key string, val []byte) error {
	if !json.Valid(val) {
		return fmt.Errorf("value for %s/%s is not valid JSON", ns, key)
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	m, err := s.namespace(ns)
	if err != nil {
		return err
	}
	next := cloneMap(m)
	var buf bytes.Buffer
	if err := json.Compact(&buf, val); err != nil {
		return err
	}
	next[key] = buf.Bytes()
	return s.commit(ns, next)
}

func (s *FileStore) Delete(ctx context.Context, ns, key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	m, err := s.namespace(ns)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	next := cloneMap(m)
	delete(next, key)
	return s.commit(ns, next)
}

func (s *FileStore) List(ctx context.Context, ns string) (map[string][]byte, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	m, err := s.namespace(ns)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = copyBytes(v)
	}
	return out, nil
}

func (s *FileStore) Replace(ctx context.Context, ns string, entries map[string][]byte) error {
	next := make(map[string][]byte, len(entries))
	for k, v := range entries {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return fmt.Errorf("value for %s/%s is not valid JSON: %w", ns, k, err)
		}
		next[k] = buf.Bytes()
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	if !namespaceRegex.MatchString(ns) {
		return fmt.Errorf("invalid namespace name: %q", ns)
	}
	return s.commit(ns, next)
}
