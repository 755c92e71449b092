package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	tempPrefix    = ".tmp-"
	dirPerm       = 0o755
	orphanTempAge = 15 * time.Minute
)

// FileStore persists one JSON envelope per record under <root>/<namespace>/.
//
// Writes are published with a rename from a temp file in the same directory,
// so readers see either the previous or the new document. No in-process lock
// is held; concurrent deleters treat a missing file as success.
type FileStore struct {
	root string
	opts options
}

var (
	_ Store  = (*FileStore)(nil)
	_ Pinger = (*FileStore)(nil)
)

// NewFileStore prepares root (creating it when missing) and returns the store.
func NewFileStore(root string, opts ...Option) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("store: file root is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("store: create root: %w", err)
	}
	return &FileStore{root: root, opts: buildOptions("file", opts)}, nil
}

// Root returns the directory holding all namespaces.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration, opts ...PutOption) (Record, error) {
	dir, err := s.dir(namespace)
	if err != nil {
		return Record{}, err
	}
	rec, err := newRecord(s.opts.now(), key, value, ttl, s.opts.embeddedExpiry(namespace), opts)
	if err != nil {
		return Record{}, err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, fmt.Errorf("store: encode %s/%s: %w", namespace, key, err)
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return Record{}, fmt.Errorf("store: create namespace dir: %w", err)
	}
	if err := writeAtomic(dir, filepath.Join(dir, fileName(key)), data); err != nil {
		return Record{}, fmt.Errorf("store: write %s/%s: %w", namespace, key, err)
	}
	return rec, nil
}

func (s *FileStore) Get(ctx context.Context, namespace, key string) (Record, error) {
	path, err := s.path(namespace, key)
	if err != nil {
		return Record{}, err
	}

	data, info, err := readFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: read %s/%s: %w", namespace, key, err)
	}

	rec, err := decodeRecord(data, key, info.ModTime(), s.opts.embeddedExpiry(namespace))
	if err != nil {
		s.opts.log.Debug("unreadable record treated as absent",
			zap.String("namespace", namespace),
			zap.String("key", key),
			zap.Error(err),
		)
		return Record{}, ErrNotFound
	}

	if rec.Expired(s.opts.now()) {
		if _, err := removeObserved(path, info); err != nil {
			s.opts.log.Debug("reclaim expired record", zap.String("path", path), zap.Error(err))
		}
		return Record{}, ErrExpired
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, namespace, key string) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

func (s *FileStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	dir, err := s.dir(namespace)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", namespace, err)
	}

	now := s.opts.now()
	embedded := s.opts.embeddedExpiry(namespace)
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		key, err := keyFromFileName(entry.Name())
		if err != nil {
			continue
		}
		data, info, err := readFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(data, key, info.ModTime(), embedded)
		if err != nil || rec.Expired(now) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Sweep(ctx context.Context, namespace string, staleAfter time.Duration) int {
	ctx = ensureContext(ctx)
	log := s.opts.log.With(zap.String("namespace", namespace))

	dir, err := s.dir(namespace)
	if err != nil {
		log.Warn("sweep skipped", zap.Error(err))
		return 0
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("sweep could not list namespace", zap.Error(err))
		}
		return 0
	}

	now := s.opts.now()
	embedded := s.opts.embeddedExpiry(namespace)
	removed := 0
	var errs error
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		name := entry.Name()
		path := filepath.Join(dir, name)

		switch {
		case entry.IsDir():
			continue
		case strings.HasSuffix(name, recordExt):
			ok, err := sweepRecord(path, name, now, staleAfter, embedded)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			}
			if ok {
				removed++
			}
		case strings.HasPrefix(name, tempPrefix):
			if err := sweepTemp(path, now); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}

	if errs != nil {
		log.Debug("sweep skipped records",
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs),
		)
	}
	return removed
}

// Ping verifies the root directory is still reachable.
func (s *FileStore) Ping(context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("store: root unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store: root %s is not a directory", s.root)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) dir(namespace string) (string, error) {
	if err := validateNamespace(namespace); err != nil {
		return "", err
	}
	return filepath.Join(s.root, namespace), nil
}

func (s *FileStore) path(namespace, key string) (string, error) {
	dir, err := s.dir(namespace)
	if err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName(key)), nil
}

// sweepRecord removes path when its record is expired, or when it cannot be
// parsed and has not been modified for staleAfter.
func sweepRecord(path, name string, now time.Time, staleAfter time.Duration, embedded bool) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var rec Record
	key, parseErr := keyFromFileName(name)
	if parseErr == nil {
		var data []byte
		data, parseErr = os.ReadFile(path)
		if errors.Is(parseErr, fs.ErrNotExist) {
			return false, nil
		}
		if parseErr == nil {
			rec, parseErr = decodeRecord(data, key, info.ModTime(), embedded)
		}
	}

	if parseErr != nil {
		if staleAfter <= 0 || now.Sub(info.ModTime()) <= staleAfter {
			return false, nil
		}
		return removeObserved(path, info)
	}

	if !rec.Expired(now) {
		return false, nil
	}
	return removeObserved(path, info)
}

func sweepTemp(path string, now time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if now.Sub(info.ModTime()) <= orphanTempAge {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// removeObserved deletes path only while it is still the file that was
// inspected; a record republished in the meantime is left alone.
func removeObserved(path string, observed fs.FileInfo) (bool, error) {
	current, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !os.SameFile(current, observed) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func readFile(path string) ([]byte, fs.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

func writeAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
