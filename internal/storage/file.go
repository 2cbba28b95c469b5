package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// recordSeparator joins username and password in a decrypted line.
const recordSeparator = ", "

// stripper removes the whitespace tolerated around the record separator.
var stripper = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "")

// File is a [Store] backed by a line-oriented file where every line is an
// independently encrypted "username, password" record.
type File struct {
	path   string
	sealer *sealer
	logger *slog.Logger

	// mu serializes file access as well as guarding table, so a reload never
	// observes a rewrite in progress.
	mu    sync.RWMutex
	table map[string]string
}

// NewFile loads (or creates) the key at keyPath and then the credential
// table at path. A missing credential file yields an empty store.
func NewFile(ctx context.Context, path, keyPath string, logger *slog.Logger) (*File, error) {
	key, err := LoadKey(keyPath)
	if err != nil {
		return nil, err
	}
	sealer, err := newSealer(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyIO, err)
	}
	store := &File{
		path:   path,
		sealer: sealer,
		logger: logger,
		table:  map[string]string{},
	}
	if err = store.Reload(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Reload satisfies the [Credentials] interface.
func (f *File) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	table, err := f.load()
	if err != nil {
		return err
	}
	f.table = table
	return nil
}

// Lookup satisfies the [Credentials] interface.
func (f *File) Lookup(username string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	password, ok := f.table[username]
	return password, ok
}

// Usernames satisfies the [Store] interface.
func (f *File) Usernames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.table))
}

// Add satisfies the [Store] interface.
func (f *File) Add(ctx context.Context, username, password string) (bool, error) {
	if !validCredential(username) || !validCredential(password) {
		return false, ErrInvalidCredential
	}
	return f.mutate(ctx, func(table map[string]string) bool {
		if _, ok := table[username]; ok {
			f.logger.WarnContext(ctx, "login already exists, not added", slog.String("username", username))
			return false
		}
		table[username] = password
		return true
	})
}

// Remove satisfies the [Store] interface.
func (f *File) Remove(ctx context.Context, username string) (bool, error) {
	return f.mutate(ctx, func(table map[string]string) bool {
		if _, ok := table[username]; !ok {
			f.logger.WarnContext(ctx, "login not found, nothing removed", slog.String("username", username))
			return false
		}
		delete(table, username)
		return true
	})
}

// Replace satisfies the [Store] interface.
func (f *File) Replace(ctx context.Context, username, password string) (bool, error) {
	if !validCredential(password) {
		return false, ErrInvalidCredential
	}
	return f.mutate(ctx, func(table map[string]string) bool {
		if _, ok := table[username]; !ok {
			f.logger.WarnContext(ctx, "login not found, password unchanged", slog.String("username", username))
			return false
		}
		table[username] = password
		return true
	})
}

// mutate reloads the table, applies op and rewrites the file if op reports a
// change. The table is reloaded first so edits made by another process are
// not overwritten.
func (f *File) mutate(ctx context.Context, op func(table map[string]string) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	table, err := f.load()
	if err != nil {
		return false, err
	}
	f.table = table
	if !op(table) {
		return false, nil
	}
	if err = f.persist(table); err != nil {
		return false, fmt.Errorf("%w (in-memory credentials may differ from %s until reloaded)", err, f.path)
	}
	return true, nil
}

// load decrypts the credential file. Any undecryptable or malformed line
// fails the whole load.
func (f *File) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileIO, f.path, err)
	}

	table := map[string]string{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		plaintext, err := f.sealer.open(line)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.path, i+1, err)
		}
		username, password, err := parseRecord(plaintext)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.path, i+1, err)
		}
		table[username] = password
	}
	return table, nil
}

// persist removes the credential file and writes every record anew. This is
// not crash-atomic: a crash between remove and write loses the file.
func (f *File) persist(table map[string]string) error {
	var buf bytes.Buffer
	for _, username := range slices.Sorted(maps.Keys(table)) {
		token, err := f.sealer.seal([]byte(username + recordSeparator + table[username]))
		if err != nil {
			return fmt.Errorf("%w: encrypting record: %w", ErrFileIO, err)
		}
		buf.WriteString(token)
		buf.WriteByte('\n')
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil { //nolint:mnd // owner only
		return fmt.Errorf("%w: %w", ErrFileIO, err)
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %w", ErrFileIO, f.path, err)
	}
	if err := os.WriteFile(f.path, buf.Bytes(), 0o600); err != nil { //nolint:mnd // owner rw access
		return fmt.Errorf("%w: writing %s: %w", ErrFileIO, f.path, err)
	}
	return nil
}

func parseRecord(plaintext []byte) (username, password string, err error) {
	fields := strings.Split(stripper.Replace(string(plaintext)), ",")
	if len(fields) != 2 { //nolint:mnd // username and password
		return "", "", ErrMalformedRecord
	}
	return fields[0], fields[1], nil
}

func validCredential(s string) bool {
	return s != "" && !strings.ContainsAny(s, ", \t\r\n")
}

var _ Store = (*File)(nil)
