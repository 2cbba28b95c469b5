package storage

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadKey returns the encryption key stored at path. If the file does not
// exist, a new key is generated and its textual form written to path. An
// existing key file is never rewritten.
func LoadKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	switch {
	case err == nil:
		return parseKey(data)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: reading %s: %w", ErrKeyIO, path, err)
	}

	token, err := GenerateToken(KeySize)
	if err != nil {
		return nil, fmt.Errorf("%w: generating key: %w", ErrKeyIO, err)
	}
	if err = writeKey(path, token); err != nil {
		return nil, err
	}
	return parseKey([]byte(token))
}

// parseKey decodes the first line of a key file.
func parseKey(data []byte) ([]byte, error) {
	line, _, _ := bytes.Cut(data, []byte{'\n'})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	key, err := tokenEncoding.DecodeString(string(line))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding key: %w", ErrKeyIO, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrKeyIO, len(key), KeySize)
	}
	return key, nil
}

func writeKey(path, token string) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o700); err != nil { //nolint:mnd // owner only
			return fmt.Errorf("%w: creating %s: %w", ErrKeyIO, dir, err)
		}
	}
	// O_EXCL so two processes racing on first start cannot both write a key.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) //nolint:gosec,mnd // owner rw access
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrKeyIO, path, err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("%w: closing %s: %w", ErrKeyIO, path, closeErr)
		}
	}()
	w := bufio.NewWriter(file)
	if _, err = w.WriteString(token); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrKeyIO, path, err)
	}
	if err = w.Flush(); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrKeyIO, path, err)
	}
	return nil
}
