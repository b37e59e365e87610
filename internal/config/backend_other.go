//go:build !darwin

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// xdgDir returns $env, or rel joined under the home directory when env is
// unset.
func xdgDir(env string, rel ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, rel...)...)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "semnotes")
}

// writeJSONFile replaces path with the indented JSON of v, readable only by
// the owner. Readers never observe a partial file.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// fileBackend stores config as a flat JSON object under $XDG_CONFIG_HOME.
type fileBackend struct {
	path string
	data map[string]any
}

func newPlatformBackend() (ConfigBackend, error) {
	return openFileBackend(filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "semnotes", "config.json"))
}

// openFileBackend loads p. A missing file is an empty config; a malformed
// one is an error.
func openFileBackend(p string) (*fileBackend, error) {
	b := &fileBackend{path: p, data: map[string]any{}}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&b.data); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", p, err)
	}
	return b, nil
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	default:
		return fmt.Sprint(v), true, nil
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	switch v := b.data[key].(type) {
	case nil:
		return 0, false, nil
	case int:
		return v, true, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil || i < math.MinInt || i > math.MaxInt {
			return 0, true, fmt.Errorf("%s: %s is not an integer in range", key, v)
		}
		return int(i), true, nil
	case string:
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, true, fmt.Errorf("%s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: unexpected %T", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error { return b.put(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.put(key, val) }

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.data[key]; !ok {
		return nil
	}
	delete(b.data, key)
	return writeJSONFile(b.path, b.data)
}

func (b *fileBackend) put(key string, val any) error {
	b.data[key] = val
	return writeJSONFile(b.path, b.data)
}
