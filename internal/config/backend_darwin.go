//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.semnotes.app"

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Library", "Application Support", "semnotes")
	}
	return "semnotes-data"
}

// defaultsBackend stores config in UserDefaults through defaults(1).
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() (ConfigBackend, error) {
	return defaultsBackend{domain: defaultsDomain}, nil
}

// run invokes defaults with verb on the backend's domain. A missing key
// reports ok=false with no error.
func (b defaultsBackend) run(verb string, args ...string) (out string, ok bool, err error) {
	cmd := exec.Command("defaults", append([]string{verb, b.domain}, args...)...)
	raw, err := cmd.CombinedOutput()
	out = strings.TrimSpace(string(raw))
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && verb != "write" {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("defaults %s %v: %w: %s", verb, args, err, out)
	}
	return out, true, nil
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	return b.run("read", key)
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.run("read", key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return i, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, _, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, _, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b defaultsBackend) Delete(key string) error {
	_, _, err := b.run("delete", key)
	return err
}
