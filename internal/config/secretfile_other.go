//go:build !darwin

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// secretFile keeps secrets in an owner-only JSON file, keyed by service and
// then account.
type secretFile struct {
	path    string
	service string
}

func newSecretStore() secretStore {
	return secretFile{
		path:    filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "semnotes", "secrets.json"),
		service: secretService,
	}
}

func (f secretFile) load() (map[string]map[string]string, error) {
	secrets := map[string]map[string]string{}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return secrets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f.path, err)
	}
	return secrets, nil
}

func (f secretFile) Get(account string) (string, error) {
	secrets, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := secrets[f.service][account]
	if !ok {
		return "", errSecretNotFound
	}
	return v, nil
}

// Set refuses to overwrite a secrets file it cannot parse.
func (f secretFile) Set(account, value string) error {
	secrets, err := f.load()
	if err != nil {
		return err
	}
	accounts := secrets[f.service]
	if accounts == nil {
		accounts = map[string]string{}
		secrets[f.service] = accounts
	}
	if value == "" {
		delete(accounts, account)
		if len(accounts) == 0 {
			delete(secrets, f.service)
		}
	} else {
		accounts[account] = value
	}
	return writeJSONFile(f.path, secrets)
}

func (f secretFile) Location(account string) string {
	return f.path + " (service: " + f.service + ", account: " + account + ")"
}
