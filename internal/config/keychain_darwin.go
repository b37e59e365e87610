//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// exit status of security(1) when no matching item exists
const securityItemNotFound = 44

// keychainStore keeps secrets as generic passwords in the login keychain.
type keychainStore struct {
	service string
}

func newSecretStore() secretStore {
	return keychainStore{service: secretService}
}

func (k keychainStore) Get(account string) (string, error) {
	out, err := k.security("find-generic-password", "-s", k.service, "-a", account, "-w")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (k keychainStore) Set(account, value string) error {
	if value == "" {
		_, err := k.security("delete-generic-password", "-s", k.service, "-a", account)
		if errors.Is(err, errSecretNotFound) {
			return nil
		}
		return err
	}
	_, err := k.security("add-generic-password", "-U", "-s", k.service, "-a", account, "-w", value)
	return err
}

func (k keychainStore) Location(account string) string {
	return "macOS Keychain (service: " + k.service + ", account: " + account + ")"
}

func (k keychainStore) security(args ...string) ([]byte, error) {
	out, err := exec.Command("security", args...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == securityItemNotFound {
		return nil, errSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("security %s: %w", args[0], err)
	}
	return out, nil
}
