package config

import "errors"

// secretService groups every semnotes credential in the platform secret store.
const secretService = "semnotes"

var errSecretNotFound = errors.New("secret not found")

// secretStore keeps credentials out of the plain config backend. Setting an
// empty value removes the secret.
type secretStore interface {
	Get(account string) (string, error)
	Set(account, value string) error
	// Location names where the secret for account lives.
	Location(account string) string
}
