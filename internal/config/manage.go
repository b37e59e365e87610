package config

import (
	"fmt"
	"time"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are listed as set or unset, never by value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		v := s.extract(cfg)
		value := fmt.Sprintf("%v", v)
		if s.secret {
			value = "(unset)"
			if v != "" {
				value = "(set)"
			}
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  value,
		})
	}
	return result
}

// SetKey writes a config key to the platform backend. Secrets go to the
// platform secret store instead. An empty value clears the key, restoring
// its default.
func SetKey(key, value string) error {
	b, err := newPlatformBackend()
	if err != nil {
		return err
	}
	return setKeyWith(b, newSecretStore(), key, value)
}

func setKeyWith(b ConfigBackend, secrets secretStore, key, value string) error {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			if err := secrets.Set(s.account, value); err != nil {
				return fmt.Errorf("storing secret %s: %w", key, err)
			}
			return nil
		}
		if value == "" {
			return b.Delete(key)
		}
		v, err := s.parse(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
		switch s.typ {
		case kInt:
			return b.SetInt(key, v.(int))
		case kDuration:
			return b.SetString(key, v.(time.Duration).String())
		default:
			return b.SetString(key, value)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}

// ValidKeys returns the list of valid config key names.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		keys = append(keys, s.key)
	}
	return keys
}
