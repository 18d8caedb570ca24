package session

import (
	"encoding/json"
	"fmt"

	"github.com/zalando/go-keyring"

	"xharvest/pkg/browser"
)

const (
	keyringService = "xharvest"
	keyringPrefix  = "session_"
	keyringIndex   = "session_index"
)

// KeyringStore implements Store using the system keychain
type KeyringStore struct{}

// NewKeyringStore creates a new keyring-based session store
func NewKeyringStore() (*KeyringStore, error) {
	// Test if keyring is available
	testKey := "test_availability"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, testKey)

	return &KeyringStore{}, nil
}

// Save stores a session in the system keychain
func (k *KeyringStore) Save(session *browser.Session) error {
	if err := validate(session); err != nil {
		return err
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := keyringPrefix + session.Username
	if err := keyring.Set(keyringService, key, string(data)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}

	return k.updateIndex(session.Username, true)
}

// Load retrieves a session from the system keychain
func (k *KeyringStore) Load(username string) (*browser.Session, error) {
	if username == "" {
		return nil, ErrSessionNotFound
	}

	data, err := keyring.Get(keyringService, keyringPrefix+username)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to retrieve from keyring: %w", err)
	}

	var session browser.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// List returns stored usernames. go-keyring cannot enumerate keys, so
// an index entry is maintained alongside the sessions.
func (k *KeyringStore) List() ([]string, error) {
	usernames, err := k.readIndex()
	if err != nil {
		return nil, err
	}
	return usernames, nil
}

// Delete removes a session from the system keychain
func (k *KeyringStore) Delete(username string) error {
	if username == "" {
		return ErrSessionNotFound
	}

	if err := keyring.Delete(keyringService, keyringPrefix+username); err != nil {
		if err == keyring.ErrNotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}

	return k.updateIndex(username, false)
}

func (k *KeyringStore) readIndex() ([]string, error) {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var usernames []string
	if err := json.Unmarshal([]byte(data), &usernames); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keyring index: %w", err)
	}
	return usernames, nil
}

func (k *KeyringStore) updateIndex(username string, present bool) error {
	usernames, err := k.readIndex()
	if err != nil {
		return err
	}

	updated := make([]string, 0, len(usernames)+1)
	for _, u := range usernames {
		if u != username {
			updated = append(updated, u)
		}
	}
	if present {
		updated = append(updated, username)
	}

	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to update keyring index: %w", err)
	}
	return nil
}
