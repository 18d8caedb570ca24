package session

import (
	"os"
	"path/filepath"
)

// DefaultStorePath returns the default location of the encrypted
// session store file
func DefaultStorePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "xharvest", "sessions.enc")
	}
	return filepath.Join(os.Getenv("HOME"), ".xharvest", "sessions.enc")
}

// Open returns the first usable store: the system keychain when
// preferred and available, otherwise an encrypted file at path (the
// default path when empty). The encrypted store needs a passphrase in
// XHARVEST_STORE_KEY; without one an ErrNoPassphrase is returned.
func Open(path string, preferKeyring bool) (Store, error) {
	if preferKeyring {
		if store, err := NewKeyringStore(); err == nil {
			return store, nil
		}
	}
	if path == "" {
		path = DefaultStorePath()
	}
	return NewEncryptedFileStore(path)
}
