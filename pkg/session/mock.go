package session

import (
	"sort"
	"sync"

	"xharvest/pkg/browser"
)

// MockStore is an in-memory session store for testing
type MockStore struct {
	mu       sync.RWMutex
	sessions map[string]browser.Session

	// SaveErr forces Save to fail when set
	SaveErr error
}

// NewMockStore creates a new in-memory session store
func NewMockStore() *MockStore {
	return &MockStore{
		sessions: make(map[string]browser.Session),
	}
}

// Save stores a session in memory
func (m *MockStore) Save(session *browser.Session) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if err := validate(session); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.Username] = *session
	return nil
}

// Load retrieves a session from memory
func (m *MockStore) Load(username string) (*browser.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[username]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// List returns stored usernames, sorted
func (m *MockStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usernames := make([]string, 0, len(m.sessions))
	for username := range m.sessions {
		usernames = append(usernames, username)
	}
	sort.Strings(usernames)
	return usernames, nil
}

// Delete removes a session from memory
func (m *MockStore) Delete(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[username]; !exists {
		return ErrSessionNotFound
	}
	delete(m.sessions, username)
	return nil
}
