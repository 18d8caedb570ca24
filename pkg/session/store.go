// Package session persists harvested session cookie sets beyond the
// JSON result file, so other tooling can pick them up without
// re-running the browser.
package session

import (
	"errors"

	"xharvest/pkg/browser"
)

var (
	// ErrSessionNotFound is returned when no session exists for a username
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned for sessions missing required fields
	ErrInvalidSession = errors.New("invalid session: username and ct0 are required")
)

// Store is the interface for persisting harvested sessions
type Store interface {
	// Save stores the session for its username, replacing any prior one
	Save(session *browser.Session) error

	// Load retrieves the session for a username
	Load(username string) (*browser.Session, error)

	// List returns the usernames with stored sessions
	List() ([]string, error)

	// Delete removes the session for a username
	Delete(username string) error
}

func validate(session *browser.Session) error {
	if session == nil || session.Username == "" || session.CT0 == "" {
		return ErrInvalidSession
	}
	return nil
}
