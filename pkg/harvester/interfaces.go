package harvester

import (
	"context"

	"xharvest/pkg/browser"
	"xharvest/pkg/credentials"
)

// Engine defines the interface for browser-based session extraction
type Engine interface {
	ExtractSession(ctx context.Context, cred credentials.Credential) (*browser.Session, error)
}
