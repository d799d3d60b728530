package repository

import "context"

// CursorStore persists the provider's pull cursor for one account.
type CursorStore interface {
	// Load returns the saved cursor, or "" when none has been saved.
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, cursor string) error
}
