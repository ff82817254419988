package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/ordersync/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned when a stored credential is encrypted but
// no ORDERSYNC_SECRET_KEY has been configured to read it.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set ORDERSYNC_SECRET_KEY")

// TokenStore defines the driven port for session credential persistence.
// Records are append-only; the adapter handles encryption at rest.
type TokenStore interface {
	// Save appends a new credential record and returns it.
	Save(ctx context.Context, credential string) (model.Credential, error)

	// Latest returns the most recently created record, or nil if none exists.
	Latest(ctx context.Context) (*model.Credential, error)

	// Prune deletes all but the newest keep records and returns how many were removed.
	Prune(ctx context.Context, keep int) (int, error)
}
