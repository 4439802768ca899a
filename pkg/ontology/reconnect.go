package ontology

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// errNoRows is the sentinel this package's callers compare against; it decouples
// the query helpers from pgx's own error type so the interface above stays narrow.
var errNoRows = errors.New("ontology: no matching action")

// withReconnect runs fn and, per spec, attempts at most one reconnect (via the
// pool's own Ping, which forces pgxpool to replace a dead connection on its
// next acquisition) before giving fn a single retry. pgx.ErrNoRows is not a
// connection failure and is normalized straight to the package sentinel
// without touching the pool.
func withReconnect(ctx context.Context, pool reconnectablePool, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, errNoRows) {
		return errNoRows
	}
	if pingErr := pool.Ping(ctx); pingErr != nil {
		return err
	}
	err = fn()
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, errNoRows) {
		return errNoRows
	}
	return err
}
