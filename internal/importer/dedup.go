package importer

import (
	"context"
	"errors"
)

// DedupGate answers whether a document was imported before. The unique
// constraint enforced by the Store is authoritative; the pre-check only saves
// the resolution and attachment work for documents that would be rejected.
type DedupGate struct {
	store Store
}

func NewDedupGate(store Store) *DedupGate {
	return &DedupGate{store: store}
}

func (g *DedupGate) AlreadyImported(ctx context.Context, t DocType, docNumber string) (bool, error) {
	return g.store.DocumentExists(ctx, t, docNumber)
}

// IsConflict reports whether a write failed on the idempotency key.
func (g *DedupGate) IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
