package importer

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aiengrshafiq/QuickBooksImporter/internal/errs"
	"github.com/aiengrshafiq/QuickBooksImporter/internal/retry"
)

// Resolver maps remote supplier and item references to local ids, creating
// rows on first sight. Lookups are cached for the lifetime of the resolver.
type Resolver struct {
	remote RemoteReader
	store  Store
	retry  retry.Policy
	log    *logrus.Entry

	mu        sync.Mutex
	suppliers map[string]int64
	items     map[string]int64
}

func NewResolver(remote RemoteReader, store Store, policy retry.Policy, log *logrus.Entry) *Resolver {
	return &Resolver{
		remote:    remote,
		store:     store,
		retry:     policy,
		log:       log,
		suppliers: make(map[string]int64),
		items:     make(map[string]int64),
	}
}

func (r *Resolver) cached(m map[string]int64, key string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := m[key]
	return id, ok
}

func (r *Resolver) remember(m map[string]int64, key string, id int64) {
	r.mu.Lock()
	m[key] = id
	r.mu.Unlock()
}

// ResolveSupplier returns the local id for a vendor or customer reference.
func (r *Resolver) ResolveSupplier(ctx context.Context, ref PartyRef) (int64, error) {
	if ref.ID == "" {
		return 0, &errs.ResolutionError{Entity: "supplier", Ref: ref.Name, Reason: "reference has no id"}
	}
	if ref.Kind == "" {
		ref.Kind = PartyVendor
	}
	if id, ok := r.cached(r.suppliers, ref.key()); ok {
		return id, nil
	}

	var party RemoteParty
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		party, err = r.remote.Party(ctx, ref)
		return err
	})
	if err != nil {
		return 0, r.remoteFailure("supplier", ref.ID, err)
	}
	if party.Name == "" {
		party.Name = ref.Name
	}
	if party.Name == "" {
		return 0, &errs.ResolutionError{Entity: "supplier", Ref: ref.ID, Reason: "remote entity has no display name"}
	}

	id, err := r.store.UpsertSupplier(ctx, SupplierRecord{
		Source:     ref.Kind,
		ExternalID: ref.ID,
		Name:       party.Name,
		Email:      party.Email,
		Phone:      party.Phone,
	})
	if err != nil {
		return 0, errs.Wrapf(err, "upsert supplier %s", ref.key())
	}
	r.remember(r.suppliers, ref.key(), id)
	r.log.WithFields(logrus.Fields{"supplier": party.Name, "external_id": ref.ID, "supplier_id": id}).Debug("supplier resolved")
	return id, nil
}

// ResolveItem returns the local id for a catalog item reference.
func (r *Resolver) ResolveItem(ctx context.Context, ref ItemRef) (int64, error) {
	if ref.ID == "" {
		return 0, &errs.ResolutionError{Entity: "item", Ref: ref.Name, Reason: "reference has no id"}
	}
	if id, ok := r.cached(r.items, ref.ID); ok {
		return id, nil
	}

	var item RemoteItem
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		item, err = r.remote.Item(ctx, ref.ID)
		return err
	})
	if err != nil {
		return 0, r.remoteFailure("item", ref.ID, err)
	}
	if item.Name == "" {
		item.Name = ref.Name
	}
	if item.Name == "" {
		return 0, &errs.ResolutionError{Entity: "item", Ref: ref.ID, Reason: "remote entity has no name"}
	}

	id, err := r.store.UpsertItem(ctx, ItemRecord{
		ExternalID:  ref.ID,
		Name:        item.Name,
		Unit:        UnitForItemType(item.Type),
		Type:        item.Type,
		Description: item.Description,
	})
	if err != nil {
		return 0, errs.Wrapf(err, "upsert item %s", ref.ID)
	}
	r.remember(r.items, ref.ID, id)
	return id, nil
}

func (r *Resolver) remoteFailure(entity, ref string, err error) error {
	switch {
	case errs.IsAuth(err):
		return err
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrForbidden):
		return &errs.ResolutionError{Entity: entity, Ref: ref, Reason: "remote lookup failed", Err: err}
	}
	return errs.Wrapf(err, "read %s %s", entity, ref)
}

// UnitForItemType maps the remote item type onto the local unit column.
func UnitForItemType(itemType string) string {
	switch itemType {
	case "Service":
		return "service"
	case "Inventory":
		return "each"
	}
	return "nos"
}
