// Package manifest defines the cargo manifest data model and its storage
// backends. A manifest maps a courier tracking number to shipment metadata,
// including the optional consolidated-package number used by the query engine.
package manifest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrNotFound is returned when no manifest exists for a tracking number.
var ErrNotFound = errors.New("manifest not found")

// ErrAlreadyExists is returned when creating a manifest whose tracking number
// is already registered.
var ErrAlreadyExists = errors.New("manifest already exists")

// Record is a single cargo manifest entry. TrackingNumber is the unique key.
type Record struct {
	TrackingNumber string    `json:"tracking_number"`
	PackageNumber  string    `json:"package_number,omitempty"`
	ManifestDate   time.Time `json:"manifest_date,omitempty"`
	TransportCode  string    `json:"transport_code,omitempty"`
	CustomerCode   string    `json:"customer_code,omitempty"`
	GoodsCode      string    `json:"goods_code,omitempty"`
	WeightKG       float64   `json:"weight_kg,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// HasPackageNumber reports whether the record carries a consolidated-package number.
func (r *Record) HasPackageNumber() bool {
	return r != nil && r.PackageNumber != ""
}

// Store provides access to manifest records.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/shipwatch/tracking-server/internal/manifest Store
type Store interface {
	// GetByTrackingNumber returns the manifest for a tracking number, or
	// ErrNotFound when no record exists.
	GetByTrackingNumber(ctx context.Context, trackingNumber string) (*Record, error)

	// Create inserts a new manifest record.
	Create(ctx context.Context, rec *Record) error

	// Update replaces the manifest for rec.TrackingNumber.
	Update(ctx context.Context, rec *Record) error

	// Delete removes the manifest for a tracking number.
	Delete(ctx context.Context, trackingNumber string) error

	// List returns up to limit records ordered by tracking number, skipping offset.
	List(ctx context.Context, limit, offset int) ([]Record, error)

	// Count returns the number of manifest records.
	Count(ctx context.Context) (int64, error)

	// CountWithPackage returns the number of records with a non-empty package number.
	CountWithPackage(ctx context.Context) (int64, error)
}

// MutationHooks receives post-commit notifications for manifest mutations.
// Implementations must be safe for concurrent use; a store invokes the hook on
// the mutating goroutine strictly after the change is durable.
type MutationHooks interface {
	OnCreate(ctx context.Context, trackingNumber string)
	OnUpdate(ctx context.Context, trackingNumber string)
	OnDelete(ctx context.Context, trackingNumber string)
}

// NopHooks is a MutationHooks that does nothing. Used when no sync coordinator
// is attached, e.g. in storage-level tests.
type NopHooks struct{}

// OnCreate implements MutationHooks.
func (NopHooks) OnCreate(context.Context, string) {}

// OnUpdate implements MutationHooks.
func (NopHooks) OnUpdate(context.Context, string) {}

// OnDelete implements MutationHooks.
func (NopHooks) OnDelete(context.Context, string) {}

// HookRelay forwards mutation hooks to a target bound after construction.
// Stores need hooks at creation time while the sync coordinator needs the
// store; the relay breaks that cycle. Unbound, it drops all hooks.
type HookRelay struct {
	target atomic.Pointer[MutationHooks]
}

// NewHookRelay returns an unbound relay.
func NewHookRelay() *HookRelay {
	return &HookRelay{}
}

// Bind sets the hook target. Must be called before the store serves mutations.
func (h *HookRelay) Bind(target MutationHooks) {
	h.target.Store(&target)
}

// OnCreate implements MutationHooks.
func (h *HookRelay) OnCreate(ctx context.Context, trackingNumber string) {
	if t := h.target.Load(); t != nil {
		(*t).OnCreate(ctx, trackingNumber)
	}
}

// OnUpdate implements MutationHooks.
func (h *HookRelay) OnUpdate(ctx context.Context, trackingNumber string) {
	if t := h.target.Load(); t != nil {
		(*t).OnUpdate(ctx, trackingNumber)
	}
}

// OnDelete implements MutationHooks.
func (h *HookRelay) OnDelete(ctx context.Context, trackingNumber string) {
	if t := h.target.Load(); t != nil {
		(*t).OnDelete(ctx, trackingNumber)
	}
}
