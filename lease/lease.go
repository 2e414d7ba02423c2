// Package lease grants time-bound rights to hold a resource.
//
// An Acquirer grants leases asynchronously: Acquire returns at once and the Owner hears
// the outcome through LeaseAcquired or LeaseDenied. Once granted, a lease ends exactly
// once, through LeaseCanceled, whether it expired or was canceled explicitly.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease identifies a granted lease. The zero value is not a lease.
type Lease struct {
	ID         uuid.UUID
	Descriptor string
}

// IsZero reports whether l is the zero Lease.
func (l Lease) IsZero() bool { return l.ID == uuid.Nil }

func (l Lease) String() string {
	if l.Descriptor == "" {
		return l.ID.String()
	}
	return fmt.Sprintf("%s(%s)", l.Descriptor, l.ID)
}

// Owner is notified about the life of a lease it asked for.
type Owner interface {
	// LeaseAcquired reports that the lease was granted for the given duration.
	LeaseAcquired(l Lease, granted time.Duration)
	// LeaseDenied reports that the lease request was refused.
	LeaseDenied(err error)
	// LeaseCanceled reports that the lease ended, by expiry or cancellation.
	LeaseCanceled(l Lease)
}

// Acquirer grants, renews and cancels leases.
type Acquirer interface {
	Acquire(ctx context.Context, owner Owner, descriptor string, d time.Duration)
	Renew(ctx context.Context, l Lease, d time.Duration) (time.Duration, error)
	Cancel(ctx context.Context, l Lease) error
}

// OwnerFuncs adapts functions to Owner. Nil functions are skipped.
type OwnerFuncs struct {
	Acquired func(l Lease, granted time.Duration)
	Denied   func(err error)
	Canceled func(l Lease)
}

// LeaseAcquired calls o.Acquired.
func (o OwnerFuncs) LeaseAcquired(l Lease, granted time.Duration) {
	if o.Acquired != nil {
		o.Acquired(l, granted)
	}
}

// LeaseDenied calls o.Denied.
func (o OwnerFuncs) LeaseDenied(err error) {
	if o.Denied != nil {
		o.Denied(err)
	}
}

// LeaseCanceled calls o.Canceled.
func (o OwnerFuncs) LeaseCanceled(l Lease) {
	if o.Canceled != nil {
		o.Canceled(l)
	}
}
