package collections

import (
	"errors"

	"github.com/ggoodman/redis-collections-go/store"
)

var (
	// ErrServiceDisposed is returned by every operation on a closed service.
	ErrServiceDisposed = errors.New("collections: service disposed")

	// ErrStoreUnavailable is store.ErrUnavailable, re-exported so callers can
	// match store failures without importing the store package.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrReplicaDetached is returned by Attach on a replica that was detached.
	// Detached replicas are terminal; create a new one to re-attach.
	ErrReplicaDetached = errors.New("collections: replica detached")

	// ErrAlreadyAttached is returned by a second Attach call.
	ErrAlreadyAttached = errors.New("collections: replica already attached")
)
