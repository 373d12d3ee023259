package services

import "context"

// StoreActor serializes every store-mutating section against the local store.
// Network round-trips run outside of it.
type StoreActor struct {
	sem chan struct{}
}

// NewStoreActor creates a new StoreActor
func NewStoreActor() *StoreActor {
	return &StoreActor{sem: make(chan struct{}, 1)}
}

// Do runs fn exclusively. It gives up waiting when ctx is done.
// fn must not call Do again.
func (a *StoreActor) Do(ctx context.Context, fn func() error) error {
	select {
	case a.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-a.sem }()
	return fn()
}
