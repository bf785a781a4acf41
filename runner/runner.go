// Package runner drives multiple independent [asyncsched.Store] values
// concurrently, one per goroutine, demonstrating the concurrency model
// in spec §5: "Multiple Stores may run in parallel on disjoint threads
// but must not share any handle." No handle-typed value ever crosses a
// goroutine boundary here; each Store's Run call is self-contained.
package runner

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/bytecodealliance/wasmtime-sub013"
)

// Group runs a fixed batch of Stores to completion, returning the first
// error (if any) from any of them, in the manner of errgroup.Group.
type Group struct {
	stores []*asyncsched.Store
}

// New returns a Group that will drive stores when Run is called.
func New(stores ...*asyncsched.Store) *Group {
	return &Group{stores: stores}
}

// Run drives every Store's event loop on its own goroutine and waits
// for all of them, or for ctx to be cancelled. The first non-nil error
// from any Store cancels the group's context, after which Run stops
// waiting for the remaining Stores and returns that error; their Run
// calls are not interrupted and keep going in the background.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, store := range g.stores {
		store := store
		eg.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- store.Run() }()
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return eg.Wait()
}
