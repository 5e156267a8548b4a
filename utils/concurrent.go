package utils

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// CxGroup is an errgroup bound to a context with an optional limit on
// concurrently running functions.
type CxGroup struct {
	ctx   context.Context
	group *errgroup.Group
}

func NewCGroup(ctx context.Context) *CxGroup {
	group, ctx := errgroup.WithContext(ctx)
	return &CxGroup{ctx: ctx, group: group}
}

func NewCGroupWithLimit(ctx context.Context, limit int) *CxGroup {
	cx := NewCGroup(ctx)
	if limit > 0 {
		cx.group.SetLimit(limit)
	}
	return cx
}

// Add runs fn in the group; it blocks while the limit is reached
func (g *CxGroup) Add(fn func(ctx context.Context) error) {
	g.group.Go(func() error {
		return fn(g.ctx)
	})
}

// Ctx is cancelled as soon as one function fails
func (g *CxGroup) Ctx() context.Context {
	return g.ctx
}

// Block waits for every function and returns the first error
func (g *CxGroup) Block() error {
	return g.group.Wait()
}

// Concurrent runs fn for every element with at most limit in flight
func Concurrent[T any](ctx context.Context, array []T, limit int, fn func(ctx context.Context, elem T, idx int) error) error {
	group := NewCGroupWithLimit(ctx, limit)
	for idx, elem := range array {
		group.Add(func(ctx context.Context) error {
			return fn(ctx, elem, idx)
		})
	}
	return group.Block()
}
