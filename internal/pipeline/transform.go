package pipeline

import (
	"context"

	"github.com/pacific-data/tilepress/internal/grid"
	"github.com/pacific-data/tilepress/internal/stack"
)

// Input is what a transform sees for one tile: the masked, rescaled stack
// plus the tile itself, for transforms that need the footprint geometry.
type Input struct {
	Stack *stack.Stack
	Tile  grid.Tile
}

// Transform computes a tile's product from its stack. Returning (nil, nil)
// signals that the tile has nothing to produce and should be skipped without
// error.
type Transform interface {
	Transform(ctx context.Context, in Input) (*Result, error)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(ctx context.Context, in Input) (*Result, error)

// Transform implements Transform.
func (f TransformFunc) Transform(ctx context.Context, in Input) (*Result, error) {
	return f(ctx, in)
}
