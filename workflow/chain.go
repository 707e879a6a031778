package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// NodeFunc transforms the workflow state. It receives the accumulated state
// and returns the updated state; nodes own the fields they produce and must
// leave the rest untouched.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Node is one named step of a workflow.
type Node[S any] struct {
	name string
	fn   NodeFunc[S]
}

// NewNode creates a named workflow node.
func NewNode[S any](name string, fn NodeFunc[S]) Node[S] {
	return Node[S]{name: name, fn: fn}
}

// Name returns the node name.
func (n Node[S]) Name() string { return n.name }

// Chain is a fixed linear pipeline of nodes sharing a typed state struct.
// Execution is synchronous and single-threaded: one node after another,
// each receiving the state produced by its predecessor.
type Chain[S any] struct {
	name   string
	nodes  []Node[S]
	logger *zap.Logger
}

// NewChain creates a workflow from an ordered list of nodes.
func NewChain[S any](name string, logger *zap.Logger, nodes ...Node[S]) *Chain[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain[S]{
		name:   name,
		nodes:  nodes,
		logger: logger.With(zap.String("component", "workflow"), zap.String("workflow", name)),
	}
}

// Name returns the workflow name.
func (c *Chain[S]) Name() string { return c.name }

// Nodes returns the declared node sequence.
func (c *Chain[S]) Nodes() []Node[S] { return c.nodes }

// Run executes every node in order, threading the state through.
// A node error aborts the run; nodes are expected to degrade to fallback
// values for recoverable conditions rather than returning errors.
func (c *Chain[S]) Run(ctx context.Context, initial S) (S, error) {
	state := initial

	for i, node := range c.nodes {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		default:
		}

		next, err := node.fn(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %d (%s) failed: %w", i+1, node.name, err)
		}
		state = next

		c.logger.Debug("node complete", zap.String("node", node.name))
	}

	return state, nil
}
