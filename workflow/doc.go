// Package workflow provides linear agent pipelines: ordered node chains
// that thread a strongly typed state struct from node to node. Each agent
// declares its own state type, so data dependencies between nodes are
// checked at compile time instead of flowing through an untyped field bag.
package workflow
