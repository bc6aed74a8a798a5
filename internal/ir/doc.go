// Package ir provides the sea-of-nodes graph shared by every compiler pass.
//
// This package owns nodes and operators. Lowering, linearization and the
// loaders import ir; ir imports only the leaf packages heap, types and
// access, so the graph stays the foundational layer with no cycles.
//
// Key design constraints:
//   - Nodes live in an arena addressed by NodeID; killing a node tombstones
//     its slot and IDs are never reused
//   - Inputs are laid out as values, frame state, effects, controls
//   - Every input edit updates the matching use-list in the same call
//   - Operators are immutable and shared between nodes
package ir
