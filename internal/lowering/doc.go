// Package lowering rewrites generic JavaScript operators into simplified
// and machine operators once type bounds prove it safe.
//
// TypedLowering is a Reducer: it looks at one node at a time and answers
// NoChange, Changed (edited in place) or a replacement node. GraphReducer
// drives reducers to a fixpoint over the whole graph and owns the Editor
// through which reducers redirect uses.
//
// Lowering runs before scheduling. It only ever touches value and effect
// edges that are still floating; control is relaxed onto the original
// node's control input.
package lowering
