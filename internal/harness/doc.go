// Package harness runs conformance scenarios against the compilation
// pipeline.
//
// A scenario is a YAML file naming a CUE graph description, a list of
// argument cases and the expected compilation outcome:
//
//	name: checked-add
//	description: overflow check becomes a DeoptimizeIf
//	files: [graphs/add.cue]
//	graph: add
//	cases:
//	  - args: [{int32: 1}, {int32: 2}]
//	    returns: "w:3"
//	  - args: [{int32: 2147483647}, {int32: 1}]
//	    deopt: overflow
//	    bailout: 3
//	expect:
//	  deopts: 1
//	  contains: [Int32AddWithOverflow]
//	  absent: [Checkpoint]
//
// Each scenario loads the graph twice. One copy is compiled; the other is
// kept as the reference. Every case runs on both through the interpreter,
// and the outcomes must be equivalent: the same value, or the same deopt
// reason and bailout point. The compilation is recorded in a fresh
// in-memory compilation log and its deopt points are read back from it,
// so a scenario exercises the same path as `nodejit compile --db`.
//
// # Determinism
//
// Compilation IDs are the scenario name and sequence numbers start at 1,
// so two runs of a scenario produce byte-identical golden snapshots.
// Golden files live in testdata/golden and are refreshed with
//
//	go test ./internal/harness -update
package harness
