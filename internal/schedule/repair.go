package schedule

import (
	"slices"

	"github.com/roach88/nodejit/internal/ir"
)

// Repair brings the schedule back in line with g after a pass rewrote the
// graph under it. Killed nodes are dropped from their blocks. A phi left
// among a block's ordinary nodes, where a pass rewrote some other node into
// it, moves to the phi section of its merge's block. Reachable nodes the
// schedule has never seen are placed when they carry effect or control
// edges: each goes right before its earliest scheduled user, looking
// through floating pure users, so chains of new nodes keep their order.
// Pure new nodes stay floating.
func (s *Schedule) Repair(g *ir.Graph) (dropped, placed int) {
	s.RPOOrder()

	where := make(map[ir.NodeID]*BasicBlock)
	for _, b := range s.blocks {
		kept := b.Nodes[:0]
		for _, n := range b.Nodes {
			if n.IsDead() {
				dropped++
				continue
			}
			kept = append(kept, n)
			where[n.ID()] = b
		}
		clear(b.Nodes[len(kept):])
		b.Nodes = kept
		if b.ControlInput != nil {
			where[b.ControlInput.ID()] = b
		}
	}

	var stray []*ir.Node
	for _, b := range s.blocks {
		for _, n := range b.Nodes[firstOrdinary(b):] {
			if n.Opcode().IsPhi() {
				stray = append(stray, n)
			}
		}
	}
	for _, phi := range stray {
		home, ok := where[phi.ControlInput(0).ID()]
		if !ok {
			continue
		}
		from := where[phi.ID()]
		at := slices.Index(from.Nodes, phi)
		from.Nodes = slices.Delete(from.Nodes, at, at+1)
		home.Nodes = slices.Insert(home.Nodes, firstOrdinary(home), phi)
		where[phi.ID()] = home
		placed++
	}

	nodes := g.DumpNodes()
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if _, ok := where[n.ID()]; ok || !pinned(n.Op()) {
			continue
		}
		b, at := s.firstUse(n, where)
		if b == nil {
			continue
		}
		b.Nodes = slices.Insert(b.Nodes, at, n)
		where[n.ID()] = b
		placed++
	}
	return dropped, placed
}

// pinned reports whether a node must sit at a fixed point of the schedule.
func pinned(op *ir.Operator) bool {
	return op.EffectIn > 0 || op.EffectOut > 0 || op.ControlOut > 0
}

// firstUse returns the block and insertion index of n's earliest
// scheduled user by RPO, then by position in the block. A block's control
// input counts as the position after its last node. Floating pure users
// are looked through to the scheduled nodes consuming them.
func (s *Schedule) firstUse(n *ir.Node, where map[ir.NodeID]*BasicBlock) (*BasicBlock, int) {
	var (
		best   *BasicBlock
		bestAt int
	)
	seen := map[ir.NodeID]bool{n.ID(): true}
	work := []*ir.Node{n}
	for len(work) > 0 {
		from := work[len(work)-1]
		work = work[:len(work)-1]
		for _, user := range from.Users() {
			if seen[user.ID()] || user.IsDead() {
				continue
			}
			seen[user.ID()] = true
			b, ok := where[user.ID()]
			if !ok {
				if !pinned(user.Op()) && !user.Opcode().IsPhi() {
					work = append(work, user)
				}
				continue
			}
			if b.RPO < 0 {
				continue
			}
			at := slices.Index(b.Nodes, user)
			if at < 0 {
				at = len(b.Nodes)
			}
			at = max(at, firstOrdinary(b))
			if best == nil || b.RPO < best.RPO || (b == best && at < bestAt) {
				best, bestAt = b, at
			}
		}
	}
	return best, bestAt
}

// firstOrdinary is the index of the first node after the control entry and
// the phis of b.
func firstOrdinary(b *BasicBlock) int {
	i := min(1, len(b.Nodes))
	for ; i < len(b.Nodes); i++ {
		switch b.Nodes[i].Opcode() {
		case ir.OpPhi, ir.OpEffectPhi, ir.OpTerminate:
		default:
			return i
		}
	}
	return i
}
