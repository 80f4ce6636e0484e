package tp

import "math"

// optimize is the lookahead pass run after every append and blend splice: a
// backward walk from the queue tail that raises each tangent predecessor's
// final velocity to the highest speed from which the successor can still
// reach its own final velocity within its length. A rising-tide reverse
// reachability pass; no forward pass is needed because the profiler enforces
// per-tick deceleration feasibility on its own.
func (p *Planner) optimize() {
	n := p.queue.len()
	for i := n - 1; i > 0; i-- {
		if n-i > p.lookaheadDepth {
			break
		}
		tc := p.queue.item(i)
		prev := p.queue.item(i - 1)
		if prev.TermCond != TermTangent {
			// stop or parabolic termination resets the chain
			break
		}
		if prev.Progress > 0 {
			// already executing; too late to re-plan
			break
		}
		vs := math.Sqrt(tc.FinalVel*tc.FinalVel + 2*tc.plannedAccel()*tc.Target)
		if vs >= tc.MaxVel {
			prev.FinalVel = tc.MaxVel
			prev.AtPeak = true
		} else {
			prev.FinalVel = vs
			prev.AtPeak = false
		}
		if prev.FinalVel > prev.MaxVel {
			prev.FinalVel = prev.MaxVel
		}
		if tc.AtPeak {
			break
		}
	}
}
