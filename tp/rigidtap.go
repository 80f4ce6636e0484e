package tp

import "github.com/opencnc/traject/posemath"

// tapOverrunRevs is the overrun allowance, in spindle revolutions, added
// past the programmed reversal point so the spindle has room to stop and
// reverse while still synchronised.
const tapOverrunRevs = 10.0

// updateTapState advances the rigid-tap phase machine, gated on the signed
// spindle revolution count. The segment is rebuilt in place at each
// reversal: a fresh line from the point actually reached back toward the
// start, with progress rewound to zero.
func (p *Planner) updateTapState(tc *Segment) {
	revs := p.spindle.signedRevs()

	switch tc.TapState {
	case TapTapping:
		if tc.Progress >= tc.ReversalTarget {
			// drive the spindle back out
			p.spindle.speedCmd = -p.spindle.speedCmd
			tc.TapState = TapReversing
		}
	case TapReversing:
		if revs < p.spindle.prevTapRevs {
			// the spindle has stopped and begun turning backwards
			tc.RevsAtReversal = revs + p.spindle.offset
			cur := tc.XYZ.Point(tc.Progress)
			tc.XYZ = posemath.NewLine(cur, tc.tapOrigin)
			tc.ReversalTarget = tc.XYZ.Magnitude
			tc.Target = tc.ReversalTarget + tapOverrunRevs*tc.UUPerRev
			tc.Progress = 0
			tc.TapState = TapRetraction
		}
	case TapRetraction:
		if tc.Progress >= tc.ReversalTarget {
			p.spindle.speedCmd = -p.spindle.speedCmd
			tc.TapState = TapFinalReversal
		}
	case TapFinalReversal:
		if revs > p.spindle.prevTapRevs {
			// spindle is forward again; place the tool exactly at the start
			cur := tc.XYZ.Point(tc.Progress)
			tc.XYZ = posemath.NewLine(cur, tc.tapOrigin)
			tc.Target = tc.XYZ.Magnitude
			tc.ReversalTarget = tc.Target
			tc.Progress = 0
			tc.Sync = SyncNone
			p.spindle.sync = false
			tc.ReqVel = tc.MaxVel
			tc.TapState = TapFinalPlacement
		}
	case TapFinalPlacement:
		// ordinary profile to target
	}

	p.spindle.prevTapRevs = revs
}
