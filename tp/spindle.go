package tp

import "math"

// invalidID marks an empty waiting-for slot.
const invalidID = int64(-1)

// SpindleFeed is the spindle feedback the host writes before each tick via
// SetSpindleFeed.
type SpindleFeed struct {
	// Revs is the accumulated encoder position in revolutions, reset by the
	// hardware when an index latch was armed.
	Revs float64
	// Direction is the commanded rotation sign: 1, 0 or -1.
	Direction int
	// SpeedIn is the measured spindle speed in revolutions per second.
	SpeedIn float64
	// AtSpeed reports the spindle has reached commanded speed.
	AtSpeed bool
	// IndexEnable mirrors the index-latch handshake line: the planner raises
	// the request through the status block, the hardware clears this flag
	// once the index pulse has latched and the count was zeroed.
	IndexEnable bool
}

// spindleState is the planner-side spindle bookkeeping.
type spindleState struct {
	feed SpindleFeed

	// offset maps encoder revolutions onto segment progress for position
	// sync; it accumulates across consecutive synced segments.
	offset float64
	// revsPrev is the mapped revolution count seen by the sync controller
	// last tick, for the measured rev velocity.
	revsPrev float64
	// prevTapRevs is the signed revolution count last tick, for rigid-tap
	// reversal detection.
	prevTapRevs float64
	// syncAccel counts ticks spent accelerating to match an already-turning
	// spindle; 0 once position sync is latched.
	syncAccel int
	sync      bool
	// speedCmd is the commanded spindle speed published through the status
	// block; rigid-tap reversals flip its sign.
	speedCmd float64

	waitingForIndex   int64
	waitingForAtspeed int64
}

func (s *spindleState) reset() {
	s.offset = 0
	s.revsPrev = 0
	s.prevTapRevs = 0
	s.syncAccel = 0
	s.sync = false
	s.speedCmd = 0
	s.waitingForIndex = invalidID
	s.waitingForAtspeed = invalidID
}

// signedRevs is the encoder position signed by the commanded direction.
func (s *spindleState) signedRevs() float64 {
	if s.feed.Direction < 0 {
		return -s.feed.Revs
	}
	return s.feed.Revs
}

// spindleProgressRevs maps the signed revolution count onto the revolutions
// driving this segment's progress. Rigid-tap retraction runs the spindle
// backwards, so progress there counts down from the reversal point.
func (tc *Segment) spindleProgressRevs(signedRevs float64) float64 {
	if tc.Kind == KindRigidTap && (tc.TapState == TapRetraction || tc.TapState == TapFinalReversal) {
		return tc.RevsAtReversal - signedRevs
	}
	return signedRevs
}

// runSyncController adjusts tc.ReqVel so segment progress tracks the
// spindle. Velocity mode matches speeds; position mode servos progress onto
// the encoder count.
func (p *Planner) runSyncController(tc, nexttc *Segment) {
	switch tc.Sync {
	case SyncVelocity:
		reqVel := math.Abs(p.spindle.feed.SpeedIn) * tc.UUPerRev
		if nexttc != nil {
			// blend compensation: the successor has already covered part of
			// the distance this revolution count calls for
			reqVel -= nexttc.Progress
		}
		if reqVel < 0 {
			reqVel = 0
		}
		tc.ReqVel = reqVel
	case SyncPosition:
		revs := tc.spindleProgressRevs(p.spindle.signedRevs())
		dt := p.cycleTime
		if p.spindle.syncAccel > 0 {
			// still accelerating to match the turning spindle: chase the
			// average spindle speed since sync was requested
			targetVel := revs / (dt * float64(p.spindle.syncAccel)) * tc.UUPerRev
			p.spindle.syncAccel++
			if tc.CurrentVel >= targetVel {
				if tc.UUPerRev > 0 {
					p.spindle.offset = revs - tc.Progress/tc.UUPerRev
				}
				p.spindle.syncAccel = 0
				tc.ReqVel = targetVel
			} else {
				tc.ReqVel = tc.MaxVel
			}
			p.spindle.revsPrev = revs
			return
		}
		posError := (revs-p.spindle.offset)*tc.UUPerRev - tc.Progress
		if nexttc != nil {
			posError -= nexttc.Progress
		}
		revVel := (revs - p.spindle.revsPrev) / dt
		reqVel := revVel * tc.UUPerRev
		if posError != 0 {
			reqVel += math.Copysign(math.Sqrt(math.Abs(posError)*tc.scaledAccel()), posError)
		}
		if reqVel < 0 {
			reqVel = 0
		}
		tc.ReqVel = reqVel
		p.spindle.revsPrev = revs
	case SyncNone:
	default:
		p.logger.Debugw("ignoring unrecognized spindle sync mode", "mode", tc.Sync)
	}
}
