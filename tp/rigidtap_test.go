package tp

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestRigidTapRequiresPositionSync(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	err := p.AddRigidTap(pose(r3.Vector{Z: 10}), 10, 20, 1000, 0)
	test.That(t, err, test.ShouldBeError, ErrUnsyncedRigidTap)

	test.That(t, p.SetSpindleSync(1, true), test.ShouldBeNil)
	err = p.AddRigidTap(pose(r3.Vector{Z: 10}), 10, 20, 1000, 0)
	test.That(t, err, test.ShouldBeError, ErrUnsyncedRigidTap)

	test.That(t, p.SetSpindleSync(1, false), test.ShouldBeNil)
	err = p.AddRigidTap(pose(r3.Vector{Z: 10}), 10, 20, 1000, 0)
	test.That(t, err, test.ShouldBeNil)
	// the cycle returns to its start, so the goal pose does not move
	test.That(t, p.goalPos.ApproxEqual(pose(r3.Vector{}), 0), test.ShouldBeTrue)
}

// TestRigidTapCycle walks a full tap: sync to the turning spindle, feed to
// depth, reverse out, and place the tool back at the start. The spindle is
// simulated as chasing the commanded speed at a finite acceleration, with
// the encoder count following the simulated speed.
func TestRigidTapCycle(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	test.That(t, p.SetSpindleSync(1, false), test.ShouldBeNil)
	err := p.AddRigidTap(pose(r3.Vector{Z: 10}), 10, 20, 1000, 0)
	test.That(t, err, test.ShouldBeNil)

	const dt = 0.001
	feed := SpindleFeed{Direction: 1, SpeedIn: 10, AtSpeed: true}
	simSpeed := 10.0
	indexArmTicks := 0

	var order []TapState
	seen := map[TapState]bool{}
	maxZ := 0.0
	sawSync := false

	for i := 0; i < 60000 && !p.IsDone(); i++ {
		st := p.Status()

		// the spindle chases the commanded speed at 200 rev/s^2
		cmd := st.SpindleSpeedOut
		if cmd == 0 {
			cmd = feed.SpeedIn
		}
		if simSpeed < cmd {
			simSpeed = math.Min(cmd, simSpeed+200*dt)
		} else if simSpeed > cmd {
			simSpeed = math.Max(cmd, simSpeed-200*dt)
		}

		if st.SpindleIndexEnable {
			indexArmTicks++
			feed.IndexEnable = true
			if indexArmTicks >= 3 {
				// index pulse: the hardware clears the latch and zeroes the
				// count
				feed.IndexEnable = false
				feed.Revs = 0
			}
		}
		feed.Revs += simSpeed * dt
		feed.SpeedIn = simSpeed
		p.SetSpindleFeed(feed)
		p.RunCycle()

		sawSync = sawSync || p.Status().SpindleSync
		maxZ = math.Max(maxZ, p.GetPos().Tran.Z)
		if tc := p.queue.item(0); tc != nil && tc.Kind == KindRigidTap {
			if !seen[tc.TapState] {
				seen[tc.TapState] = true
				order = append(order, tc.TapState)
			}
		}
	}

	test.That(t, p.IsDone(), test.ShouldBeTrue)
	test.That(t, order, test.ShouldResemble, []TapState{
		TapTapping, TapReversing, TapRetraction, TapFinalReversal, TapFinalPlacement,
	})
	test.That(t, sawSync, test.ShouldBeTrue)
	// the tool follows the spindle past the programmed depth while it coasts
	// down to reverse (10^2 / (2*200) = 0.25 rev at 1 uu/rev), then comes
	// back exactly to the start
	test.That(t, maxZ, test.ShouldAlmostEqual, 10.25, 0.05)
	final := p.GetPos()
	test.That(t, final.Tran.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, final.Tran.Y, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, final.Tran.Z, test.ShouldAlmostEqual, 0, 1e-6)
}

func TestVelocitySyncTracksSpindle(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	test.That(t, p.SetSpindleSync(0.5, true), test.ShouldBeNil)
	err := p.AddLine(pose(r3.Vector{X: 10}), MotionFeed, 100, 200, 1000, 0, false, -1)
	test.That(t, err, test.ShouldBeNil)

	p.SetSpindleFeed(SpindleFeed{Direction: 1, SpeedIn: 20, AtSpeed: true})
	for i := 0; i < 300; i++ {
		p.RunCycle()
	}
	// feed-per-rev: 20 rev/s at 0.5 uu/rev commands 10 uu/s
	test.That(t, p.Status().CurrentVel, test.ShouldAlmostEqual, 10, 0.1)

	runUntilDone(t, p, 40000)
	test.That(t, p.GetPos().Tran.X, test.ShouldAlmostEqual, 10, 1e-6)
}
