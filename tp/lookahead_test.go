package tp

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestLookaheadRaisesFinalVel(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	test.That(t, p.SetTermCond(TermParabolic, 0), test.ShouldBeNil)

	// collinear pair: the first line is promoted to a tangent join and the
	// optimiser raises its final velocity to what the successor can absorb
	addTestLine(t, p, r3.Vector{X: 5}, 100)
	addTestLine(t, p, r3.Vector{X: 10}, 100)

	first := p.queue.item(0)
	second := p.queue.item(1)
	test.That(t, first.TermCond, test.ShouldEqual, TermTangent)
	// the successor will run at half acceleration once its parabolic
	// termination activates, and the optimiser plans with that
	test.That(t, first.FinalVel, test.ShouldAlmostEqual, math.Sqrt(2*500*5), 1e-9)
	test.That(t, first.AtPeak, test.ShouldBeFalse)
	test.That(t, second.FinalVel, test.ShouldEqual, 0.0)

	// reachability: finalvel^2 + 2*a*target covers the successor's finalvel
	lhs := first.FinalVel*first.FinalVel + 2*first.scaledAccel()*first.Target
	test.That(t, lhs, test.ShouldBeGreaterThanOrEqualTo, second.FinalVel*second.FinalVel)
}

func TestLookaheadClampsAtSuccessorMaxVel(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	test.That(t, p.SetTermCond(TermParabolic, 0), test.ShouldBeNil)

	addTestLine(t, p, r3.Vector{X: 5}, 100)
	// the successor's velocity ceiling is the binding constraint
	err := p.AddLine(pose(r3.Vector{X: 10}), MotionFeed, 100, 50, 1000, 0, false, -1)
	test.That(t, err, test.ShouldBeNil)

	first := p.queue.item(0)
	test.That(t, first.FinalVel, test.ShouldEqual, 50.0)
	test.That(t, first.AtPeak, test.ShouldBeTrue)
}

func TestLookaheadStopsAtNonTangent(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	// stop-terminated predecessor: the chain resets, final velocities stay 0
	test.That(t, p.SetTermCond(TermStop, 0), test.ShouldBeNil)
	addTestLine(t, p, r3.Vector{X: 5}, 100)
	addTestLine(t, p, r3.Vector{X: 10}, 100)

	test.That(t, p.queue.item(0).FinalVel, test.ShouldEqual, 0.0)
	test.That(t, p.queue.item(1).FinalVel, test.ShouldEqual, 0.0)
}

func TestLookaheadSkipsExecutingSegments(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	test.That(t, p.SetTermCond(TermParabolic, 0), test.ShouldBeNil)
	addTestLine(t, p, r3.Vector{X: 5}, 100)

	// simulate execution having started before the next append; even a
	// tangent join must not be re-planned then
	p.queue.item(0).TermCond = TermTangent
	p.queue.item(0).Progress = 1

	addTestLine(t, p, r3.Vector{X: 10}, 100)
	test.That(t, p.queue.item(0).FinalVel, test.ShouldEqual, 0.0)
}
