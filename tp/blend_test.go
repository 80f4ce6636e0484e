package tp

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/opencnc/traject/posemath"
)

func TestBlendVelocity(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	tc := &Segment{
		Kind: KindLine, Target: 5, ReqVel: 100, MaxVel: 200,
		MaxAccel: 1000, AccelScale: 1, TermCond: TermParabolic, Active: true,
		XYZ: posemath.NewLine(r3.Vector{}, r3.Vector{X: 5}),
	}
	next := &Segment{
		Kind: KindLine, Target: 5, ReqVel: 100, MaxVel: 200,
		MaxAccel: 1000, AccelScale: 1, TermCond: TermParabolic, Active: true,
		XYZ: posemath.NewLine(r3.Vector{X: 5}, r3.Vector{X: 10}),
	}

	// limited by segment length: sqrt(5 * 1000)
	test.That(t, p.blendVelocity(tc, next), test.ShouldAlmostEqual, math.Sqrt(5000), 1e-9)

	// capped by the successor's request
	next.ReqVel = 20
	test.That(t, p.blendVelocity(tc, next), test.ShouldEqual, 20.0)
	next.ReqVel = 100

	// scaled down when the successor out-accelerates the current segment
	tc.AccelScale = 0.5
	v := p.blendVelocity(tc, next)
	test.That(t, v, test.ShouldAlmostEqual, math.Sqrt(5*500)*0.5, 1e-9)
}

func TestBlendVelocityToleranceCap(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	// right-angle corner
	tc := &Segment{
		Kind: KindLine, Target: 10, ReqVel: 100, MaxVel: 200,
		MaxAccel: 1000, AccelScale: 1, TermCond: TermParabolic, Active: true,
		XYZ: posemath.NewLine(r3.Vector{}, r3.Vector{X: 10}),
	}
	next := &Segment{
		Kind: KindLine, Target: 10, ReqVel: 100, MaxVel: 200,
		MaxAccel: 1000, AccelScale: 1, TermCond: TermParabolic, Active: true,
		Tolerance: 0.1,
		XYZ:       posemath.NewLine(r3.Vector{X: 10}, r3.Vector{X: 10, Y: 10}),
	}
	theta := math.Pi / 4
	want := 2 * math.Sqrt(1000*0.1/math.Cos(theta))
	test.That(t, p.blendVelocity(tc, next), test.ShouldAlmostEqual, want, 1e-9)
}

func TestBlendArcSplice(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{EnableBlendArcs: true})
	test.That(t, p.SetTermCond(TermParabolic, 0.3), test.ShouldBeNil)

	addTestLine(t, p, r3.Vector{X: 10}, 20)
	addTestLine(t, p, r3.Vector{X: 10, Y: 10}, 20)

	test.That(t, p.QueueDepth(), test.ShouldEqual, 3)
	prev, arc, next := p.queue.item(0), p.queue.item(1), p.queue.item(2)

	test.That(t, prev.Kind, test.ShouldEqual, KindLine)
	test.That(t, arc.Kind, test.ShouldEqual, KindCircle)
	test.That(t, next.Kind, test.ShouldEqual, KindLine)

	// both joins are tangent, the arc shares the programmed move's id
	test.That(t, prev.TermCond, test.ShouldEqual, TermTangent)
	test.That(t, arc.TermCond, test.ShouldEqual, TermTangent)
	test.That(t, arc.ID, test.ShouldEqual, prev.ID)
	test.That(t, arc.AccelScale, test.ShouldAlmostEqual, 1/math.Sqrt2, 1e-12)

	// radius bound by v^2 <= a_n * R at the requested 20
	aNormal := 1000 / math.Sqrt2 * 0.98
	wantR := 20 * 20 / aNormal
	test.That(t, arc.Circle.Radius, test.ShouldAlmostEqual, wantR, 1e-6)

	// neighbours were trimmed back by the same retreat distance
	test.That(t, prev.Target, test.ShouldAlmostEqual, 10-wantR, 1e-6)
	test.That(t, next.Target, test.ShouldAlmostEqual, 10-wantR, 1e-6)

	// the arc is tangent to both lines
	u1 := prev.XYZ.UVec
	test.That(t, arc.Circle.Tangent(0).Dot(u1), test.ShouldAlmostEqual, 1, 1e-9)
	u2 := next.XYZ.UVec
	test.That(t, arc.Circle.Tangent(arc.Circle.Angle).Dot(u2), test.ShouldAlmostEqual, 1, 1e-9)
}

func TestBlendArcPromotesCollinear(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{EnableBlendArcs: true})
	test.That(t, p.SetTermCond(TermParabolic, 0.3), test.ShouldBeNil)

	addTestLine(t, p, r3.Vector{X: 10}, 20)
	addTestLine(t, p, r3.Vector{X: 20, Y: 0.005}, 20)

	// nearly straight continuation: promoted, no arc spliced
	test.That(t, p.QueueDepth(), test.ShouldEqual, 2)
	test.That(t, p.queue.item(0).TermCond, test.ShouldEqual, TermTangent)
}

func TestBlendArcDeclinesReversal(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{EnableBlendArcs: true})
	test.That(t, p.SetTermCond(TermParabolic, 0.3), test.ShouldBeNil)

	addTestLine(t, p, r3.Vector{X: 10}, 20)
	addTestLine(t, p, r3.Vector{}, 20)

	// full reversal: parabolic blending stays in place
	test.That(t, p.QueueDepth(), test.ShouldEqual, 2)
	test.That(t, p.queue.item(0).TermCond, test.ShouldEqual, TermParabolic)
}

func TestBlendArcDisabledByDefault(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{})
	test.That(t, p.SetTermCond(TermParabolic, 0.3), test.ShouldBeNil)

	addTestLine(t, p, r3.Vector{X: 10}, 20)
	addTestLine(t, p, r3.Vector{X: 10, Y: 10}, 20)

	test.That(t, p.QueueDepth(), test.ShouldEqual, 2)
	test.That(t, p.queue.item(0).TermCond, test.ShouldEqual, TermParabolic)

	// the tangent promotion still applies with arcs off
	p2 := newTestPlanner(t, Config{})
	test.That(t, p2.SetTermCond(TermParabolic, 0.3), test.ShouldBeNil)
	addTestLine(t, p2, r3.Vector{X: 10}, 20)
	addTestLine(t, p2, r3.Vector{X: 20}, 20)
	test.That(t, p2.QueueDepth(), test.ShouldEqual, 2)
	test.That(t, p2.queue.item(0).TermCond, test.ShouldEqual, TermTangent)
}

func TestBlendArcFallsBackOnTightTolerance(t *testing.T) {
	t.Parallel()
	p := newTestPlanner(t, Config{EnableBlendArcs: true})
	test.That(t, p.SetTermCond(TermParabolic, 0.05), test.ShouldBeNil)

	addTestLine(t, p, r3.Vector{X: 10}, 20)
	addTestLine(t, p, r3.Vector{X: 10, Y: 10}, 20)

	// the tolerance-bound arc would be slower than the parabolic blend, so
	// the builder declines
	test.That(t, p.QueueDepth(), test.ShouldEqual, 2)
	test.That(t, p.queue.item(0).TermCond, test.ShouldEqual, TermParabolic)
}

// addTestLine appends an XYZ feed line with the conventional test limits.
func addTestLine(t *testing.T, p *Planner, end r3.Vector, vel float64) {
	t.Helper()
	err := p.AddLine(posemath.Pose{Tran: end}, MotionFeed, vel, 80, 1000, 0, false, -1)
	test.That(t, err, test.ShouldBeNil)
}
