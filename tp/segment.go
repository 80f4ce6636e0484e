// Package tp implements the trajectory planner core of a CNC motion kernel:
// a bounded queue of parameterised motion segments consumed by a fixed-period
// cycle driver that emits a nine-axis setpoint every servo tick while
// honouring per-segment velocity, acceleration, blending, feed-override,
// pause/abort and spindle-synchronisation contracts.
package tp

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/opencnc/traject/posemath"
)

// Kind discriminates the geometry carried by a segment.
type Kind int

const (
	// KindLine is a straight move; XYZ, ABC and UVW travel in parallel.
	KindLine Kind = iota + 1
	// KindCircle is a circular or helical move with parallel ABC/UVW travel.
	KindCircle
	// KindRigidTap is a spindle-synchronised tap cycle along an XYZ line.
	KindRigidTap
)

// TermCond describes how a segment hands off to its successor.
type TermCond int

const (
	// TermStop decelerates to rest at the segment end.
	TermStop TermCond = iota + 1
	// TermParabolic blends into the successor by summing velocities while
	// both segments execute.
	TermParabolic
	// TermTangent hands the successor the leftover arclength and the final
	// velocity, giving C1 continuity across the join.
	TermTangent
)

// SyncMode describes spindle synchronisation for a segment.
type SyncMode int

const (
	SyncNone SyncMode = iota
	SyncVelocity
	SyncPosition
)

// MotionType is the canonical command kind, reported through the status
// block and consulted by the feed-override policy.
type MotionType int

const (
	MotionNone MotionType = iota
	MotionTraverse
	MotionFeed
	MotionArc
	MotionTap
)

// TapState is the rigid-tap cycle phase.
type TapState int

const (
	TapTapping TapState = iota
	TapReversing
	TapRetraction
	TapFinalReversal
	TapFinalPlacement
)

const (
	// parabolicAccelScale halves acceleration while two parabolic-blended
	// segments share the axes.
	parabolicAccelScale = 0.5
	// arcAccelScale leaves acceleration headroom for the normal component on
	// blend arcs.
	arcAccelScale = 1 / math.Sqrt2
)

// Segment is one executable motion command (a "TC"). Segments are stored by
// value in the queue ring; their lifetime is the slot's lifetime.
type Segment struct {
	ID     int64
	Kind   Kind
	Motion MotionType

	// Geometry. Lines and rigid taps use XYZ; circles use Circle. ABC and
	// UVW are travelled in parallel, scaled by fractional progress.
	XYZ    posemath.Line
	ABC    posemath.Line
	UVW    posemath.Line
	Circle posemath.Circle

	Target   float64 // total arclength
	Progress float64 // arclength travelled, 0..Target

	ReqVel     float64
	MaxVel     float64
	FinalVel   float64
	CurrentVel float64
	MaxAccel   float64
	AccelScale float64

	TermCond  TermCond
	Tolerance float64

	Sync     SyncMode
	UUPerRev float64
	AtSpeed  bool

	Active   bool
	Blending bool
	AtPeak   bool

	VelAtBlendStart float64

	Outputs     OutputBatch
	Enables     uint32
	IndexRotary int // rotary axis to unlock for this move, -1 for none

	// Rigid-tap state.
	TapState       TapState
	ReversalTarget float64
	RevsAtReversal float64
	tapOrigin      r3.Vector
}

// scaledAccel is the acceleration budget available this tick.
func (tc *Segment) scaledAccel() float64 {
	return tc.MaxAccel * tc.AccelScale
}

// plannedAccel is the acceleration budget the segment will have once it
// activates: parabolic-terminated segments run at half acceleration, which
// the lookahead and blend planning must anticipate before activation applies
// the scale.
func (tc *Segment) plannedAccel() float64 {
	if !tc.Active && tc.TermCond == TermParabolic {
		return tc.MaxAccel * parabolicAccelScale
	}
	return tc.scaledAccel()
}

// remaining is the arclength still to travel.
func (tc *Segment) remaining() float64 {
	return tc.Target - tc.Progress
}

// rotaryOnly reports whether the segment moves rotary axes exclusively; such
// moves are exempt from the tool-tip velocity limit.
func (tc *Segment) rotaryOnly() bool {
	return tc.Kind == KindLine && tc.XYZ.Zero() && tc.UVW.Zero() && !tc.ABC.Zero()
}

// startTangent returns the unit tangent at the segment start, or a zero
// vector when undefined.
func (tc *Segment) startTangent() r3.Vector {
	switch tc.Kind {
	case KindCircle:
		return tc.Circle.Tangent(0)
	default:
		return tc.XYZ.UVec
	}
}

// endTangent returns the unit tangent at the segment end, or a zero vector
// when undefined.
func (tc *Segment) endTangent() r3.Vector {
	switch tc.Kind {
	case KindCircle:
		return tc.Circle.Tangent(tc.Circle.Angle)
	default:
		return tc.XYZ.UVec
	}
}

// poseAt returns the nine-axis position at the given arclength. ABC and UVW
// track the dominant geometry proportionally.
func (tc *Segment) poseAt(progress float64) posemath.Pose {
	frac := 0.0
	if tc.Target > 0 {
		frac = progress / tc.Target
		if frac < 0 {
			frac = 0
		} else if frac > 1 {
			frac = 1
		}
	}
	switch tc.Kind {
	case KindRigidTap:
		return posemath.Pose{
			Tran: tc.XYZ.Point(progress),
			ABC:  tc.ABC.Start,
			UVW:  tc.UVW.Start,
		}
	case KindCircle:
		return posemath.Pose{
			Tran: tc.Circle.PointAtLength(progress),
			ABC:  tc.ABC.Point(frac * tc.ABC.Magnitude),
			UVW:  tc.UVW.Point(frac * tc.UVW.Magnitude),
		}
	default:
		return posemath.Pose{
			Tran: tc.XYZ.Point(frac * tc.XYZ.Magnitude),
			ABC:  tc.ABC.Point(frac * tc.ABC.Magnitude),
			UVW:  tc.UVW.Point(frac * tc.UVW.Magnitude),
		}
	}
}

// pose returns the nine-axis position at the current progress.
func (tc *Segment) pose() posemath.Pose {
	return tc.poseAt(tc.Progress)
}

// endPose returns the nine-axis position at the segment target.
func (tc *Segment) endPose() posemath.Pose {
	return tc.poseAt(tc.Target)
}
