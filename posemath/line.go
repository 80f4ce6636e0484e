package posemath

import "github.com/golang/geo/r3"

// Line is a straight cartesian path section parametrised by arclength.
// UVec is defined only when Magnitude exceeds MagnitudeEps.
type Line struct {
	Start     r3.Vector
	End       r3.Vector
	UVec      r3.Vector
	Magnitude float64
}

// NewLine builds a line from start to end. A degenerate (zero-length) line
// has Magnitude 0 and a zero UVec; Point then always returns Start.
func NewLine(start, end r3.Vector) Line {
	disp := end.Sub(start)
	mag := disp.Norm()
	l := Line{Start: start, End: end, Magnitude: mag}
	if mag > MagnitudeEps {
		l.UVec = disp.Mul(1.0 / mag)
	}
	return l
}

// Zero reports whether the line has no extent.
func (l Line) Zero() bool {
	return l.Magnitude <= MagnitudeEps
}

// Point returns the position at the given arclength from Start. Inputs are
// clamped to [0, Magnitude].
func (l Line) Point(dist float64) r3.Vector {
	if l.Zero() {
		return l.Start
	}
	if dist < 0 {
		dist = 0
	} else if dist > l.Magnitude {
		dist = l.Magnitude
	}
	return l.Start.Add(l.UVec.Mul(dist))
}
