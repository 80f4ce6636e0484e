// Package posemath implements the pose algebra and cartesian path primitives
// used by the trajectory planner. A pose carries nine axes: the familiar XYZ
// translation plus rotary ABC and auxiliary UVW axes. Rotary and auxiliary
// axes are treated as mutually orthogonal linear axes, so the whole pose is
// an additive group and no rotation algebra is involved.
package posemath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats/scalar"
)

// MagnitudeEps is the threshold below which a vector magnitude is treated as
// zero and unit directions are undefined.
const MagnitudeEps = 1e-10

// AngleEps is the threshold below which two unit vectors are considered
// parallel.
const AngleEps = 1e-8

// Pose is a nine-axis machine position.
type Pose struct {
	Tran r3.Vector // x, y, z
	ABC  r3.Vector // rotary a, b, c
	UVW  r3.Vector // auxiliary u, v, w
}

// Add returns the axis-wise sum of two poses.
func (p Pose) Add(o Pose) Pose {
	return Pose{
		Tran: p.Tran.Add(o.Tran),
		ABC:  p.ABC.Add(o.ABC),
		UVW:  p.UVW.Add(o.UVW),
	}
}

// Sub returns the axis-wise difference of two poses.
func (p Pose) Sub(o Pose) Pose {
	return Pose{
		Tran: p.Tran.Sub(o.Tran),
		ABC:  p.ABC.Sub(o.ABC),
		UVW:  p.UVW.Sub(o.UVW),
	}
}

// Scale returns the pose with every axis multiplied by s.
func (p Pose) Scale(s float64) Pose {
	return Pose{
		Tran: p.Tran.Mul(s),
		ABC:  p.ABC.Mul(s),
		UVW:  p.UVW.Mul(s),
	}
}

// Array returns the nine axis values in canonical order
// (x, y, z, a, b, c, u, v, w).
func (p Pose) Array() [9]float64 {
	return [9]float64{
		p.Tran.X, p.Tran.Y, p.Tran.Z,
		p.ABC.X, p.ABC.Y, p.ABC.Z,
		p.UVW.X, p.UVW.Y, p.UVW.Z,
	}
}

// ApproxEqual reports whether every axis of the two poses agrees within eps.
func (p Pose) ApproxEqual(o Pose, eps float64) bool {
	pa, oa := p.Array(), o.Array()
	for i := range pa {
		if !scalar.EqualWithinAbs(pa[i], oa[i], eps) {
			return false
		}
	}
	return true
}
