package posemath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Circle is a circular or helical cartesian path section. The in-plane basis
// (UTan, UPerp) is orthonormal with UTan pointing from Center through the
// start point, so the position at sweep angle 0 is the start. RHelix is the
// rise along Normal accumulated over the full sweep.
type Circle struct {
	Center r3.Vector
	Normal r3.Vector
	UTan   r3.Vector
	UPerp  r3.Vector
	Radius float64
	Angle  float64
	RHelix r3.Vector
}

// NewCircle parametrises the circle through start and end about center, in
// the plane perpendicular to normal. A sweep that comes out (near) zero is
// taken as a full circle, and turn adds that many further full revolutions.
// Any motion of the endpoint along normal becomes helical rise.
func NewCircle(start, end, center, normal r3.Vector, turn int) (Circle, error) {
	nMag := normal.Norm()
	if nMag <= MagnitudeEps {
		return Circle{}, errors.New("circle normal is degenerate")
	}
	n := normal.Mul(1.0 / nMag)

	radial := start.Sub(center)
	// Keep only the in-plane component so a slightly off-plane start does not
	// tilt the basis.
	radial = radial.Sub(n.Mul(radial.Dot(n)))
	radius := radial.Norm()
	if radius <= MagnitudeEps {
		return Circle{}, errors.New("circle radius is degenerate")
	}
	uTan := radial.Mul(1.0 / radius)
	uPerp := n.Cross(uTan)

	endRadial := end.Sub(center)
	rise := endRadial.Dot(n)
	endRadial = endRadial.Sub(n.Mul(rise))

	angle := math.Atan2(endRadial.Dot(uPerp), endRadial.Dot(uTan))
	if angle < 0 {
		angle += 2 * math.Pi
	}
	if angle < AngleEps {
		angle = 2 * math.Pi
	}
	if turn > 0 {
		angle += 2 * math.Pi * float64(turn)
	}

	startRise := start.Sub(center).Dot(n)
	return Circle{
		Center: center,
		Normal: n,
		UTan:   uTan,
		UPerp:  uPerp,
		Radius: radius,
		Angle:  angle,
		RHelix: n.Mul(rise - startRise),
	}, nil
}

// Length returns the arclength of the full sweep including helical rise.
func (c Circle) Length() float64 {
	planar := c.Angle * c.Radius
	return math.Sqrt(planar*planar + c.RHelix.Norm2())
}

// Point returns the position at the given sweep angle from the start.
func (c Circle) Point(angle float64) r3.Vector {
	if angle < 0 {
		angle = 0
	} else if angle > c.Angle {
		angle = c.Angle
	}
	p := c.Center.
		Add(c.UTan.Mul(c.Radius * math.Cos(angle))).
		Add(c.UPerp.Mul(c.Radius * math.Sin(angle)))
	if c.Angle > 0 {
		p = p.Add(c.RHelix.Mul(angle / c.Angle))
	}
	return p
}

// AngleAtLength converts an arclength along the helix into a sweep angle.
func (c Circle) AngleAtLength(dist float64) float64 {
	if c.Angle <= 0 {
		return 0
	}
	perRadian := math.Sqrt(c.Radius*c.Radius + (c.RHelix.Norm()/c.Angle)*(c.RHelix.Norm()/c.Angle))
	if perRadian <= MagnitudeEps {
		return 0
	}
	return dist / perRadian
}

// PointAtLength returns the position at the given arclength from the start.
func (c Circle) PointAtLength(dist float64) r3.Vector {
	return c.Point(c.AngleAtLength(dist))
}

// Tangent returns the unit tangent at the given sweep angle, including the
// helical pitch component.
func (c Circle) Tangent(angle float64) r3.Vector {
	planar := c.UTan.Mul(-c.Radius * math.Sin(angle)).
		Add(c.UPerp.Mul(c.Radius * math.Cos(angle)))
	if c.Angle > 0 {
		planar = planar.Add(c.RHelix.Mul(1.0 / c.Angle))
	}
	mag := planar.Norm()
	if mag <= MagnitudeEps {
		return r3.Vector{}
	}
	return planar.Mul(1.0 / mag)
}
