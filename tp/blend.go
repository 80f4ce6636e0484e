package tp

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/opencnc/traject/posemath"
)

const (
	// critAngle bounds the corner angles worth arcing over: below it the
	// two lines are effectively tangent already, above its supplement the
	// corner is effectively a reversal.
	critAngle = 0.02
	// blendRatio is the largest share of the successor a blend arc may
	// consume.
	blendRatio = 0.5
	// arcNormalSafety derates the normal acceleration budget of a blend arc.
	arcNormalSafety = 0.98
)

// blendVelocity is the velocity at which a parabolic handoff between tc and
// nexttc should begin: low enough that each segment can cover its own half
// of the blend, capped by the successor's request and, when a path tolerance
// is set, by the corner deviation that tolerance allows.
func (p *Planner) blendVelocity(tc, nexttc *Segment) float64 {
	aTC := tc.plannedAccel()
	aNext := nexttc.plannedAccel()
	if aTC <= 0 || aNext <= 0 {
		return 0
	}

	blendVel := math.Sqrt(tc.Target * aTC)
	if v := math.Sqrt(nexttc.Target * aNext); v < blendVel {
		blendVel = v
	}
	if nexttc.ReqVel < blendVel {
		blendVel = nexttc.ReqVel
	}
	if aTC < aNext {
		blendVel *= aTC / aNext
	}

	if nexttc.Tolerance > 0 {
		u1, u2 := tc.endTangent(), nexttc.startTangent()
		if u1.Norm() > posemath.MagnitudeEps && u2.Norm() > posemath.MagnitudeEps {
			omega := intersectionAngle(u1, u2)
			theta := (math.Pi - omega) / 2
			if cos := math.Cos(theta); cos > posemath.MagnitudeEps {
				if v := 2 * math.Sqrt(aTC*nexttc.Tolerance/cos); v < blendVel {
					blendVel = v
				}
			}
		}
	}
	return blendVel
}

// intersectionAngle is the angle between two unit tangents: 0 for straight
// continuation, pi for a full reversal.
func intersectionAngle(u1, u2 r3.Vector) float64 {
	dot := u1.Dot(u2)
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	return math.Acos(dot)
}

// handleBlendArc inspects the corner between the queue tail and the incoming
// line before the line is enqueued. Tangent corners are promoted so the
// lookahead can chain through them. Sharper corners, when blend arcs are
// enabled and geometry allows, are replaced by a tangent circular arc that
// respects the path tolerance, the normal-acceleration radius bound and the
// sample rate; any failure falls back to the parabolic blend already in
// place.
func (p *Planner) handleBlendArc(next *Segment) {
	prev := p.queue.last()
	if prev == nil {
		return
	}
	// Arcs join plain XYZ lines only.
	if prev.Kind != KindLine || next.Kind != KindLine {
		return
	}
	if !prev.ABC.Zero() || !prev.UVW.Zero() || !next.ABC.Zero() || !next.UVW.Zero() {
		return
	}
	if prev.XYZ.Zero() || next.XYZ.Zero() {
		return
	}
	if prev.Progress > 0 || prev.TermCond != TermParabolic {
		return
	}

	u1, u2 := prev.XYZ.UVec, next.XYZ.UVec
	omega := intersectionAngle(u1, u2)
	if omega < critAngle {
		// straight continuation: no arc needed
		prev.TermCond = TermTangent
		return
	}
	if omega > math.Pi-critAngle {
		// reversal: leave the parabolic blend in place
		return
	}
	if !p.enableBlendArcs {
		return
	}
	// The splice needs room for the arc now and the trimmed line afterwards.
	if p.queue.len()+2 > p.queue.cap() {
		return
	}

	theta := (math.Pi - omega) / 2
	l1, l2 := prev.Target, next.Target

	tol := prev.Tolerance
	if next.Tolerance > 0 && (tol <= 0 || next.Tolerance < tol) {
		tol = next.Tolerance
	}
	dGeom := math.Min(l1, blendRatio*l2)
	if tol > 0 {
		denom := 1 - math.Sin(theta)
		if denom <= posemath.MagnitudeEps {
			p.logger.Debugw("blend arc rejected, tolerance geometry degenerate", "theta", theta)
			return
		}
		dTol := math.Cos(theta) * tol / denom
		if dTol < dGeom {
			dGeom = dTol
		}
	}
	rGeom := math.Tan(theta) * dGeom

	aMax := math.Min(prev.MaxAccel, next.MaxAccel)
	aNormal := aMax * arcAccelScale * arcNormalSafety
	if aNormal <= 0 {
		return
	}
	vUpper := math.Max(prev.ReqVel, next.ReqVel)
	if v := math.Sqrt(aNormal * rGeom); v < vUpper {
		vUpper = v
	}
	rUpper := math.Min(rGeom, vUpper*vUpper/aNormal)
	tanTheta := math.Tan(theta)
	dUpper := rUpper / tanTheta
	phi := math.Pi - 2*theta

	// The arc must span at least one servo tick at vUpper.
	if vSample := phi * dUpper * tanTheta / p.cycleTime; vUpper > vSample {
		vUpper = vSample
		rUpper = vUpper * vUpper / aNormal
		if rUpper > rGeom {
			rUpper = rGeom
		}
		dUpper = rUpper / tanTheta
	}
	// The surviving lead-in must itself sustain vUpper for a tick.
	if l1-dUpper < vUpper*p.cycleTime {
		dUpper = l1 / (1 + phi*tanTheta)
		vUpper = (l1 - dUpper) / p.cycleTime
		rUpper = dUpper * tanTheta
	}

	if rUpper < posemath.MagnitudeEps {
		p.logger.Debugw("blend arc rejected, radius collapsed", "radius", rUpper)
		return
	}
	if vUpper < p.blendVelocity(prev, next) {
		p.logger.Debugw("blend arc rejected, parabolic blend is faster",
			"arcVel", vUpper)
		return
	}
	if l1-dUpper < 0 {
		p.logger.Debugw("blend arc rejected, lead-in consumed", "d", dUpper)
		return
	}

	corner := prev.XYZ.End
	arcStart := corner.Sub(u1.Mul(dUpper))
	arcEnd := corner.Add(u2.Mul(dUpper))
	binormal := u1.Cross(u2)
	if binormal.Norm() <= posemath.MagnitudeEps {
		return
	}
	binormal = binormal.Normalize()
	toCenter := binormal.Cross(u1)
	center := arcStart.Add(toCenter.Mul(rUpper))

	circle, err := posemath.NewCircle(arcStart, arcEnd, center, binormal, 0)
	if err != nil {
		p.logger.Debugw("blend arc rejected, circle degenerate", "error", err)
		return
	}

	arc := Segment{
		// The arc executes as part of the programmed move it replaces.
		ID:          prev.ID,
		Kind:        KindCircle,
		Motion:      prev.Motion,
		Circle:      circle,
		ABC:         posemath.NewLine(prev.ABC.End, prev.ABC.End),
		UVW:         posemath.NewLine(prev.UVW.End, prev.UVW.End),
		Target:      circle.Length(),
		ReqVel:      vUpper,
		MaxVel:      math.Min(prev.MaxVel, next.MaxVel),
		MaxAccel:    aMax,
		AccelScale:  arcAccelScale,
		TermCond:    TermTangent,
		Tolerance:   0,
		Sync:        prev.Sync,
		UUPerRev:    prev.UUPerRev,
		AtSpeed:     prev.AtSpeed,
		Enables:     prev.Enables,
		IndexRotary: -1,
	}
	if nyq := 0.5 * arc.Target / p.cycleTime; arc.MaxVel > nyq {
		arc.MaxVel = nyq
	}
	if arc.ReqVel > arc.MaxVel {
		arc.ReqVel = arc.MaxVel
	}

	// Trim the neighbours to meet the arc tangentially.
	prev.XYZ = posemath.NewLine(prev.XYZ.Start, arcStart)
	prev.Target = prev.XYZ.Magnitude
	prev.TermCond = TermTangent
	if nyq := 0.5 * prev.Target / p.cycleTime; prev.MaxVel > nyq {
		prev.MaxVel = nyq
	}
	if prev.Target < posemath.MagnitudeEps {
		p.queue.popBack()
	}

	next.XYZ = posemath.NewLine(arcEnd, next.XYZ.End)
	next.Target = next.XYZ.Magnitude
	if nyq := 0.5 * next.Target / p.cycleTime; next.MaxVel > nyq {
		next.MaxVel = nyq
	}

	if err := p.queue.put(arc); err != nil {
		// room was checked above; only reachable if the producer contract
		// was violated
		p.logger.Errorw("blend arc enqueue failed", "error", err)
		return
	}
	p.optimize()
}
