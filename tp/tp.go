package tp

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/opencnc/traject/logging"
	"github.com/opencnc/traject/posemath"
)

// Defaults for Config fields left zero.
const (
	DefaultQueueSize      = 32
	DefaultLookaheadDepth = 8
)

// Config carries the planner tunables fixed at creation.
type Config struct {
	// QueueSize is the motion queue capacity.
	QueueSize int
	// LookaheadDepth bounds the reverse-reachability walk after each append.
	LookaheadDepth int
	// CycleTime is the servo period in seconds.
	CycleTime float64
	// Vmax is the default velocity cap handed to segments.
	Vmax float64
	// Vlimit is the tool-tip velocity ceiling.
	Vlimit float64
	// Amax is the default acceleration cap.
	Amax float64
	// EnableBlendArcs turns on tangent-arc corner blending between lines.
	// Off by default; corners then blend parabolically.
	EnableBlendArcs bool
}

// Planner owns the motion queue and the per-tick cycle driver. The Add* and
// control methods belong to the (non-real-time) producer; RunCycle belongs
// to the real-time consumer. The two sides share only the queue and the
// status block, per the single-producer/single-consumer contract.
type Planner struct {
	logger logging.Logger
	hw     Hardware

	queue *queue

	cycleTime float64
	vMax      float64
	iniMaxVel float64
	vLimit    float64
	aMax      float64

	lookaheadDepth  int
	enableBlendArcs bool

	currentPos posemath.Pose
	goalPos    posemath.Pose

	nextID int64
	execID int64

	termCond  TermCond
	tolerance float64

	done     bool
	pausing  bool
	aborting bool

	feedScale float64

	uuPerRev     float64
	velocityMode bool

	pendingOutputs OutputBatch
	enablesCurrent uint32

	spindle spindleState

	status Status
}

// New creates a planner with the given configuration. A nil hardware shim is
// replaced by NopHardware.
func New(cfg Config, hw Hardware, logger logging.Logger) (*Planner, error) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.LookaheadDepth == 0 {
		cfg.LookaheadDepth = DefaultLookaheadDepth
	}
	var err error
	if cfg.QueueSize < 2 {
		err = multierr.Append(err, errors.Wrap(ErrInvalidArgument, "queue size must be at least 2"))
	}
	if cfg.CycleTime <= 0 {
		err = multierr.Append(err, errors.Wrap(ErrInvalidArgument, "cycle time must be positive"))
	}
	if cfg.Vmax <= 0 {
		err = multierr.Append(err, errors.Wrap(ErrInvalidArgument, "vmax must be positive"))
	}
	if cfg.Vlimit <= 0 {
		err = multierr.Append(err, errors.Wrap(ErrInvalidArgument, "vlimit must be positive"))
	}
	if cfg.Amax <= 0 {
		err = multierr.Append(err, errors.Wrap(ErrInvalidArgument, "amax must be positive"))
	}
	if err != nil {
		return nil, err
	}
	if hw == nil {
		hw = NopHardware()
	}
	p := &Planner{
		logger:          logger,
		hw:              hw,
		queue:           newQueue(cfg.QueueSize),
		cycleTime:       cfg.CycleTime,
		vMax:            cfg.Vmax,
		iniMaxVel:       cfg.Vmax,
		vLimit:          cfg.Vlimit,
		aMax:            cfg.Amax,
		lookaheadDepth:  cfg.LookaheadDepth,
		enableBlendArcs: cfg.EnableBlendArcs,
	}
	p.Init()
	return p, nil
}

// Init resets the planner to its initial state: zero pose, empty queue,
// defaults restored. Configuration from New is kept.
func (p *Planner) Init() {
	p.queue.init()
	p.currentPos = posemath.Pose{}
	p.goalPos = posemath.Pose{}
	p.nextID = 0
	p.execID = 0
	p.termCond = TermStop
	p.tolerance = 0
	p.done = true
	p.pausing = false
	p.aborting = false
	p.feedScale = 1
	p.uuPerRev = 0
	p.velocityMode = false
	p.pendingOutputs = OutputBatch{}
	p.enablesCurrent = 0
	p.spindle.reset()
	p.status = Status{
		Done:              true,
		Pos:               p.currentPos,
		WaitingForIndex:   invalidID,
		WaitingForAtspeed: invalidID,
	}
}

// Clear soft-clears runtime state: the queue empties, flags and staged
// outputs reset, but pose, ids and configuration survive.
func (p *Planner) Clear() {
	p.queue.init()
	p.goalPos = p.currentPos
	p.done = true
	p.pausing = false
	p.aborting = false
	p.pendingOutputs = OutputBatch{}
	p.spindle.sync = false
	p.spindle.syncAccel = 0
	p.spindle.waitingForIndex = invalidID
	p.spindle.waitingForAtspeed = invalidID
	p.status.SpindleIndexEnable = false
	p.execID = 0
	p.updateStatus(nil, 0)
}

// SetCycleTime sets the servo period in seconds.
func (p *Planner) SetCycleTime(t float64) error {
	if t <= 0 {
		return errors.Wrap(ErrInvalidArgument, "cycle time must be positive")
	}
	p.cycleTime = t
	return nil
}

// SetVmax sets the velocity caps for subsequent segments: vMax bounds every
// move, iniMaxVel additionally bounds the request.
func (p *Planner) SetVmax(vMax, iniMaxVel float64) error {
	if vMax <= 0 || iniMaxVel <= 0 {
		return errors.Wrap(ErrInvalidArgument, "vmax must be positive")
	}
	p.vMax = vMax
	p.iniMaxVel = iniMaxVel
	return nil
}

// SetVlimit sets the tool-tip velocity ceiling.
func (p *Planner) SetVlimit(v float64) error {
	if v <= 0 {
		return errors.Wrap(ErrInvalidArgument, "vlimit must be positive")
	}
	p.vLimit = v
	return nil
}

// SetAmax sets the default acceleration cap.
func (p *Planner) SetAmax(a float64) error {
	if a <= 0 {
		return errors.Wrap(ErrInvalidArgument, "amax must be positive")
	}
	p.aMax = a
	return nil
}

// SetID sets the id assigned to the next appended segment.
func (p *Planner) SetID(id int64) error {
	if id < 0 {
		return errors.Wrap(ErrInvalidArgument, "motion id must be non-negative")
	}
	p.nextID = id
	return nil
}

// SetTermCond sets the termination condition and path tolerance applied to
// subsequent segments.
func (p *Planner) SetTermCond(cond TermCond, tolerance float64) error {
	switch cond {
	case TermStop, TermParabolic, TermTangent:
	default:
		return errors.Wrap(ErrInvalidArgument, "unknown termination condition")
	}
	if tolerance < 0 {
		return errors.Wrap(ErrInvalidArgument, "tolerance must be non-negative")
	}
	p.termCond = cond
	p.tolerance = tolerance
	return nil
}

// SetPos teleports the planner: current and goal pose both move to pose.
// Only valid while motion is stopped.
func (p *Planner) SetPos(pose posemath.Pose) error {
	p.currentPos = pose
	p.goalPos = pose
	p.status.Pos = pose
	return nil
}

// SetFeedScale sets the net feed override applied to feed moves.
func (p *Planner) SetFeedScale(s float64) error {
	if s < 0 {
		return errors.Wrap(ErrInvalidArgument, "feed scale must be non-negative")
	}
	p.feedScale = s
	return nil
}

// SetSpindleSync configures spindle synchronisation for subsequent
// segments. uuPerRev of zero turns synchronisation off.
func (p *Planner) SetSpindleSync(uuPerRev float64, velocityMode bool) error {
	if uuPerRev < 0 {
		return errors.Wrap(ErrInvalidArgument, "uu per rev must be non-negative")
	}
	p.uuPerRev = uuPerRev
	p.velocityMode = velocityMode
	return nil
}

// SetSpindleFeed publishes the spindle feedback for the next tick. Called by
// the host before RunCycle.
func (p *Planner) SetSpindleFeed(feed SpindleFeed) {
	p.spindle.feed = feed
}

// SetDout stages a digital output change applied when the next appended
// segment starts executing. The end value is reserved.
func (p *Planner) SetDout(index int, start, end bool) error {
	if !p.pendingOutputs.stageDigital(index, start) {
		return errors.Wrapf(ErrInvalidArgument, "digital output %d out of range", index)
	}
	return nil
}

// SetAout stages an analog output change applied when the next appended
// segment starts executing. The end value is reserved.
func (p *Planner) SetAout(index int, start, end float64) error {
	if !p.pendingOutputs.stageAnalog(index, start) {
		return errors.Wrapf(ErrInvalidArgument, "analog output %d out of range", index)
	}
	return nil
}

// Pause decelerates motion to rest without discarding the queue.
func (p *Planner) Pause() {
	p.pausing = true
}

// Resume continues motion after a pause.
func (p *Planner) Resume() {
	p.pausing = false
}

// Abort drains velocity to zero and then discards the queue. Level
// triggered; Add* calls fail until the drain completes.
func (p *Planner) Abort() {
	p.aborting = true
	p.pausing = true
}

// GetExecID returns the id of the segment currently executing.
func (p *Planner) GetExecID() int64 {
	return p.execID
}

// GetPos returns the current commanded pose.
func (p *Planner) GetPos() posemath.Pose {
	return p.currentPos
}

// GetMotionType returns the canonical kind of the executing segment.
func (p *Planner) GetMotionType() MotionType {
	return p.status.MotionType
}

// IsDone reports whether the queue has drained and motion is complete.
func (p *Planner) IsDone() bool {
	return p.done
}

// QueueDepth returns the number of queued segments.
func (p *Planner) QueueDepth() int {
	return p.queue.len()
}

// ActiveDepth returns the number of queued segments that have started.
func (p *Planner) ActiveDepth() int {
	return p.activeDepth()
}

// Status returns the last published status snapshot.
func (p *Planner) Status() Status {
	return p.status
}

// initSegment fills the runtime fields common to every Add* path. Target
// must already be set.
func (p *Planner) initSegment(tc *Segment, motion MotionType, vel, iniMaxVel, acc float64, enables uint32, atSpeed bool) {
	tc.Motion = motion
	tc.Progress = 0
	tc.CurrentVel = 0
	tc.FinalVel = 0
	tc.AccelScale = 1
	tc.MaxAccel = acc
	tc.TermCond = p.termCond
	tc.Tolerance = p.tolerance
	tc.Enables = enables
	tc.AtSpeed = atSpeed
	tc.IndexRotary = -1

	if p.uuPerRev > 0 {
		if p.velocityMode {
			tc.Sync = SyncVelocity
		} else {
			tc.Sync = SyncPosition
		}
		tc.UUPerRev = p.uuPerRev
	}

	tc.ReqVel = vel
	if tc.ReqVel > iniMaxVel {
		tc.ReqVel = iniMaxVel
	}
	if tc.ReqVel > p.iniMaxVel {
		tc.ReqVel = p.iniMaxVel
	}
	tc.MaxVel = iniMaxVel
	if tc.MaxVel > p.vMax {
		tc.MaxVel = p.vMax
	}
	// Sample-rate cap: every segment must last at least two ticks.
	if nyq := 0.5 * tc.Target / p.cycleTime; tc.MaxVel > nyq {
		tc.MaxVel = nyq
	}
	if tc.ReqVel > tc.MaxVel {
		tc.ReqVel = tc.MaxVel
	}

	tc.Outputs = p.pendingOutputs
	p.pendingOutputs = OutputBatch{}
}

func validateAddArgs(vel, iniMaxVel, acc float64) error {
	if vel <= 0 || iniMaxVel <= 0 || acc <= 0 {
		return errors.Wrap(ErrInvalidArgument, "velocity and acceleration must be positive")
	}
	return nil
}

// AddLine appends a straight move from the goal pose to end. The corner
// against the previous segment may be promoted to a tangent join or replaced
// by a blend arc before the line is enqueued.
func (p *Planner) AddLine(
	end posemath.Pose,
	motion MotionType,
	vel, iniMaxVel, acc float64,
	enables uint32,
	atSpeed bool,
	indexRotary int,
) error {
	if p.aborting {
		return ErrAborting
	}
	if err := validateAddArgs(vel, iniMaxVel, acc); err != nil {
		return err
	}
	if p.queue.len() >= p.queue.cap() {
		return ErrQueueFull
	}

	tc := Segment{Kind: KindLine}
	tc.XYZ = posemath.NewLine(p.goalPos.Tran, end.Tran)
	tc.ABC = posemath.NewLine(p.goalPos.ABC, end.ABC)
	tc.UVW = posemath.NewLine(p.goalPos.UVW, end.UVW)
	switch {
	case !tc.XYZ.Zero():
		tc.Target = tc.XYZ.Magnitude
	case !tc.UVW.Zero():
		tc.Target = tc.UVW.Magnitude
	case !tc.ABC.Zero():
		tc.Target = tc.ABC.Magnitude
	default:
		return errors.Wrap(ErrInvalidArgument, "zero length line")
	}

	p.initSegment(&tc, motion, vel, iniMaxVel, acc, enables, atSpeed)
	tc.IndexRotary = indexRotary

	p.handleBlendArc(&tc)

	tc.ID = p.nextID
	if err := p.queue.put(tc); err != nil {
		return err
	}
	p.goalPos = end
	p.nextID++
	p.done = false
	p.optimize()
	return nil
}

// AddCircle appends a circular or helical move from the goal pose to end
// about center, in the plane perpendicular to normal, with turn extra full
// revolutions.
func (p *Planner) AddCircle(
	end posemath.Pose,
	center, normal r3.Vector,
	turn int,
	motion MotionType,
	vel, iniMaxVel, acc float64,
	enables uint32,
	atSpeed bool,
) error {
	if p.aborting {
		return ErrAborting
	}
	if err := validateAddArgs(vel, iniMaxVel, acc); err != nil {
		return err
	}
	if p.queue.len() >= p.queue.cap() {
		return ErrQueueFull
	}

	circle, err := posemath.NewCircle(p.goalPos.Tran, end.Tran, center, normal, turn)
	if err != nil {
		return errors.Wrap(ErrInvalidArgument, err.Error())
	}
	tc := Segment{Kind: KindCircle, Circle: circle}
	tc.ABC = posemath.NewLine(p.goalPos.ABC, end.ABC)
	tc.UVW = posemath.NewLine(p.goalPos.UVW, end.UVW)
	tc.Target = circle.Length()

	p.initSegment(&tc, motion, vel, iniMaxVel, acc, enables, atSpeed)

	tc.ID = p.nextID
	if err := p.queue.put(tc); err != nil {
		return err
	}
	p.goalPos = end
	p.nextID++
	p.done = false
	p.optimize()
	return nil
}

// AddRigidTap appends a rigid tapping cycle along the line from the goal
// pose to end. Position synchronisation must be configured. The goal pose is
// not advanced: the cycle places the tool back at its start.
func (p *Planner) AddRigidTap(
	end posemath.Pose,
	vel, iniMaxVel, acc float64,
	enables uint32,
) error {
	if p.aborting {
		return ErrAborting
	}
	if err := validateAddArgs(vel, iniMaxVel, acc); err != nil {
		return err
	}
	if p.uuPerRev <= 0 || p.velocityMode {
		return ErrUnsyncedRigidTap
	}
	if p.queue.len() >= p.queue.cap() {
		return ErrQueueFull
	}

	tc := Segment{Kind: KindRigidTap, TapState: TapTapping}
	tc.XYZ = posemath.NewLine(p.goalPos.Tran, end.Tran)
	if tc.XYZ.Zero() {
		return errors.Wrap(ErrInvalidArgument, "zero length tap")
	}
	tc.ABC = posemath.NewLine(p.goalPos.ABC, p.goalPos.ABC)
	tc.UVW = posemath.NewLine(p.goalPos.UVW, p.goalPos.UVW)
	tc.ReversalTarget = tc.XYZ.Magnitude
	// Overrun allowance: room for the spindle to stop and reverse while
	// still synchronised.
	tc.Target = tc.ReversalTarget + tapOverrunRevs*p.uuPerRev
	tc.tapOrigin = p.goalPos.Tran

	p.initSegment(&tc, MotionTap, vel, iniMaxVel, acc, enables, true)
	tc.TermCond = TermStop
	tc.Sync = SyncPosition

	tc.ID = p.nextID
	if err := p.queue.put(tc); err != nil {
		return err
	}
	p.nextID++
	p.done = false
	p.optimize()
	return nil
}

// RunCycle is the per-tick real-time entry point: it completes and activates
// segments, runs the spindle-sync controller and the profiler, blends into
// the successor, advances the commanded pose and refreshes the status
// block. It never blocks and never allocates; all waiting is expressed by
// returning without advancing motion.
func (p *Planner) RunCycle() {
	tc := p.queue.item(0)
	if tc == nil {
		if p.aborting {
			p.abortReset()
		} else {
			p.emptyQueueReset()
		}
		return
	}

	// complete the head if it has reached its target
	if tc.Progress >= tc.Target && p.spindle.waitingForAtspeed != tc.ID {
		p.completeSegment(tc)
		tc = p.queue.item(0)
		if tc == nil {
			if p.aborting {
				p.abortReset()
			} else {
				p.emptyQueueReset()
			}
			return
		}
	}

	var nexttc *Segment
	termCond := tc.TermCond
	if termCond != TermStop {
		nexttc = p.queue.item(1)
	}
	if nexttc != nil {
		// a successor that must first wait on the spindle cannot be blended
		// into this tick
		needSync := nexttc.Sync == SyncPosition && !p.spindle.sync
		needAtspeed := nexttc.AtSpeed && !p.spindle.feed.AtSpeed
		if needSync || needAtspeed {
			nexttc = nil
			termCond = TermStop
		}
	}

	if p.aborting {
		stopped := tc.CurrentVel <= velEps && (nexttc == nil || nexttc.CurrentVel <= velEps)
		if stopped {
			p.abortReset()
			return
		}
		// otherwise keep profiling: the zero feed override drains velocity
	}

	if p.spindle.waitingForAtspeed != invalidID {
		switch {
		case p.spindle.waitingForAtspeed != tc.ID:
			p.logger.Debugw("clearing stale spindle at-speed wait",
				"waitingFor", p.spindle.waitingForAtspeed, "head", tc.ID)
			p.spindle.waitingForAtspeed = invalidID
		case !p.spindle.feed.AtSpeed:
			p.updateStatus(tc, tc.CurrentVel)
			return
		default:
			p.spindle.waitingForAtspeed = invalidID
		}
	}

	if !tc.Active {
		if !p.activateSegment(tc) {
			p.updateStatus(tc, tc.CurrentVel)
			return
		}
	}

	if p.spindle.waitingForIndex != invalidID {
		switch {
		case p.spindle.waitingForIndex != tc.ID:
			p.logger.Debugw("clearing stale spindle index wait",
				"waitingFor", p.spindle.waitingForIndex, "head", tc.ID)
			p.spindle.waitingForIndex = invalidID
		case p.spindle.feed.IndexEnable:
			// index pulse not seen yet
			p.updateStatus(tc, 0)
			return
		default:
			// hardware cleared the enable: the count starts from the index
			p.spindle.waitingForIndex = invalidID
			p.status.SpindleIndexEnable = false
			p.spindle.sync = true
			p.spindle.syncAccel = 1
			p.spindle.revsPrev = 0
		}
	}

	if tc.Kind == KindRigidTap {
		p.updateTapState(tc)
	}
	if tc.Sync == SyncNone && p.spindle.sync {
		p.spindle.sync = false
	}

	if nexttc != nil && !nexttc.Active {
		nexttc.Active = true
		nexttc.CurrentVel = 0
		if tc.TermCond == TermParabolic || nexttc.TermCond == TermParabolic {
			nexttc.AccelScale = parabolicAccelScale
		}
		nexttc.Outputs.apply(p.hw)
	}

	if tc.Sync != SyncNone {
		p.runSyncController(tc, nexttc)
		if nexttc != nil && nexttc.Sync != SyncNone {
			nexttc.ReqVel = tc.ReqVel
		}
	}

	var blendVel float64
	if termCond == TermParabolic && nexttc != nil {
		blendVel = p.blendVelocity(tc, nexttc)
	}

	before := tc.pose()
	onFinalDecel := p.advanceSegment(tc)
	disp := tc.pose().Sub(before)
	primary := tc
	statusVel := tc.CurrentVel

	switch {
	case termCond == TermTangent && nexttc != nil && tc.Progress > tc.Target:
		// the segment finished mid-tick: roll the overshoot and the velocity
		// into the successor for C1 continuity
		over := tc.Progress - tc.Target
		tc.Progress = tc.Target
		nexttc.Progress = over
		nexttc.CurrentVel = tc.CurrentVel
		disp = disp.Add(nexttc.poseAt(over).Sub(nexttc.poseAt(0)))
		primary = nexttc
		statusVel = nexttc.CurrentVel
	case termCond == TermParabolic && nexttc != nil:
		if onFinalDecel && tc.CurrentVel < blendVel {
			tc.Blending = true
		}
		if tc.Blending {
			// hand the successor the velocity the head is shedding
			ov := p.feedOverride(nexttc)
			injected := 0.0
			if ov > velEps {
				injected = (tc.VelAtBlendStart - tc.CurrentVel) / ov
				if injected < 0 {
					injected = 0
				}
			}
			save := nexttc.ReqVel
			nexttc.ReqVel = injected
			nb := nexttc.pose()
			p.advanceSegment(nexttc)
			disp = disp.Add(nexttc.pose().Sub(nb))
			nexttc.ReqVel = save
			statusVel = tc.CurrentVel + nexttc.CurrentVel
			if nexttc.CurrentVel > tc.CurrentVel {
				primary = nexttc
			}
		}
	}

	p.currentPos = p.currentPos.Add(disp)
	p.updateStatus(primary, statusVel)
}

// activateSegment starts the head segment. Returns false when activation
// must stall this tick (spindle not at speed, rotary still locked, or
// spindle index not yet armed).
func (p *Planner) activateSegment(tc *Segment) bool {
	if tc.AtSpeed && !p.spindle.feed.AtSpeed {
		p.spindle.waitingForAtspeed = tc.ID
		return false
	}
	if tc.IndexRotary >= 0 && !p.hw.RotaryIsUnlocked(tc.IndexRotary) {
		p.hw.RotaryUnlock(tc.IndexRotary, true)
		return false
	}

	tc.Active = true
	tc.CurrentVel = 0
	if tc.TermCond == TermParabolic {
		tc.AccelScale = parabolicAccelScale
	}
	if tc.Kind == KindRigidTap {
		p.spindle.speedCmd = p.spindle.feed.SpeedIn
	}
	tc.Outputs.apply(p.hw)

	if tc.Sync == SyncPosition && !p.spindle.sync {
		// arm the encoder index so the count starts from a known angle
		p.spindle.waitingForIndex = tc.ID
		p.status.SpindleIndexEnable = true
		p.spindle.feed.IndexEnable = true
		p.spindle.offset = 0
		return false
	}
	return true
}

// completeSegment retires the head segment once its target is reached.
func (p *Planner) completeSegment(tc *Segment) {
	if tc.Sync == SyncPosition && tc.UUPerRev > 0 {
		// keep the angular reference continuous into the next synced move
		p.spindle.offset += tc.Target / tc.UUPerRev
	}
	if tc.IndexRotary >= 0 {
		// relock the rotary now that the move is done
		p.hw.RotaryUnlock(tc.IndexRotary, false)
	}
	p.enablesCurrent = tc.Enables
	p.queue.popFront()
}

// emptyQueueReset settles the planner once the queue drains.
func (p *Planner) emptyQueueReset() {
	p.queue.init()
	p.goalPos = p.currentPos
	p.done = true
	p.pausing = false
	p.spindle.waitingForIndex = invalidID
	p.spindle.waitingForAtspeed = invalidID
	p.status.SpindleIndexEnable = false
	p.execID = 0
	p.updateStatus(nil, 0)
}

// abortReset performs the full reset once an abort has drained motion.
func (p *Planner) abortReset() {
	p.queue.init()
	p.goalPos = p.currentPos
	p.done = true
	p.pausing = false
	p.aborting = false
	p.pendingOutputs = OutputBatch{}
	p.spindle.sync = false
	p.spindle.syncAccel = 0
	p.spindle.waitingForIndex = invalidID
	p.spindle.waitingForAtspeed = invalidID
	p.status.SpindleIndexEnable = false
	p.execID = 0
	p.updateStatus(nil, 0)
}
