package tp

import "github.com/opencnc/traject/posemath"

// Status is the per-tick snapshot published to the host: the new setpoint
// plus everything the UI and the spindle/feed hardware need to observe.
type Status struct {
	Pos        posemath.Pose
	CurrentVel float64
	ReqVel     float64
	// DistanceToGo is the scalar arclength left on the primary segment; DTG
	// is the per-axis vector to that segment's endpoint.
	DistanceToGo float64
	DTG          [9]float64

	ExecID     int64
	MotionType MotionType

	QueueDepth  int
	ActiveDepth int
	Done        bool
	Paused      bool

	SpindleSync     bool
	SpindleSpeedOut float64
	// SpindleIndexEnable asks the hardware to arm the encoder index latch;
	// the hardware answers by clearing SpindleFeed.IndexEnable once the
	// index has been seen and the count zeroed.
	SpindleIndexEnable bool
	WaitingForIndex    int64
	WaitingForAtspeed  int64

	EnablesQueued uint32
}

// updateStatus refreshes the status block at the end of a tick. primary is
// the segment whose identity and distance-to-go the host should see, nil
// when the queue is empty; vel is the observable velocity (the sum of both
// segments' during a parabolic blend).
func (p *Planner) updateStatus(primary *Segment, vel float64) {
	st := &p.status
	st.Pos = p.currentPos
	st.QueueDepth = p.queue.len()
	st.ActiveDepth = p.activeDepth()
	st.Done = p.done
	st.Paused = p.pausing
	st.SpindleSync = p.spindle.sync
	st.SpindleSpeedOut = p.spindle.speedCmd
	st.WaitingForIndex = p.spindle.waitingForIndex
	st.WaitingForAtspeed = p.spindle.waitingForAtspeed

	if primary == nil {
		st.CurrentVel = 0
		st.ReqVel = 0
		st.DistanceToGo = 0
		st.DTG = [9]float64{}
		st.ExecID = 0
		st.MotionType = MotionNone
		st.EnablesQueued = p.enablesCurrent
		return
	}

	st.CurrentVel = vel
	st.ReqVel = primary.ReqVel
	st.DistanceToGo = primary.remaining()
	st.DTG = primary.endPose().Sub(p.currentPos).Array()
	st.ExecID = primary.ID
	st.MotionType = primary.Motion
	st.EnablesQueued = primary.Enables
	p.execID = primary.ID
}

// activeDepth counts queued segments that have started executing.
func (p *Planner) activeDepth() int {
	n := 0
	for i := 0; i < p.queue.len(); i++ {
		if p.queue.item(i).Active {
			n++
		}
	}
	return n
}
