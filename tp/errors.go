package tp

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument is returned by configuration and append calls that
	// receive out-of-range values. No planner state changes.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQueueFull is returned by Add* when the motion queue has no free
	// slot. The goal pose is not advanced.
	ErrQueueFull = errors.New("motion queue full")
	// ErrAborting is returned by Add* while an abort is draining.
	ErrAborting = errors.New("planner is aborting")
	// ErrUnsyncedRigidTap is returned by AddRigidTap when no spindle
	// synchronization is configured.
	ErrUnsyncedRigidTap = errors.New("rigid tap requires spindle synchronization")
)
