// Package stage controls the XYZ motorized platform installed in the
// test-stand dark box. Motion commands go to the motor-platform worker
// subsystem; completion is observed through the axis status messages the
// worker publishes.
package stage

import (
	"fmt"
	"time"

	"github.com/lsst-camera-dh/jh-ccs-utils/internal/lg"
)

// Axis identifies one of the platform axes, with its approximate range
// of travel in mm and its speed limit in mm/sec.
type Axis struct {
	Name      string
	Index     int
	MaxTravel float64
	MaxSpeed  float64
}

// The three valid axes. X is the bottom horizontal axis traveling across
// the aperture, Y the vertical axis, Z the depth axis moving toward or
// away from the aperture.
var (
	X = Axis{Name: "X", Index: 0, MaxTravel: 480.0, MaxSpeed: 20.0}
	Y = Axis{Name: "Y", Index: 1, MaxTravel: 378.0, MaxSpeed: 20.0}
	Z = Axis{Name: "Z", Index: 2, MaxTravel: 56.5, MaxSpeed: 10.0}
)

func checkAxis(axis Axis) error {
	switch axis {
	case X, Y, Z:
		return nil
	}
	return fmt.Errorf("stage: not a valid axis: %+v", axis)
}

// TimeoutError reports that an axis did not stop moving in the time
// allotted for its motion.
type TimeoutError struct {
	Axis Axis
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("stage: timed out waiting for the %s axis to stop moving", e.Axis.Name)
}

// CommandSender issues asynchronous commands to the motor-platform
// subsystem. *ccs.Subsystem satisfies it.
type CommandSender interface {
	AsynchCommand(args ...any) error
}

// AxisStatus is one status message published for an axis. Each message is
// a distinct value; the cache hands out the same pointer until the next
// message arrives, which is how WaitForStop detects stale data.
type AxisStatus struct {
	Axis     string
	Position float64
	Moving   bool
	Enabled  bool
	Faulted  bool
}

// StatusSource provides the most recent axis status message, nil when
// none has been seen yet.
type StatusSource interface {
	AxisStatus(axis Axis) *AxisStatus
}

// Stage represents the Parker motorized platform. All motion methods
// accept only the X, Y and Z axis values.
type Stage struct {
	sender CommandSender
	status StatusSource
	poll   time.Duration
	logger lg.Logger
}

// StageOption configures a Stage.
type StageOption func(*Stage)

// WithPollInterval overrides the status poll interval.
func WithPollInterval(d time.Duration) StageOption {
	return func(s *Stage) { s.poll = d }
}

// WithLogger attaches a logger for motion diagnostics.
func WithLogger(logger lg.Logger) StageOption {
	return func(s *Stage) { s.logger = logger }
}

// New builds a Stage over a command sender and a status source.
func New(sender CommandSender, status StatusSource, opts ...StageOption) *Stage {
	s := &Stage{
		sender: sender,
		status: status,
		poll:   250 * time.Millisecond,
		logger: lg.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enable enables motion on the given axis.
func (s *Stage) Enable(axis Axis) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return s.sender.AsynchCommand("changeAxisEnable", axis.Name, true)
}

// Disable disables motion on the given axis.
func (s *Stage) Disable(axis Axis) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return s.sender.AsynchCommand("changeAxisEnable", axis.Name, false)
}

// MoveTo moves the axis to the given coordinate in mm, at up to speed
// mm/sec, and waits for the motion to finish. Speed is capped at the
// axis limit.
func (s *Stage) MoveTo(axis Axis, position, speed float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if speed > axis.MaxSpeed {
		speed = axis.MaxSpeed
	}
	timeout := axis.MaxTravel/speed + 1.0
	s.logger.Debug("moveAxisAbsolute",
		lg.String("axis", axis.Name),
		lg.Float64("position", position),
		lg.Float64("speed", speed))
	if err := s.sender.AsynchCommand("moveAxisAbsolute", axis.Name, position, speed); err != nil {
		return err
	}
	return s.WaitForStop(axis, timeout)
}

// MoveBy changes the axis coordinate by the given amount in mm, at up to
// speed mm/sec, and waits for the motion to finish. The starting position
// is the one current when the command begins execution.
func (s *Stage) MoveBy(axis Axis, change, speed float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if speed > axis.MaxSpeed {
		speed = axis.MaxSpeed
	}
	// 1/10 second to get up to speed and to stop; d is the distance
	// covered while changing speed at the ends.
	accel := 10.0 * speed
	d := accel * 0.1 * 0.1
	moveTime := 0.1 + (change-d)/speed + 0.1
	s.logger.Debug("moveAxisRelative",
		lg.String("axis", axis.Name),
		lg.Float64("change", change),
		lg.Float64("moveTime", moveTime))
	if err := s.sender.AsynchCommand("moveAxisRelative", axis.Name, change, moveTime); err != nil {
		return err
	}
	return s.WaitForStop(axis, moveTime+1.0)
}

// Home brings the given axes to their home positions and resets their
// coordinates to zero. The home position is just inside the boundary set
// by the negative limit switch. Homing runs at maximum speed.
func (s *Stage) Home(axes ...Axis) error {
	for _, axis := range axes {
		if err := checkAxis(axis); err != nil {
			return err
		}
		timeout := axis.MaxTravel / axis.MaxSpeed
		if err := s.sender.AsynchCommand("homeAxis", axis.Name); err != nil {
			return err
		}
		if err := s.WaitForStop(axis, timeout); err != nil {
			return err
		}
	}
	return nil
}

// ClearFaults clears fault flags on all axes and for the controller. A
// fault whose cause persists is raised again immediately.
func (s *Stage) ClearFaults() error {
	return s.sender.AsynchCommand("clearAllFaults")
}

// Stop stops motion immediately on all axes and discards any commands the
// worker subsystem has queued. This raises fault flags that must be
// cleared before the axes can move again.
func (s *Stage) Stop() error {
	return s.sender.AsynchCommand("stopAllMotion")
}

// WaitForStop waits until the status messages indicate the axis has
// stopped moving, allowing timeout seconds plus a grace period. A fresh
// status message is required before the in-motion flag is trusted, so a
// report captured before the move began cannot satisfy the wait.
func (s *Stage) WaitForStop(axis Axis, timeout float64) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	deadline := time.Now().Add(time.Duration((timeout + 2.0) * float64(time.Second)))

	old := s.status.AxisStatus(axis)
	status := s.status.AxisStatus(axis)
	for status == old {
		time.Sleep(s.poll)
		if time.Now().After(deadline) {
			return &TimeoutError{Axis: axis}
		}
		status = s.status.AxisStatus(axis)
	}
	for status.Moving {
		time.Sleep(s.poll)
		if time.Now().After(deadline) {
			return &TimeoutError{Axis: axis}
		}
		status = s.status.AxisStatus(axis)
	}
	return nil
}
