package stage

import "sync"

// ControllerStatus is the controller-level status message.
type ControllerStatus struct {
	MotionEnabled bool
	Faulted       bool
}

// ReplyCache keeps the latest status message of each type, per axis where
// applicable. A listener goroutine feeds it from the subsystem's status
// stream while motion code polls it, so access is synchronized. Each
// recorded message gets its own allocation; readers compare pointers to
// tell a fresh message from a re-read of the old one.
type ReplyCache struct {
	mu         sync.RWMutex
	axes       map[string]*AxisStatus
	controller *ControllerStatus
}

// NewReplyCache builds an empty cache.
func NewReplyCache() *ReplyCache {
	return &ReplyCache{axes: make(map[string]*AxisStatus)}
}

// RecordAxisStatus stores a new axis status message.
func (c *ReplyCache) RecordAxisStatus(status AxisStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.axes[status.Axis] = &status
}

// AxisStatus returns the latest status of an axis, nil before the first
// message arrives.
func (c *ReplyCache) AxisStatus(axis Axis) *AxisStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.axes[axis.Name]
}

// RecordControllerStatus stores a new controller status message.
func (c *ReplyCache) RecordControllerStatus(status ControllerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controller = &status
}

// ControllerStatus returns the latest controller status, nil before the
// first message arrives.
func (c *ReplyCache) ControllerStatus() *ControllerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller
}
