package sender

import (
	"time"
)

// Congestion control constants
const (
	// rttAlpha weights the RTT history in the exponentially weighted moving
	// average. Close to 1 so a single noisy sample barely moves the estimate.
	rttAlpha = 0.9

	// initialRTT seeds the estimate before any acknowledgment arrives
	initialRTT = 100 * time.Millisecond

	// initialWindow is the congestion window at the start of a run
	initialWindow = 1.0

	// initialThreshold is the slow-start threshold at the start of a run
	initialThreshold = 64.0

	// timeoutFactor multiplies the RTT estimate to form the retransmission
	// timeout
	timeoutFactor = 2

	// minWindow is the floor for both the window and the threshold
	minWindow = 1.0
)

// CongestionController owns the sender's RTT estimate, congestion window, and
// slow-start threshold. It is constructed once per run and driven only by
// acknowledgment and timeout events; there is no shared or global state.
type CongestionController struct {
	estimatedRTT time.Duration
	window       float64
	threshold    float64
}

// NewCongestionController creates a controller in slow start with a window of
// one packet
func NewCongestionController() *CongestionController {
	return &CongestionController{
		estimatedRTT: initialRTT,
		window:       initialWindow,
		threshold:    initialThreshold,
	}
}

// OnAck feeds a newly-acknowledged packet's round-trip sample into the RTT
// estimate and grows the congestion window: by one full packet in slow start,
// by roughly one packet per window-full of ACKs in congestion avoidance.
func (c *CongestionController) OnAck(sample time.Duration) {
	c.estimatedRTT = time.Duration(rttAlpha*float64(c.estimatedRTT) + (1-rttAlpha)*float64(sample))

	if c.window < c.threshold {
		c.window++
	} else {
		c.window += 1 / c.window
	}
}

// OnTimeout applies the loss response: the threshold drops to half the current
// window and the window collapses to the new threshold. The caller must invoke
// this once per timeout scan, not once per overdue packet.
func (c *CongestionController) OnTimeout() {
	c.threshold = c.window / 2
	if c.threshold < minWindow {
		c.threshold = minWindow
	}
	c.window = c.threshold
}

// Window returns the effective congestion window in packets, never below one
func (c *CongestionController) Window() float64 {
	if c.window < minWindow {
		return minWindow
	}
	return c.window
}

// EstimatedRTT returns the current smoothed round-trip time estimate
func (c *CongestionController) EstimatedRTT() time.Duration {
	return c.estimatedRTT
}

// RetransmitTimeout returns the age at which an in-flight packet is considered
// lost
func (c *CongestionController) RetransmitTimeout() time.Duration {
	return timeoutFactor * c.estimatedRTT
}

// InSlowStart reports whether the controller is in the slow-start phase
func (c *CongestionController) InSlowStart() bool {
	return c.window < c.threshold
}
