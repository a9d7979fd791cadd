package metrics

import "time"

// Recorder receives operational counters and latencies. Labels are free-form;
// implementations pick the ones they export.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, d time.Duration, labels map[string]string)
}

// Counter names shared by the packages that record them.
const (
	EndpointAttempt   = "endpoint_attempt"
	EndpointExhausted = "endpoints_exhausted"
	NonceAllocated    = "nonce_allocated"
	BroadcastSent     = "broadcast_sent"
	BroadcastFailed   = "broadcast_failed"
	TrackerTransition = "tracker_transition"
	TrackerPollError  = "tracker_poll_error"
	TrackerCycle      = "tracker_cycle"
)
