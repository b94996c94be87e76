package engine

import "fmt"

// Status is a per-point, per-frame outcome code. Outcomes are data, not
// errors: each is recorded into the point's status field and the pipeline
// moves on to the next point.
type Status int

const (
	// CorrelationSuccessful is the optimizer's converged return; it is never
	// recorded directly (a successful frame records the initialization
	// status of the accepted attempt).
	CorrelationSuccessful Status = iota
	InitializeSuccessful
	InitializeFailed
	InitializeFailedByException
	FrameSkipped
	FrameSkippedDueToNoMotion
	CorrelationFailed
	CorrelationFailedByException
	FrameFailedDueToHighGamma
	FrameFailedDueToHighPathDistance
)

var statusNames = map[Status]string{
	CorrelationSuccessful:            "CORRELATION_SUCCESSFUL",
	InitializeSuccessful:             "INITIALIZE_SUCCESSFUL",
	InitializeFailed:                 "INITIALIZE_FAILED",
	InitializeFailedByException:      "INITIALIZE_FAILED_BY_EXCEPTION",
	FrameSkipped:                     "FRAME_SKIPPED",
	FrameSkippedDueToNoMotion:        "FRAME_SKIPPED_DUE_TO_NO_MOTION",
	CorrelationFailed:                "CORRELATION_FAILED",
	CorrelationFailedByException:     "CORRELATION_FAILED_BY_EXCEPTION",
	FrameFailedDueToHighGamma:        "FRAME_FAILED_DUE_TO_HIGH_GAMMA",
	FrameFailedDueToHighPathDistance: "FRAME_FAILED_DUE_TO_HIGH_PATH_DISTANCE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}
