package track

// Pre-allocation capacities for debug frame slices. A detection frame
// carries at most a handful of ball candidates and the filter bank stays
// small, so these cover the common case without regrowth.
const (
	defaultRejectionCapacity   = 8
	defaultInnovationCapacity  = 8
	defaultContactCapacity     = 4
	defaultArbitrationCapacity = 4
)

// DebugCollector accumulates filter internals during a single vision
// frame's processing: rejected detections with the gate that fired,
// Kalman innovations, contact state transitions, and arbitration
// decisions. Enable it when tuning filter constants against live or
// replayed traffic.
//
// The collector is stateful: call Record*() methods during processing,
// then Emit() at frame completion to extract the artifacts.
type DebugCollector struct {
	enabled bool
	current *DebugFrame
}

// DebugFrame contains all debug artifacts for a single vision frame.
type DebugFrame struct {
	FrameID uint64

	// Accept gate stage: detections the filter refused and why.
	Rejections []RejectionRecord

	// Kalman update: measurement residuals against the live estimator.
	Innovations []InnovationRecord

	// Contact state machine transitions.
	ContactEvents []ContactRecord

	// Multi-candidate arbitration decisions.
	Arbitrations []ArbitrationRecord
}

// RejectionRecord captures one detection refused by the accept gate.
type RejectionRecord struct {
	CameraID uint32
	TimeNs   int64
	X        float64 // mm
	Y        float64 // mm
	Reason   string  // "stale", "camera", "travel", "bounds", "invalid"
}

// InnovationRecord captures a measurement residual in the update step.
type InnovationRecord struct {
	CameraID   uint32
	TimeNs     int64
	PredictedX float64 // mm
	PredictedY float64
	MeasuredX  float64
	MeasuredY  float64
	ResidualMM float64 // ||measured - predicted||
}

// ContactRecord captures one transition of the contact state machine.
type ContactRecord struct {
	TimeNs  int64
	Robot   string // e.g. "Y3"
	Event   string // "activate", "refresh", "handoff", "release"
	OffsetX float64 // robot-local offset, mm
	OffsetY float64
}

// ArbitrationRecord captures one multi-candidate choice.
type ArbitrationRecord struct {
	TimeNs       int64
	Candidates   int
	ChosenIndex  int
	ChosenCamera uint32
	Reason       string // "last-camera", "deviation", "camera-id", "held", "single"
}

// NewDebugCollector creates a collector that's initially disabled.
// Call SetEnabled(true) to begin collecting artifacts.
func NewDebugCollector() *DebugCollector {
	return &DebugCollector{}
}

// SetEnabled controls whether the collector records artifacts.
// When disabled, all Record*() calls are no-ops.
func (c *DebugCollector) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *DebugCollector) IsEnabled() bool {
	return c.enabled
}

// BeginFrame initialises collection for a new vision frame.
// Must be called before any Record*() calls.
func (c *DebugCollector) BeginFrame(frameID uint64) {
	if !c.enabled {
		return
	}
	c.current = &DebugFrame{
		FrameID:       frameID,
		Rejections:    make([]RejectionRecord, 0, defaultRejectionCapacity),
		Innovations:   make([]InnovationRecord, 0, defaultInnovationCapacity),
		ContactEvents: make([]ContactRecord, 0, defaultContactCapacity),
		Arbitrations:  make([]ArbitrationRecord, 0, defaultArbitrationCapacity),
	}
}

// RecordRejection captures a detection the accept gate refused.
func (c *DebugCollector) RecordRejection(cameraID uint32, timeNs int64, x, y float64, reason string) {
	if !c.enabled || c.current == nil {
		return
	}
	c.current.Rejections = append(c.current.Rejections, RejectionRecord{
		CameraID: cameraID,
		TimeNs:   timeNs,
		X:        x,
		Y:        y,
		Reason:   reason,
	})
}

// RecordInnovation captures a Kalman measurement residual.
func (c *DebugCollector) RecordInnovation(cameraID uint32, timeNs int64, predX, predY, measX, measY, residualMM float64) {
	if !c.enabled || c.current == nil {
		return
	}
	c.current.Innovations = append(c.current.Innovations, InnovationRecord{
		CameraID:   cameraID,
		TimeNs:     timeNs,
		PredictedX: predX,
		PredictedY: predY,
		MeasuredX:  measX,
		MeasuredY:  measY,
		ResidualMM: residualMM,
	})
}

// RecordContact captures a contact state machine transition.
func (c *DebugCollector) RecordContact(timeNs int64, robot, event string, offsetX, offsetY float64) {
	if !c.enabled || c.current == nil {
		return
	}
	c.current.ContactEvents = append(c.current.ContactEvents, ContactRecord{
		TimeNs:  timeNs,
		Robot:   robot,
		Event:   event,
		OffsetX: offsetX,
		OffsetY: offsetY,
	})
}

// RecordArbitration captures a multi-candidate choice.
func (c *DebugCollector) RecordArbitration(timeNs int64, candidates, chosenIndex int, chosenCamera uint32, reason string) {
	if !c.enabled || c.current == nil {
		return
	}
	c.current.Arbitrations = append(c.current.Arbitrations, ArbitrationRecord{
		TimeNs:       timeNs,
		Candidates:   candidates,
		ChosenIndex:  chosenIndex,
		ChosenCamera: chosenCamera,
		Reason:       reason,
	})
}

// Emit returns the accumulated debug frame and prepares for the next one.
// Returns nil if collection is disabled or no frame was begun.
func (c *DebugCollector) Emit() *DebugFrame {
	if !c.enabled || c.current == nil {
		return nil
	}
	frame := c.current
	c.current = nil
	return frame
}

// Reset clears any pending artifacts without emitting them.
func (c *DebugCollector) Reset() {
	c.current = nil
}
