package risk

// Alert policy: a pure function of the anomaly score. Threshold comparisons
// are strict on purpose — downstream consumers rely on exact boundary parity
// (0.70 is not anomalous, 0.90 does not block).

const (
	// AnomalyThreshold is the score above which an event is anomalous and an
	// alert is emitted.
	AnomalyThreshold = 0.7

	// HighSeverityThreshold splits medium from high severity alerts.
	HighSeverityThreshold = 0.85

	// BlockThreshold is the score above which the enforcement action is BLOCK
	// and the session is marked compromised for the rest of its lifetime.
	BlockThreshold = 0.9
)

// Severity classifies an anomaly alert.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Action is the enforcement decision relayed back to the transport layer.
type Action string

const (
	ActionMonitor Action = "MONITOR"
	ActionBlock   Action = "BLOCK"
)

// Verdict is the policy outcome for a single scoring event.
type Verdict struct {
	Anomalous bool
	Severity  Severity
	Action    Action
}

// Evaluate maps an anomaly score to a verdict.
func Evaluate(anomalyScore float64) Verdict {
	v := Verdict{Action: ActionMonitor}
	if anomalyScore <= AnomalyThreshold {
		return v
	}
	v.Anomalous = true
	if anomalyScore > HighSeverityThreshold {
		v.Severity = SeverityHigh
	} else {
		v.Severity = SeverityMedium
	}
	if anomalyScore > BlockThreshold {
		v.Action = ActionBlock
	}
	return v
}
