package ml

// Actions the gateway takes on a scored request. The engine only scores;
// this layer maps a Decision onto enforcement policy.
const (
	ActionBlock   = "block"
	ActionMonitor = "monitor"
	ActionAllow   = "allow"
)

// ActionFor maps a decision onto an action. Scores above the block
// threshold block, scores above the monitor threshold are flagged for
// observation, everything else passes. Thresholds come from configuration
// and are validated as block >= monitor.
func ActionFor(d Decision, blockThreshold, monitorThreshold float64) string {
	switch {
	case d.AnomalyScore > blockThreshold:
		return ActionBlock
	case d.AnomalyScore > monitorThreshold:
		return ActionMonitor
	default:
		return ActionAllow
	}
}
