package anomaly

import "fmt"

// AlertType is the fixed vocabulary of alert categories.
type AlertType string

const (
	AlertPriceDrop  AlertType = "price_drop"
	AlertPriceSpike AlertType = "price_spike"
	AlertAnomaly    AlertType = "anomaly"
)

// DirectionPolicy selects which price moves qualify for alerting.
type DirectionPolicy string

const (
	DirectionDropOnly  DirectionPolicy = "drop_only"
	DirectionSpikeOnly DirectionPolicy = "spike_only"
	DirectionBoth      DirectionPolicy = "both"
)

// ParseDirectionPolicy validates a configured policy string.
func ParseDirectionPolicy(s string) (DirectionPolicy, error) {
	switch DirectionPolicy(s) {
	case DirectionDropOnly, DirectionSpikeOnly, DirectionBoth:
		return DirectionPolicy(s), nil
	}
	return "", fmt.Errorf("unknown alert direction policy %q", s)
}

// Decision is the outcome of classifying a scored observation.
type Decision struct {
	Suspicious  bool
	AlertWorthy bool
	Type        AlertType
}

// Classify applies the configured thresholds to a scored result.
//
// An observation is suspicious when |z| meets the z threshold or confidence
// falls under the floor. A nil z-score (insufficient history) is never
// suspicious. A suspicious observation is alert-worthy only when the price
// moved in a direction the policy cares about.
func Classify(res Result, opts Options) Decision {
	if res.ZScore == nil {
		return Decision{}
	}

	z := *res.ZScore
	suspicious := z.Abs().GreaterThanOrEqual(opts.ZThreshold)
	if !suspicious && res.Confidence != nil && res.Confidence.LessThan(opts.ConfidenceFloor) {
		suspicious = true
	}
	if !suspicious {
		return Decision{}
	}

	decision := Decision{Suspicious: true}
	switch z.Sign() {
	case -1:
		decision.Type = AlertPriceDrop
		decision.AlertWorthy = opts.Direction == DirectionDropOnly || opts.Direction == DirectionBoth
	case 1:
		decision.Type = AlertPriceSpike
		decision.AlertWorthy = opts.Direction == DirectionSpikeOnly || opts.Direction == DirectionBoth
	default:
		// Suspicious with no direction can only happen under custom
		// thresholds (confidence floor breached at z=0). Surface it under
		// any policy.
		decision.Type = AlertAnomaly
		decision.AlertWorthy = true
	}
	return decision
}
