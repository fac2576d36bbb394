// Package policy holds the threshold decision rule used to gate binding
// promotion.
package policy

// Decision is the outcome of applying the rule to one risk score.
type Decision string

const (
	Allow  Decision = "allow"
	Deny   Decision = "deny"
	Review Decision = "review"
)

// Margin is the half-width of the review band around the threshold.
const Margin = 0.05

// Decide applies the rule: allow when risk is at or below threshold-Margin,
// deny when at or above threshold+Margin, review in between. Raising the
// threshold with a fixed risk never turns an allow into anything else.
func Decide(risk, threshold float64) Decision {
	switch {
	case risk <= threshold-Margin:
		return Allow
	case risk >= threshold+Margin:
		return Deny
	default:
		return Review
	}
}
