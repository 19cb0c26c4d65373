package engine

import (
	"fmt"
	"math"
)

type Label string

const (
	Safe     Label = "SAFE"
	Phishing Label = "PHISHING"
)

// DefaultThreshold is the minimum safe-probability for a SAFE verdict.
const DefaultThreshold = 0.3

// Policy turns the model's safe-probability into a verdict.
type Policy struct {
	Threshold float64
}

func NewPolicy(threshold float64) (Policy, error) {
	if !ValidThreshold(threshold) {
		return Policy{}, fmt.Errorf("threshold %v outside [0, 1]", threshold)
	}
	return Policy{Threshold: threshold}, nil
}

func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t <= 1
}

// Decide labels score SAFE when score >= threshold (inclusive). Confidence
// is the probability of the chosen label.
func Decide(score, threshold float64) (Label, float64) {
	if score >= threshold {
		return Safe, score
	}
	return Phishing, 1 - score
}

// Resolve picks the per-call override when it is valid, else the policy
// default.
func (p Policy) Resolve(override *float64) (float64, bool) {
	if override == nil {
		return p.Threshold, true
	}
	if !ValidThreshold(*override) {
		return p.Threshold, false
	}
	return *override, true
}
