package ml

import "strings"

// HeuristicCeiling caps the rule-based suspicion score. Heuristics alone
// can never cross the anomaly threshold; they only tip a borderline
// classifier verdict over the line.
const HeuristicCeiling = 0.60

// suspicionWeight pairs a token with the suspicion it contributes per
// occurrence. Kept as a slice rather than a map so summation order is
// fixed and scores are reproducible bit for bit.
type suspicionWeight struct {
	token  string
	weight float64
}

// suspicionTable drives HeuristicScore. Quote and comment tokens carry
// heavy weights because they terminate or restructure SQL and HTML
// contexts; union and select outrank everything since they rarely appear
// in benign request fields.
var suspicionTable = []suspicionWeight{
	{"'", 0.15},
	{`"`, 0.10},
	{"<", 0.15},
	{">", 0.15},
	{";", 0.10},
	{"--", 0.20},
	{"(", 0.05},
	{")", 0.05},
	{"$", 0.10},
	{"`", 0.10},
	{"union", 0.30},
	{"select", 0.20},
	{"{", 0.10},
	{"}", 0.10},
}

// HeuristicScore assigns a bounded suspicion score from weighted token
// counts in the lower-cased content. Occurrences accumulate linearly, so
// three quotes score three times one quote, and the total clamps at
// HeuristicCeiling. Counting is non-overlapping per token.
func HeuristicScore(content string) float64 {
	if content == "" {
		return 0
	}

	lower := strings.ToLower(content)
	score := 0.0
	for _, sw := range suspicionTable {
		if n := strings.Count(lower, sw.token); n > 0 {
			score += sw.weight * float64(n)
		}
	}

	if score > HeuristicCeiling {
		return HeuristicCeiling
	}
	return score
}
