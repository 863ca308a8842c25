package ml

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// AnomalyThreshold is the fused-risk cutoff. A single fragment whose final
// risk strictly exceeds it marks the whole request anomalous.
const AnomalyThreshold = 0.75

// Decision is the aggregate verdict over all fragments of one request.
// AnomalyScore is the maximum per-fragment risk seen (0.0 when nothing was
// evaluated); AttackType stays "Normal" unless the maximal fragment carried
// a malicious classifier category.
type Decision struct {
	IsAnomaly      bool    `json:"is_anomaly"`
	AnomalyScore   float64 `json:"anomaly_score"`
	AttackType     string  `json:"attack_type"`
	TriggerContent string  `json:"trigger_content"`
}

// Fuse scores every fragment with the classifier plus a conditional
// heuristic boost and aggregates the results into one Decision.
//
// Per fragment: mlRisk passes the classifier confidence through for
// malicious categories and inverts it for Normal ones; the heuristic boost
// is suppressed for User-Agent sources (browsers pack parentheses and
// semicolons into UA strings); finalRisk = min(mlRisk+boost, 1). The
// anomaly flag is sticky once any fragment crosses AnomalyThreshold. The
// running maximum updates only on strictly greater risk, so ties keep the
// earliest fragment, and a Normal-category fragment taking the maximum
// updates score and trigger but never resets AttackType.
//
// A classifier error aborts the whole fuse: silently skipping failed
// fragments would turn classifier outages into clean verdicts.
func Fuse(ctx context.Context, frags *FragmentSet, clf Classifier) (Decision, error) {
	if clf == nil || !clf.IsReady() {
		return Decision{}, ErrClassifierUnavailable
	}

	d := Decision{AttackType: NormalCategory}

	for _, frag := range frags.All() {
		trimmed := strings.TrimSpace(frag.Content)
		if trimmed == "" || trimmed == "/" || trimmed == `\` {
			continue
		}
		if isSafeShortToken(frag.Content) {
			continue
		}

		v, err := clf.Classify(ctx, frag.Content)
		if err != nil {
			return Decision{}, fmt.Errorf("classify %q: %w", frag.Source, err)
		}

		mlRisk := v.Confidence
		if v.Category == NormalCategory {
			mlRisk = 1.0 - v.Confidence
		}

		boost := 0.0
		if !strings.Contains(strings.ToLower(frag.Source), "user-agent") {
			boost = HeuristicScore(frag.Content)
		}

		finalRisk := mlRisk + boost
		if finalRisk > 1.0 {
			finalRisk = 1.0
		}

		if finalRisk > AnomalyThreshold {
			d.IsAnomaly = true
		}

		if finalRisk > d.AnomalyScore {
			d.AnomalyScore = finalRisk
			d.TriggerContent = frag.Content
			if v.Category != NormalCategory {
				d.AttackType = "ML_" + strings.ToUpper(stripMaliciousWrapper(v.Category))
			}
		}
	}

	return d, nil
}

// isSafeShortToken reports whether content is too short and too plain to
// be worth a classifier call: fewer than four runes and, after dropping
// dots and dashes, non-empty and entirely letters or digits. Content that
// is nothing but dots and dashes stays evaluated ("..", "--").
func isSafeShortToken(content string) bool {
	if utf8.RuneCountInString(content) >= 4 {
		return false
	}

	stripped := strings.Map(func(r rune) rune {
		if r == '.' || r == '-' {
			return -1
		}
		return r
	}, content)
	if stripped == "" {
		return false
	}

	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

// stripMaliciousWrapper reduces "malicious(<type>)" to "<type>". Labels
// arrive bare or wrapped depending on how the training corpus named its
// attack classes.
func stripMaliciousWrapper(category string) string {
	category = strings.ReplaceAll(category, "malicious(", "")
	return strings.ReplaceAll(category, ")", "")
}
