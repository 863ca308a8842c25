package ml

import (
	"context"
	"errors"
)

// ErrClassifierUnavailable is returned when scoring is attempted against a
// classifier that is not ready (model missing, backend unreachable). The
// service shell maps it to 503 rather than scoring blind: a dead
// classifier must never degrade into "everything is benign".
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// NormalCategory is the non-malicious class label. Every other category
// names a malicious sub-type, optionally wrapped as "malicious(<type>)".
const NormalCategory = "Normal"

// Verdict is a classifier's opinion of one fragment's content.
type Verdict struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Classifier is the capability the fusion engine consumes. Implementations
// must tolerate concurrent Classify calls; the engine issues one call per
// evaluated fragment and never retries on its own.
type Classifier interface {
	// Classify predicts a category for the content with a confidence in
	// [0,1]. Confidence is in the predicted category, not in "malicious":
	// fusion inverts it for NormalCategory verdicts.
	Classify(ctx context.Context, content string) (Verdict, error)

	// IsReady reports whether Classify can currently succeed.
	IsReady() bool
}
