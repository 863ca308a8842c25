package ml

import "context"

// Engine turns request descriptors into Decisions using an injected
// classifier. It holds no per-request state, so one Engine may score many
// requests concurrently as long as its classifier tolerates concurrent
// Classify calls.
type Engine struct {
	classifier Classifier
}

// NewEngine wires an engine to a classifier.
func NewEngine(clf Classifier) *Engine {
	return &Engine{classifier: clf}
}

// Score extracts fragments from the request and fuses their individual
// risks into one decision. Returns ErrClassifierUnavailable when the
// classifier cannot serve.
func (e *Engine) Score(ctx context.Context, req RequestDescriptor) (Decision, error) {
	return Fuse(ctx, ExtractFragments(req), e.classifier)
}

// Ready reports whether scoring can currently succeed.
func (e *Engine) Ready() bool {
	return e.classifier != nil && e.classifier.IsReady()
}
