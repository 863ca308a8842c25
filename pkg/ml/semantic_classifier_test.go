package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	chromem "github.com/philippgille/chromem-go"
)

// scriptedEmbedding returns fixed unit vectors per known text so nearest
// neighbor results are fully deterministic. Unknown text is an error:
// a test that embeds something unscripted should fail loudly.
func scriptedEmbedding(vectors map[string][]float32) chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		v, ok := vectors[text]
		if !ok {
			return nil, fmt.Errorf("unscripted embedding input: %q", text)
		}
		return v, nil
	}
}

// approxEq absorbs float32-to-float64 conversion noise in similarities.
func approxEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func seededSemanticClassifier(t *testing.T) *SemanticClassifier {
	t.Helper()

	embed := scriptedEmbedding(map[string][]float32{
		"drop all tables now":      {1, 0, 0},
		"<script>steal()</script>": {0, 1, 0},
		"/api/orders":              {0, 0, 1},
		// Query-only inputs.
		"near miss payload": {0.8, 0.6, 0},
	})

	sc, err := NewSemanticClassifier(embed)
	if err != nil {
		t.Fatalf("failed to create classifier: %v", err)
	}

	err = sc.SeedWith(context.Background(), []ExemplarPayload{
		{Text: "drop all tables now", Category: "sql_injection", Severity: 1.0},
		{Text: "<script>steal()</script>", Category: "xss", Severity: 0.95},
		{Text: "/api/orders", Category: "benign", Severity: 0.0},
	})
	if err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	sc.SetThreshold(0.9)
	return sc
}

func TestNewSemanticClassifier_NilEmbedding(t *testing.T) {
	if _, err := NewSemanticClassifier(nil); err == nil {
		t.Error("expected error for nil embedding function")
	}
}

func TestSemanticClassifier_NotReadyUntilSeeded(t *testing.T) {
	sc, err := NewSemanticClassifier(scriptedEmbedding(nil))
	if err != nil {
		t.Fatal(err)
	}
	if sc.IsReady() {
		t.Error("classifier must not be ready before seeding")
	}

	_, err = sc.Classify(context.Background(), "anything")
	if !errors.Is(err, ErrClassifierUnavailable) {
		t.Errorf("expected ErrClassifierUnavailable, got %v", err)
	}
}

func TestSemanticClassifier_SeedWithEmpty(t *testing.T) {
	sc, err := NewSemanticClassifier(scriptedEmbedding(nil))
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.SeedWith(context.Background(), nil); err == nil {
		t.Error("expected error seeding an empty corpus")
	}
}

func TestSemanticClassifier_ExactAttackMatch(t *testing.T) {
	sc := seededSemanticClassifier(t)

	// Classify lowercases before querying.
	v, err := sc.Classify(context.Background(), "DROP ALL TABLES NOW")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Category != "malicious(sql_injection)" {
		t.Errorf("expected malicious(sql_injection), got %q", v.Category)
	}
	if !approxEq(v.Confidence, 1.0) {
		t.Errorf("expected similarity 1.0, got %v", v.Confidence)
	}
}

func TestSemanticClassifier_BenignNearest(t *testing.T) {
	sc := seededSemanticClassifier(t)

	v, err := sc.Classify(context.Background(), "/api/orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Category != NormalCategory {
		t.Errorf("expected Normal for benign nearest neighbor, got %q", v.Category)
	}
	if !approxEq(v.Confidence, 1.0) {
		t.Errorf("expected confidence 1.0, got %v", v.Confidence)
	}
}

func TestSemanticClassifier_NearMissBelowThreshold(t *testing.T) {
	sc := seededSemanticClassifier(t)

	// Cosine 0.8 against the nearest attack exemplar, threshold 0.9:
	// reported Normal with confidence 1 - similarity.
	v, err := sc.Classify(context.Background(), "near miss payload")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Category != NormalCategory {
		t.Errorf("expected Normal below threshold, got %q", v.Category)
	}
	if !approxEq(v.Confidence, 0.2) {
		t.Errorf("expected confidence 0.2, got %v", v.Confidence)
	}
}

func TestSemanticClassifier_SetThreshold(t *testing.T) {
	sc := seededSemanticClassifier(t)
	sc.SetThreshold(0.75)

	// The same 0.8-similarity query now clears the bar.
	v, err := sc.Classify(context.Background(), "near miss payload")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Category != "malicious(sql_injection)" {
		t.Errorf("expected malicious verdict after lowering threshold, got %q", v.Category)
	}
	if !approxEq(v.Confidence, 0.8) {
		t.Errorf("expected confidence 0.8, got %v", v.Confidence)
	}
}

func TestSemanticClassifier_ExemplarCount(t *testing.T) {
	sc := seededSemanticClassifier(t)
	if got := sc.ExemplarCount(); got != 3 {
		t.Errorf("expected 3 exemplars, got %d", got)
	}
	if !sc.IsReady() {
		t.Error("expected ready after seeding")
	}
}

func TestNewSemanticClassifierFromEnv_Unconfigured(t *testing.T) {
	t.Setenv("WARDEN_EMBEDDINGS_URL", "")
	if sc := NewSemanticClassifierFromEnv(context.Background()); sc != nil {
		t.Error("expected nil classifier without an embeddings endpoint")
	}
}

func TestBuiltinExemplars(t *testing.T) {
	exemplars := builtinExemplars()
	if len(exemplars) != 43 {
		t.Errorf("expected 43 builtin exemplars, got %d", len(exemplars))
	}

	byCategory := make(map[string]int)
	for i, e := range exemplars {
		if e.Text == "" {
			t.Errorf("exemplar %d has empty text", i)
		}
		if e.Severity < 0 || e.Severity > 1 {
			t.Errorf("exemplar %d severity out of range: %v", i, e.Severity)
		}
		byCategory[e.Category]++
	}

	for _, cat := range []string{
		"sql_injection", "xss", "command_injection", "path_traversal", "ssrf", "benign",
	} {
		if byCategory[cat] == 0 {
			t.Errorf("no builtin exemplars for category %s", cat)
		}
	}
	if byCategory["benign"] < 5 {
		t.Errorf("expected a healthy benign set, got %d", byCategory["benign"])
	}
}
