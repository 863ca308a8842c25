package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

var (
	sharedHugotClassifier     *HugotClassifier
	sharedHugotClassifierErr  error
	sharedHugotClassifierOnce sync.Once
)

func TestMain(m *testing.M) {
	code := m.Run()
	if sharedHugotClassifier != nil {
		_ = sharedHugotClassifier.Close()
	}
	os.Exit(code)
}

func TestHugotConfig_Defaults(t *testing.T) {
	cfg := DefaultHugotConfig()

	if cfg.ModelPath != "./models/request-classifier" {
		t.Errorf("expected model path './models/request-classifier', got '%s'", cfg.ModelPath)
	}
	if cfg.BatchSize != 32 {
		t.Errorf("expected batch size 32, got %d", cfg.BatchSize)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Timeout)
	}
}

func TestMapModelLabel(t *testing.T) {
	cases := []struct {
		label string
		want  string
	}{
		{"LABEL_0", NormalCategory},
		{"benign", NormalCategory},
		{"Benign", NormalCategory},
		{"normal", NormalCategory},
		{"NORMAL", NormalCategory},
		{"safe", NormalCategory},
		{"legitimate", NormalCategory},
		{"sqli", "sqli"},
		{"xss", "xss"},
		{"INJECTION", "INJECTION"},
		{"malicious(sql_injection)", "malicious(sql_injection)"},
	}
	for _, tc := range cases {
		if got := mapModelLabel(tc.label); got != tc.want {
			t.Errorf("mapModelLabel(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

// TestHugotClassifier_GracefulDegradation tests that the fallback
// constructor yields a usable not-ready instance on bad config.
func TestHugotClassifier_GracefulDegradation(t *testing.T) {
	hc := NewHugotClassifierWithFallback(HugotConfig{
		ModelPath: "/nonexistent/path/to/model",
		ModelName: "", // don't try to download
	})

	if hc == nil {
		t.Fatal("expected non-nil classifier with fallback")
	}
	if hc.IsReady() {
		t.Error("classifier should not be ready with invalid model path")
	}

	_, err := hc.Classify(context.Background(), "test")
	if !errors.Is(err, ErrClassifierUnavailable) {
		t.Errorf("expected ErrClassifierUnavailable, got %v", err)
	}
}

func TestHugotClassifier_NewWithError(t *testing.T) {
	hc, err := NewHugotClassifier(HugotConfig{
		ModelPath: "/nonexistent/path/to/model",
		ModelName: "",
	})

	if err == nil {
		t.Error("expected error with invalid model path")
	}
	if hc != nil {
		t.Error("expected nil classifier on error")
	}
}

func TestHugotClassifier_CloseUnready(t *testing.T) {
	hc := &HugotClassifier{ready: false}
	if err := hc.Close(); err != nil {
		t.Errorf("close on uninitialized classifier should not error: %v", err)
	}
}

func TestHugotClassifier_StatisticsUnready(t *testing.T) {
	hc := &HugotClassifier{ready: false}
	if stats := hc.Statistics(); stats != nil {
		t.Error("expected nil stats from uninitialized classifier")
	}
}

func TestHugotClassifier_ClassifyBatchUnready(t *testing.T) {
	hc := &HugotClassifier{ready: false}

	_, err := hc.ClassifyBatch(context.Background(), []string{"test"})
	if !errors.Is(err, ErrClassifierUnavailable) {
		t.Errorf("expected ErrClassifierUnavailable, got %v", err)
	}
}

func TestHugotClassifier_Concurrency(t *testing.T) {
	hc := NewHugotClassifierWithFallback(HugotConfig{
		ModelPath: "/nonexistent", // won't be ready
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hc.IsReady()
			hc.Statistics()
			_, _ = hc.Classify(context.Background(), "test")
		}()
	}
	wg.Wait()
	// Test passes if no race condition or panic
}

func TestAutoDetectHugotConfig_EnvPriority(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("stub"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WARDEN_MODEL_PATH", dir)
	t.Setenv("HUGOT_MODEL_PATH", "")

	cfg := AutoDetectHugotConfig()
	if cfg == nil {
		t.Fatal("expected config when WARDEN_MODEL_PATH points at a model")
	}
	if cfg.ModelPath != dir {
		t.Errorf("expected model path %s, got %s", dir, cfg.ModelPath)
	}
}

func TestAutoDetectHugotConfig_IgnoresEmptyDir(t *testing.T) {
	t.Setenv("WARDEN_MODEL_PATH", t.TempDir()) // no model.onnx inside
	t.Setenv("HUGOT_MODEL_PATH", "")

	// The env dir has no model, so detection falls through to the
	// conventional paths; in a test checkout none of those exist either.
	if cfg := AutoDetectHugotConfig(); cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

// skipIfNoModel skips integration tests when no local model is installed.
func skipIfNoModel(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(integrationModelPath(), "model.onnx")); err != nil {
		t.Skip("Skipping integration test: no ONNX model at", integrationModelPath())
	}
}

func integrationModelPath() string {
	for _, env := range []string{"WARDEN_MODEL_PATH", "HUGOT_MODEL_PATH"} {
		if path := os.Getenv(env); path != "" {
			return path
		}
	}
	return "./models/request-classifier"
}

func getIntegrationClassifier(t *testing.T) *HugotClassifier {
	t.Helper()
	skipIfNoModel(t)
	sharedHugotClassifierOnce.Do(func() {
		cfg := DefaultHugotConfig()
		cfg.ModelPath = integrationModelPath()
		cfg.ModelName = ""
		sharedHugotClassifier, sharedHugotClassifierErr = NewHugotClassifier(cfg)
	})
	if sharedHugotClassifierErr != nil || sharedHugotClassifier == nil {
		t.Skipf("Skipping integration test: %v", sharedHugotClassifierErr)
	}
	return sharedHugotClassifier
}

// TestHugotClassifier_Integration_Batch checks batch output shape and
// ordering against whatever model is installed locally.
func TestHugotClassifier_Integration_Batch(t *testing.T) {
	hc := getIntegrationClassifier(t)

	batch := []string{
		"/api/v1/users/42/profile",
		"' or 1=1--",
		"search?q=running+shoes",
		"<script>alert(document.cookie)</script>",
	}

	verdicts, err := hc.ClassifyBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("batch classification failed: %v", err)
	}
	if len(verdicts) != len(batch) {
		t.Fatalf("expected %d verdicts, got %d", len(batch), len(verdicts))
	}

	for i, v := range verdicts {
		if v.Category == "" {
			t.Errorf("verdict[%d]: expected non-empty category", i)
		}
		if v.Confidence < 0.0 || v.Confidence > 1.0 {
			t.Errorf("verdict[%d]: confidence out of range: %.2f", i, v.Confidence)
		}
	}
}

func BenchmarkHugotClassifier_Single(b *testing.B) {
	if _, err := os.Stat(filepath.Join(integrationModelPath(), "model.onnx")); err != nil {
		b.Skip("Skipping benchmark: model not found")
	}

	cfg := DefaultHugotConfig()
	cfg.ModelPath = integrationModelPath()
	cfg.ModelName = ""
	hc, err := NewHugotClassifier(cfg)
	if err != nil {
		b.Fatalf("failed to create classifier: %v", err)
	}
	defer func() { _ = hc.Close() }()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = hc.Classify(ctx, "/search?q=' OR 1=1--")
	}
}
