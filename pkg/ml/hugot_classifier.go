package ml

// hugot_classifier.go - Local ONNX text classification of request fragments.
//
// Wraps a Hugot text-classification pipeline behind the Classifier
// capability. Any model trained on canonicalized request content works as
// long as its benign class maps onto "Normal"; multiclass models surface
// their attack labels directly as the malicious sub-type.
//
// Build:
// - Standard: go build (pure Go backend, slower but no dependencies)
// - With ORT: go build -tags ORT (ONNX Runtime, faster)

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/options"
	"github.com/knights-analytics/hugot/pipelines"
)

// HugotClassifier runs a local ONNX classification model over fragment
// content. Safe for concurrent Classify calls; the pipeline is guarded by
// a read lock and rebuilt only under the write lock.
type HugotClassifier struct {
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	mu       sync.RWMutex
	config   HugotConfig
	ready    bool
}

// HugotConfig configures the ONNX classifier.
type HugotConfig struct {
	// ModelPath is the local path to the ONNX model directory.
	// If empty and ModelName is set, the model will be downloaded.
	ModelPath string

	// ModelName is the HuggingFace model name used for downloads when
	// ModelPath does not exist.
	ModelName string

	// OnnxLibraryPath points at libonnxruntime.so. Empty means pure Go
	// backend only.
	OnnxLibraryPath string

	// BatchSize is the maximum batch size for inference (default: 32).
	BatchSize int

	// Timeout bounds a single inference call.
	Timeout time.Duration

	// OptimizeForThroughput constrains inference threading for
	// many-goroutine workloads: better total throughput, slightly worse
	// single-call latency.
	OptimizeForThroughput bool
	InterOpNumThreads     int
	IntraOpNumThreads     int
}

// DefaultHugotConfig returns the standard configuration, rooted at the
// conventional local model directory.
func DefaultHugotConfig() HugotConfig {
	return HugotConfig{
		ModelPath:       "./models/request-classifier",
		OnnxLibraryPath: getDefaultOnnxPath(),
		BatchSize:       32,
		Timeout:         30 * time.Second,
	}
}

// modelSearchPaths are the local directories probed for a model.onnx, in
// priority order.
var modelSearchPaths = []string{
	"./models/request-classifier",
	"./models/waf-classifier",
	"/var/lib/warden/models/request-classifier",
}

// AutoDetectHugotConfig finds a usable model. HUGOT_MODEL_PATH and
// WARDEN_MODEL_PATH take priority, then the conventional directories.
// Returns nil when nothing is found, and logs where it looked so a missing
// model is diagnosable from startup output alone.
func AutoDetectHugotConfig() *HugotConfig {
	for _, env := range []string{"WARDEN_MODEL_PATH", "HUGOT_MODEL_PATH"} {
		envPath := os.Getenv(env)
		if envPath == "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(envPath, "model.onnx")); err == nil {
			log.Printf("[ML] Using model from %s: %s", env, envPath)
			cfg := DefaultHugotConfig()
			cfg.ModelPath = envPath
			return &cfg
		}
		log.Printf("[ML] %s=%s has no model.onnx, ignoring", env, envPath)
	}

	for _, path := range modelSearchPaths {
		if _, err := os.Stat(filepath.Join(path, "model.onnx")); err == nil {
			log.Printf("[ML] Auto-detected model at %s", path)
			cfg := DefaultHugotConfig()
			cfg.ModelPath = path
			return &cfg
		}
	}

	log.Printf("[ML] No ONNX model found in any of:")
	for _, path := range modelSearchPaths {
		log.Printf("[ML]   - %s", path)
	}
	log.Printf("[ML] Set WARDEN_MODEL_PATH to a directory containing model.onnx to enable ML scoring")
	return nil
}

// NewAutoDetectedHugotClassifier builds a classifier from auto-detected
// models. Returns nil when no model is available or ML is toggled off.
func NewAutoDetectedHugotClassifier() *HugotClassifier {
	if !HugotEnabled() {
		return nil
	}
	cfg := AutoDetectHugotConfig()
	if cfg == nil {
		return nil
	}
	return NewHugotClassifierWithFallback(*cfg)
}

// getDefaultOnnxPath returns the ONNX Runtime library directory for the
// current platform, or "" when the library is not installed.
func getDefaultOnnxPath() string {
	paths := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Dir(p)
		}
	}
	return ""
}

// NewHugotClassifier creates a classifier with the given configuration,
// failing hard when initialization does not succeed.
func NewHugotClassifier(cfg HugotConfig) (*HugotClassifier, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	hc := &HugotClassifier{config: cfg}
	if err := hc.initialize(); err != nil {
		return nil, fmt.Errorf("hugot initialization failed: %w", err)
	}
	return hc, nil
}

// NewHugotClassifierWithFallback never fails: on initialization error it
// returns a not-ready classifier and the caller decides whether to fall
// back to rules or refuse traffic.
func NewHugotClassifierWithFallback(cfg HugotConfig) *HugotClassifier {
	hc, err := NewHugotClassifier(cfg)
	if err != nil {
		log.Printf("WARNING: Hugot classifier initialization failed (graceful degradation): %v", err)
		return &HugotClassifier{config: cfg, ready: false}
	}
	return hc
}

func (h *HugotClassifier) initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, err := h.createSession()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	h.session = session

	modelPath, err := h.resolveModelPath()
	if err != nil {
		_ = h.session.Destroy()
		return fmt.Errorf("failed to resolve model path: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.TextClassificationConfig{
		ModelPath: modelPath,
		Name:      "request-anomaly-classifier",
	})
	if err != nil {
		_ = h.session.Destroy()
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	h.pipeline = pipeline
	h.ready = true
	log.Printf("[ML] Hugot classifier initialized (model: %s)", modelPath)
	return nil
}

// createSession prefers the ONNX Runtime backend and falls back to the
// pure Go backend when the native library is missing.
func (h *HugotClassifier) createSession() (*hugot.Session, error) {
	if h.config.OnnxLibraryPath != "" {
		opts := []options.WithOption{
			options.WithOnnxLibraryPath(h.config.OnnxLibraryPath),
		}

		if h.config.OptimizeForThroughput {
			interOp := h.config.InterOpNumThreads
			if interOp == 0 {
				interOp = 1
			}
			intraOp := h.config.IntraOpNumThreads
			if intraOp == 0 {
				intraOp = 1
			}
			opts = append(opts,
				options.WithInterOpNumThreads(interOp),
				options.WithIntraOpNumThreads(intraOp),
				options.WithCPUMemArena(false),
				options.WithMemPattern(false),
			)
		}

		session, err := hugot.NewORTSession(opts...)
		if err == nil {
			log.Printf("[ML] Hugot using ONNX Runtime backend")
			return session, nil
		}
		log.Printf("[ML] ONNX Runtime unavailable, falling back to Go backend: %v", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Go session: %w", err)
	}
	log.Printf("[ML] Hugot using pure Go backend (slower, consider installing ONNX Runtime)")
	return session, nil
}

// resolveModelPath returns the local model directory, downloading by name
// when the configured path does not exist yet.
func (h *HugotClassifier) resolveModelPath() (string, error) {
	if h.config.ModelPath != "" {
		if _, err := os.Stat(h.config.ModelPath); err == nil {
			return h.config.ModelPath, nil
		}
	}

	if h.config.ModelName == "" {
		return "", fmt.Errorf("no model path or name specified")
	}

	modelsDir := "./models"
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create models directory: %w", err)
	}

	log.Printf("[ML] Downloading model %s...", h.config.ModelName)
	modelPath, err := hugot.DownloadModel(h.config.ModelName, modelsDir, hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	log.Printf("[ML] Model downloaded to %s", modelPath)
	return modelPath, nil
}

// IsReady reports whether inference can currently run.
func (h *HugotClassifier) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// benignLabels maps the benign class of the common label vocabularies
// onto the Normal category. Everything else passes through as a malicious
// sub-type named by the model.
var benignLabels = map[string]struct{}{
	"normal":     {},
	"benign":     {},
	"safe":       {},
	"legitimate": {},
	"label_0":    {},
}

func mapModelLabel(label string) string {
	if _, ok := benignLabels[strings.ToLower(label)]; ok {
		return NormalCategory
	}
	return label
}

// Classify implements the Classifier capability for a single fragment.
func (h *HugotClassifier) Classify(ctx context.Context, content string) (Verdict, error) {
	results, err := h.ClassifyBatch(ctx, []string{content})
	if err != nil {
		return Verdict{}, err
	}
	if len(results) == 0 {
		return Verdict{}, fmt.Errorf("no results returned")
	}
	return results[0], nil
}

// ClassifyBatch classifies several texts in one pipeline run. Results come
// back in input order.
func (h *HugotClassifier) ClassifyBatch(_ context.Context, texts []string) ([]Verdict, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.ready || h.pipeline == nil {
		return nil, ErrClassifierUnavailable
	}
	if len(texts) == 0 {
		return []Verdict{}, nil
	}

	result, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	verdicts := make([]Verdict, len(texts))
	for i := range texts {
		if i < len(result.ClassificationOutputs) && len(result.ClassificationOutputs[i]) > 0 {
			out := result.ClassificationOutputs[i][0]
			verdicts[i] = Verdict{
				Category:   mapModelLabel(out.Label),
				Confidence: float64(out.Score),
			}
		} else {
			// Treat a hole in the batch output as a low-confidence
			// Normal rather than failing the whole request.
			verdicts[i] = Verdict{Category: NormalCategory, Confidence: 0.0}
		}
	}
	return verdicts, nil
}

// Close releases the underlying session.
func (h *HugotClassifier) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.ready = false
	if h.session != nil {
		if err := h.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}

// Statistics returns tokenizer and inference counters from the session,
// keyed by pipeline name. Nil when no session exists.
func (h *HugotClassifier) Statistics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.session == nil {
		return nil
	}

	stats := h.session.GetStatistics()
	result := make(map[string]interface{})
	for name, stat := range stats {
		result[name] = map[string]interface{}{
			"tokenizer_total_time": stat.TokenizerTotalTime.String(),
			"onnx_total_time":      stat.OnnxTotalTime.String(),
			"total_queries":        stat.TotalQueries,
			"total_documents":      stat.TotalDocuments,
			"average_latency":      stat.AverageLatency.String(),
		}
	}
	return result
}
