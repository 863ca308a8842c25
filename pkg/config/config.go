// Package config holds runtime settings for the warden scoring service.
// Everything can be configured via environment variables or
// programmatically; env parsing helpers are exported for use by other
// packages.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClassifierMode selects which classifier backend scores fragments.
type ClassifierMode string

const (
	ModeAuto     ClassifierMode = "auto"     // Hugot when a model is available, rules otherwise
	ModeHugot    ClassifierMode = "hugot"    // Local ONNX model only (503 when unavailable)
	ModeRules    ClassifierMode = "rules"    // Pattern registry only (always available)
	ModeSemantic ClassifierMode = "semantic" // Embedding similarity only (503 when unavailable)
)

// Config holds global settings for the warden service.
type Config struct {
	// === Core Settings ===
	Port           int            // HTTP listen port (default: 8089)
	ClassifierMode ClassifierMode // Which backend scores fragments: "auto", "hugot", "rules", "semantic"

	// === Classifier Backends ===
	ModelPath       string // ONNX model directory; empty means auto-detect
	RulesPath       string // Extra rule seed file for the pattern classifier
	EmbeddingsURL   string // Ollama-compatible embeddings endpoint for semantic mode
	EmbeddingsModel string // Embedding model name (default: "embeddinggemma")

	// === Decision Thresholds (0.0 - 1.0) ===
	// Tune these to balance security vs. usability
	BlockThreshold    float64 // Score above this = block (default: 0.8)
	MonitorThreshold  float64 // Score above this = monitor (default: 0.65)
	SemanticThreshold float64 // Similarity needed for a semantic match (default: 0.65)

	// === Decision Persistence ===
	DatabaseURL  string // Postgres DSN; empty disables the database sink
	AuditLogPath string // JSONL fallback sink (default: "decisions.jsonl")

	// === Verdict Cache ===
	RedisAddr     string        // Redis address; empty disables caching
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration // Per-verdict TTL (default: 300s)

	// === Admission Control ===
	MaxConcurrent int // Concurrent scoring requests before 429 (default: 64)
}

// NewDefaultConfig creates a Config with sensible defaults. All settings
// can be overridden via environment variables.
func NewDefaultConfig() *Config {
	return &Config{
		Port:           clampInt(GetEnvInt("WARDEN_PORT", 8089), 1, 65535),
		ClassifierMode: ClassifierMode(GetEnv("WARDEN_CLASSIFIER", "auto")),

		ModelPath:       GetEnv("WARDEN_MODEL_PATH", ""),
		RulesPath:       GetEnv("WARDEN_RULES_PATH", ""),
		EmbeddingsURL:   GetEnv("WARDEN_EMBEDDINGS_URL", ""),
		EmbeddingsModel: GetEnv("WARDEN_EMBEDDINGS_MODEL", "embeddinggemma"),

		BlockThreshold:    GetEnvFloat("WARDEN_BLOCK_THRESHOLD", 0.8),
		MonitorThreshold:  GetEnvFloat("WARDEN_MONITOR_THRESHOLD", 0.65),
		SemanticThreshold: GetEnvFloat("WARDEN_SEMANTIC_THRESHOLD", 0.65),

		DatabaseURL:  GetEnv("WARDEN_DATABASE_URL", ""),
		AuditLogPath: GetEnv("WARDEN_AUDIT_LOG", "decisions.jsonl"),

		RedisAddr:     GetEnv("WARDEN_REDIS_ADDR", ""),
		RedisPassword: GetEnv("WARDEN_REDIS_PASSWORD", ""),
		RedisDB:       GetEnvInt("WARDEN_REDIS_DB", 0),
		CacheTTL:      time.Duration(GetEnvInt("WARDEN_CACHE_TTL_SECONDS", 300)) * time.Second,

		MaxConcurrent: clampInt(GetEnvInt("WARDEN_MAX_CONCURRENT", 64), 1, 4096),
	}
}

// NewHighSecurityConfig creates a Config for maximum security (may have
// more false positives).
func NewHighSecurityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BlockThreshold = 0.65  // Lower threshold = more aggressive blocking
	cfg.MonitorThreshold = 0.5 // Lower monitor threshold
	return cfg
}

// NewHighUsabilityConfig creates a Config that minimizes false positives.
func NewHighUsabilityConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.BlockThreshold = 0.9    // Higher threshold = fewer false positives
	cfg.MonitorThreshold = 0.75 // Higher monitor threshold
	return cfg
}

// clampInt ensures a value is within bounds
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// Validate checks configuration value sanity. Thresholds must be
// orderable and in range; an unknown classifier mode is an error rather
// than a silent fallback.
func (c *Config) Validate() error {
	var problems []string

	switch c.ClassifierMode {
	case ModeAuto, ModeHugot, ModeRules, ModeSemantic:
	default:
		problems = append(problems, fmt.Sprintf("WARDEN_CLASSIFIER: unknown mode %q", c.ClassifierMode))
	}

	if c.BlockThreshold <= 0 || c.BlockThreshold > 1 {
		problems = append(problems, fmt.Sprintf("WARDEN_BLOCK_THRESHOLD: %v out of range (0, 1]", c.BlockThreshold))
	}
	if c.MonitorThreshold <= 0 || c.MonitorThreshold > 1 {
		problems = append(problems, fmt.Sprintf("WARDEN_MONITOR_THRESHOLD: %v out of range (0, 1]", c.MonitorThreshold))
	}
	if c.MonitorThreshold > c.BlockThreshold {
		problems = append(problems, fmt.Sprintf("WARDEN_MONITOR_THRESHOLD (%v) must not exceed WARDEN_BLOCK_THRESHOLD (%v)",
			c.MonitorThreshold, c.BlockThreshold))
	}
	if c.SemanticThreshold <= 0 || c.SemanticThreshold > 1 {
		problems = append(problems, fmt.Sprintf("WARDEN_SEMANTIC_THRESHOLD: %v out of range (0, 1]", c.SemanticThreshold))
	}
	if c.CacheTTL < 0 {
		problems = append(problems, "WARDEN_CACHE_TTL_SECONDS: must not be negative")
	}

	if c.ClassifierMode == ModeSemantic && c.EmbeddingsURL == "" {
		log.Printf("[STARTUP] Warning: WARDEN_CLASSIFIER=semantic without WARDEN_EMBEDDINGS_URL; scoring will refuse traffic")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MustValidate calls Validate and fatally exits if validation fails.
// Call this at startup before starting the server.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		log.Fatalf("[STARTUP] FATAL: Configuration validation failed: %v", err)
	}
	log.Println("[STARTUP] Configuration validated successfully")
}

// Helper functions for environment variable parsing
// These are exported for use by other packages (e.g., pkg/ml)

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetEnvBool returns the boolean value of an environment variable or a default value.
func GetEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvFloat returns the float64 value of an environment variable or a default value.
func GetEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

// GetEnvInt returns the integer value of an environment variable or a default value.
func GetEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// GetEnvSlice returns a comma-separated list from an environment variable or a default value.
func GetEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
