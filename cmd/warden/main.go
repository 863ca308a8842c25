package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/TryMightyAI/warden/pkg/cache"
	"github.com/TryMightyAI/warden/pkg/config"
	"github.com/TryMightyAI/warden/pkg/httputil"
	"github.com/TryMightyAI/warden/pkg/ml"
	"github.com/TryMightyAI/warden/pkg/store"
	"github.com/TryMightyAI/warden/pkg/telemetry"
)

const Version = "0.1.0"

// Service wires the scoring engine to its supporting components.
// Everything except the rule classifier is optional and degrades
// gracefully when unavailable.
type Service struct {
	engine  *ml.Engine
	raw     ml.Classifier // classifier before cache wrapping, for stats
	cfg     *config.Config
	sink    store.DecisionSink
	metrics *telemetry.Collector
	gate    *httputil.Semaphore
	cache   *cache.VerdictCache // nil when Redis is not configured
}

// PredictRequest is the scoring request wire format.
type PredictRequest struct {
	Path    string            `json:"path"`
	Body    string            `json:"body"`
	Length  int               `json:"length"` // accepted for wire compatibility, not used in scoring
	Headers map[string]string `json:"headers"`
}

// PredictResponse is the scoring response wire format.
type PredictResponse struct {
	ml.Decision
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
}

func NewService(cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}

	metrics := telemetry.NewCollector()
	raw := buildClassifier(cfg)

	clf := raw
	var verdictCache *cache.VerdictCache
	if clf != nil {
		verdictCache = cache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, clf, cfg.CacheTTL, metrics)
		if verdictCache != nil {
			clf = verdictCache
			log.Println("✓ Verdict cache enabled (redis)")
		} else if cfg.RedisAddr != "" {
			log.Println("○ Verdict cache disabled (redis unreachable)")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sink := store.Open(ctx, cfg.DatabaseURL, cfg.AuditLogPath)

	return &Service{
		engine:  ml.NewEngine(clf),
		raw:     raw,
		cfg:     cfg,
		sink:    sink,
		metrics: metrics,
		gate:    httputil.NewSemaphore(cfg.MaxConcurrent),
		cache:   verdictCache,
	}
}

// buildClassifier selects the backend per WARDEN_CLASSIFIER. In auto mode
// the rule classifier is the floor: it needs no model and is always
// ready. Explicit hugot or semantic modes return whatever they can build,
// including a not-ready classifier, so scoring answers 503 instead of
// silently downgrading.
func buildClassifier(cfg *config.Config) ml.Classifier {
	switch cfg.ClassifierMode {
	case config.ModeRules:
		rc := ml.NewRuleClassifier()
		log.Printf("✓ Rule classifier enabled (%d patterns)", rc.RuleCount())
		return rc

	case config.ModeHugot:
		hcfg := ml.AutoDetectHugotConfig()
		if hcfg == nil {
			base := ml.DefaultHugotConfig()
			if cfg.ModelPath != "" {
				base.ModelPath = cfg.ModelPath
			}
			hcfg = &base
		}
		h := ml.NewHugotClassifierWithFallback(*hcfg)
		if h.IsReady() {
			log.Println("✓ ML classification enabled (hugot/ONNX)")
		} else {
			log.Println("○ ML classification not ready (scoring will refuse traffic)")
		}
		return h

	case config.ModeSemantic:
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		sc := ml.NewSemanticClassifierFromEnv(ctx)
		if sc != nil {
			log.Printf("✓ Semantic classification enabled (%d exemplars)", sc.ExemplarCount())
			return sc
		}
		log.Println("○ Semantic classification not ready (scoring will refuse traffic)")
		return nil

	default: // auto
		if h := ml.NewAutoDetectedHugotClassifier(); h != nil && h.IsReady() {
			log.Println("✓ ML classification enabled (hugot/ONNX)")
			return h
		}
		rc := ml.NewRuleClassifier()
		log.Printf("✓ Rule classifier enabled (%d patterns, no ONNX model found)", rc.RuleCount())
		return rc
	}
}

// persist hands the decision to the sink off the request path. Sink
// failures must never affect scoring, hence the recover.
func (s *Service) persist(rec store.DecisionRecord) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[STORE] Insert panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.sink.Insert(ctx, rec); err != nil {
			log.Printf("[STORE] Insert failed: %v", err)
		}
	}()
}

func newApp(svc *Service) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Warden",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ok",
			"version":          Version,
			"classifier_ready": svc.engine.Ready(),
		})
	})

	app.Get("/stats", func(c fiber.Ctx) error {
		resp := fiber.Map{
			"telemetry": svc.metrics.Snapshot(),
			"admission": svc.gate.Stats(),
		}
		type statser interface {
			Statistics() map[string]interface{}
		}
		if s, ok := svc.raw.(statser); ok {
			if stats := s.Statistics(); stats != nil {
				resp["pipeline"] = stats
			}
		}
		return c.JSON(resp)
	})

	app.Get("/decisions", func(c fiber.Ctx) error {
		lister, ok := svc.sink.(store.RecentLister)
		if !ok {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
				"error": "decision history requires a database sink",
			})
		}
		limit, err := strconv.Atoi(c.Query("limit"))
		if err != nil {
			limit = 50
		}
		records, err := lister.Recent(c.Context(), limit)
		if err != nil {
			log.Printf("[STORE] Recent query failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "failed to list decisions"})
		}
		return c.JSON(fiber.Map{"decisions": records})
	})

	app.Post("/predict", func(c fiber.Ctx) error {
		if !svc.gate.TryAcquire() {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many concurrent scoring requests",
			})
		}
		defer svc.gate.Release()

		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("X-Request-ID", requestID)

		var req PredictRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}

		start := time.Now()
		decision, err := svc.engine.Score(c.Context(), ml.RequestDescriptor{
			Path:    req.Path,
			Body:    req.Body,
			Headers: req.Headers,
		})
		if err != nil {
			svc.metrics.RecordError()
			if errors.Is(err, ml.ErrClassifierUnavailable) {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "classifier unavailable",
				})
			}
			log.Printf("[SCANNER] Scoring failed: %v", err)
			return c.Status(500).JSON(fiber.Map{"error": "scoring failed"})
		}
		latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

		action := ml.ActionFor(decision, svc.cfg.BlockThreshold, svc.cfg.MonitorThreshold)
		svc.metrics.RecordDecision(decision.IsAnomaly, action)

		svc.persist(store.DecisionRecord{
			ID:             requestID,
			CreatedAt:      time.Now().UTC(),
			Path:           req.Path,
			IsAnomaly:      decision.IsAnomaly,
			AnomalyScore:   decision.AnomalyScore,
			AttackType:     decision.AttackType,
			TriggerContent: decision.TriggerContent,
			Action:         action,
			LatencyMs:      latencyMs,
		})

		return c.JSON(PredictResponse{
			Decision:  decision,
			Action:    action,
			RequestID: requestID,
		})
	})

	return app
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		runServer("")
		return
	}

	switch os.Args[1] {
	case "serve":
		port := ""
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runServer(port)
	case "score":
		if len(os.Args) < 3 {
			fmt.Println("Usage: warden score <path> [body]")
			os.Exit(1)
		}
		body := ""
		if len(os.Args) > 3 {
			body = os.Args[3]
		}
		runCLIScore(os.Args[2], body)
	case "version":
		fmt.Printf("Warden v%s\n", Version)
		fmt.Println("HTTP Request Anomaly Scorer")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Warden v%s - HTTP Request Anomaly Scorer\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  warden serve [port]        Start the scoring server (default: 8089)")
	fmt.Println("  warden score <path> [body] Score a single request from the command line")
	fmt.Println("  warden version             Show version")
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Println("  warden serve 8089")
	fmt.Println("  warden score \"/search?q=' OR 1=1--\"")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  WARDEN_CLASSIFIER        Backend: auto, hugot, rules, semantic (default: auto)")
	fmt.Println("  WARDEN_MODEL_PATH        Path to ONNX model directory")
	fmt.Println("  WARDEN_DATABASE_URL      Postgres DSN for decision history")
	fmt.Println("  WARDEN_REDIS_ADDR        Redis address for the verdict cache")
}

func runServer(portOverride string) {
	cfg := config.NewDefaultConfig()
	if portOverride != "" {
		if p, err := strconv.Atoi(portOverride); err == nil {
			cfg.Port = p
		}
	}
	cfg.MustValidate()

	svc := NewService(cfg)
	app := newApp(svc)

	log.Printf("Warden scoring server starting on :%d", cfg.Port)
	log.Printf("Endpoints:")
	log.Printf("  POST /predict    - Score a request descriptor")
	log.Printf("  GET  /health     - Health check")
	log.Printf("  GET  /stats      - Telemetry counters")
	log.Printf("  GET  /decisions  - Recent decisions (database sink only)")

	if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		log.Fatal(err)
	}
}

func runCLIScore(path, body string) {
	cfg := config.NewDefaultConfig()
	svc := NewService(cfg)

	decision, err := svc.engine.Score(context.Background(), ml.RequestDescriptor{
		Path: path,
		Body: body,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "score failed: %v\n", err)
		os.Exit(1)
	}

	action := ml.ActionFor(decision, cfg.BlockThreshold, cfg.MonitorThreshold)
	out, _ := json.MarshalIndent(PredictResponse{
		Decision: decision,
		Action:   action,
	}, "", "  ")
	fmt.Println(string(out))
}
