package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/TryMightyAI/warden/pkg/config"
	"github.com/TryMightyAI/warden/pkg/patterns"
)

// RuleClassifier is the always-available classifier: compiled regex rules
// grouped by attack category, with hit counts boosting confidence. It
// backs auto mode when no model is present so scoring never goes dark, at
// the cost of only knowing the attack classes its rules describe.
type RuleClassifier struct {
	registry *patterns.Registry
	extra    []*patterns.Pattern

	// benignConfidence is the Normal confidence for content no rule
	// matches. High on purpose: rule silence plus the heuristic ceiling
	// keeps clean traffic far under the anomaly threshold.
	benignConfidence float64
}

// NewRuleClassifier builds a classifier over the built-in pattern registry
// plus any extra rules found in rules.yaml. Seed loading failures degrade
// to the built-ins alone.
func NewRuleClassifier() *RuleClassifier {
	rc := &RuleClassifier{
		registry:         patterns.Get(),
		benignConfidence: 0.95,
	}

	extra, src, err := loadRuleSeeds()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to load rule seeds: %v, using built-in patterns only\n", err)
	} else if len(extra) > 0 {
		fmt.Fprintf(os.Stderr, "[INFO] Loaded %d extra rules from %s\n", len(extra), src)
	}
	rc.extra = extra

	return rc
}

// Classify scans the content against every category's rules and votes for
// the category with the most severe match, hit count breaking ties.
// Matching runs on confusable-normalized text; the verdict's category is
// wrapped malicious(<category>) so fusion can strip it uniformly.
func (rc *RuleClassifier) Classify(_ context.Context, content string) (Verdict, error) {
	text := normalizeForMatching(content)

	var (
		bestCat  patterns.Category
		bestSev  int
		bestHits int
	)

	for _, cat := range patterns.AllCategories() {
		sev, hits := rc.scanCategory(cat, text)
		if hits == 0 {
			continue
		}
		if sev > bestSev || (sev == bestSev && hits > bestHits) {
			bestCat, bestSev, bestHits = cat, sev, hits
		}
	}

	if bestHits == 0 {
		return Verdict{Category: NormalCategory, Confidence: rc.benignConfidence}, nil
	}

	// Severity anchors the confidence; every extra corroborating rule
	// adds a little more, capped below certainty.
	conf := float64(bestSev)/100.0 + 0.05*float64(bestHits-1)
	if conf > 0.99 {
		conf = 0.99
	}

	return Verdict{
		Category:   "malicious(" + string(bestCat) + ")",
		Confidence: conf,
	}, nil
}

// IsReady always reports true: the rule table compiles at init and has no
// external dependencies.
func (rc *RuleClassifier) IsReady() bool {
	return true
}

// RuleCount returns how many rules the classifier consults per call.
func (rc *RuleClassifier) RuleCount() int {
	return rc.registry.TotalPatterns() + len(rc.extra)
}

func (rc *RuleClassifier) scanCategory(cat patterns.Category, text string) (maxSeverity, hits int) {
	for _, p := range rc.registry.GetByCategory(cat) {
		if p.Regex.MatchString(text) {
			hits++
			if p.Severity > maxSeverity {
				maxSeverity = p.Severity
			}
		}
	}
	for _, p := range rc.extra {
		if p.Category == cat && p.Regex.MatchString(text) {
			hits++
			if p.Severity > maxSeverity {
				maxSeverity = p.Severity
			}
		}
	}
	return maxSeverity, hits
}

// ruleSeedFile is the rules.yaml shape: a flat list of named regex rules
// slotted into the existing categories.
type ruleSeedFile struct {
	Rules []ruleSeed `yaml:"rules"`
}

type ruleSeed struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Pattern     string `yaml:"pattern"`
	Severity    int    `yaml:"severity"`
	Description string `yaml:"description"`
}

// loadRuleSeeds reads extra rules from WARDEN_RULES_PATH or
// <configdir>/rules.yaml. A missing file is not an error; a rule that
// fails to compile is skipped with a warning so one bad line cannot take
// the whole seed file down.
func loadRuleSeeds() ([]*patterns.Pattern, string, error) {
	path := config.GetEnv("WARDEN_RULES_PATH", "")
	if path == "" {
		dir := FindConfigDir()
		if dir == "" {
			return nil, "", nil
		}
		path = filepath.Join(dir, "rules.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}

	var file ruleSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", path, err)
	}

	var loaded []*patterns.Pattern
	for _, seed := range file.Rules {
		re, err := regexp.Compile(seed.Pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Skipping rule %q: %v\n", seed.Name, err)
			continue
		}
		sev := seed.Severity
		if sev <= 0 || sev > 100 {
			sev = 50
		}
		loaded = append(loaded, &patterns.Pattern{
			Name:        seed.Name,
			Regex:       re,
			Category:    patterns.Category(seed.Category),
			Severity:    sev,
			Description: seed.Description,
		})
	}
	return loaded, path, nil
}

// FindConfigDir returns the first existing config directory:
// WARDEN_CONFIG_DIR, ./configs, the executable's configs dir, then
// /etc/warden. Empty string when none exists.
func FindConfigDir() string {
	var candidates []string
	if dir := os.Getenv("WARDEN_CONFIG_DIR"); dir != "" {
		candidates = append(candidates, dir)
	}
	candidates = append(candidates, "configs")
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "configs"))
	}
	candidates = append(candidates, "/etc/warden")

	for _, dir := range candidates {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	return ""
}
