package domain

import (
	"context"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/phancao/Project-Management-Agent-sub011/internal/agent/ports"
)

const classifierSystemPrompt = "" +
	"You decide whether a user message is about project management " +
	"(sprints, tasks, backlogs, milestones, team workload) in ANY language.\n" +
	"Answer with exactly one token: YES or NO. No punctuation, no commentary."

// IntentClassifier routes queries into the project-management workflow.
// Stage 1 is a cheap normalized keyword match; stage 2 is an LLM yes/no
// fallback for ambiguous or multilingual input.
type IntentClassifier struct {
	keywords  []string
	minLength int
	timeout   time.Duration
	llm       ports.LLMClient
	cache     *lru.Cache[string, bool]
	logger    ports.Logger
	clock     ports.Clock
}

// IntentClassifierConfig captures the classifier's dependencies.
type IntentClassifierConfig struct {
	Keywords  []string
	MinLength int
	CacheSize int
	Timeout   time.Duration
	LLM       ports.LLMClient
	Logger    ports.Logger
	Clock     ports.Clock
}

// NewIntentClassifier builds a classifier. Keywords are normalized once at
// construction so matching stays O(message length x keyword count).
func NewIntentClassifier(cfg IntentClassifierConfig) *IntentClassifier {
	logger := cfg.Logger
	if logger == nil {
		logger = ports.NoopLogger{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	normalized := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		if folded := normalizeText(kw); folded != "" {
			normalized = append(normalized, folded)
		}
	}
	var cache *lru.Cache[string, bool]
	if cfg.CacheSize > 0 {
		// lru.New only fails on a non-positive size.
		cache, _ = lru.New[string, bool](cfg.CacheSize)
	}
	return &IntentClassifier{
		keywords:  normalized,
		minLength: minLength,
		timeout:   timeout,
		llm:       cfg.LLM,
		cache:     cache,
		logger:    logger,
		clock:     clock,
	}
}

// Matches reports whether the message should enter the project-management
// workflow. The LLM fallback failing or timing out defaults to not matched:
// generic handling is the safe route for misclassified input.
func (c *IntentClassifier) Matches(ctx context.Context, message string) bool {
	normalized := normalizeText(message)
	if normalized == "" {
		return false
	}

	for _, kw := range c.keywords {
		if containsWord(normalized, kw) {
			c.logger.Debug("intent matched by keyword %q", kw)
			return true
		}
	}

	if len([]rune(strings.TrimSpace(message))) <= c.minLength {
		return false
	}
	if c.llm == nil {
		return false
	}

	if c.cache != nil {
		if verdict, ok := c.cache.Get(normalized); ok {
			c.logger.Debug("intent verdict from cache: %v", verdict)
			return verdict
		}
	}

	verdict := c.classifyWithLLM(ctx, message)
	if c.cache != nil {
		c.cache.Add(normalized, verdict)
	}
	return verdict
}

func (c *IntentClassifier) classifyWithLLM(ctx context.Context, message string) bool {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.Complete(callCtx, ports.CompletionRequest{
		Messages: []ports.Message{
			{Role: "system", Content: classifierSystemPrompt},
			{Role: "user", Content: message},
		},
		Temperature: 0,
		MaxTokens:   4,
		Metadata: map[string]any{
			"intent": "classification",
			"ts":     c.clock.Now().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		c.logger.Warn("classification call failed, defaulting to no match: %v", err)
		return false
	}

	token := strings.ToUpper(strings.TrimSpace(resp.Content))
	token = strings.Trim(token, ".!\"'")
	switch token {
	case "YES":
		return true
	case "NO":
		return false
	default:
		c.logger.Warn("classifier returned non-strict token %q, defaulting to no match", resp.Content)
		return false
	}
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// normalizeText lowercases and strips diacritics so "tâche" matches
// "tache" and "SPRINT" matches "sprint".
func normalizeText(s string) string {
	stripped, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		stripped = s
	}
	return strings.ToLower(strings.TrimSpace(stripped))
}

// containsWord matches kw as a whole word or as a substring of a longer
// token when the keyword itself is multi-rune; single substring semantics
// keep matching cheap while avoiding one-letter false hits.
func containsWord(text, kw string) bool {
	idx := strings.Index(text, kw)
	for idx >= 0 {
		before := idx == 0 || !isWordRune(rune(text[idx-1]))
		afterIdx := idx + len(kw)
		after := afterIdx >= len(text) || !isWordRune(rune(text[afterIdx]))
		if before && after {
			return true
		}
		next := strings.Index(text[idx+1:], kw)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
