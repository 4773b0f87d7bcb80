package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/vault-mind/internal/plan"
	"github.com/nidhogg/vault-mind/internal/provider"
	"go.uber.org/zap"
)

// Generator produces introspective artifacts. Timeouts and service
// faults surface as errors; the worker owns retry accounting.
type Generator interface {
	Reflect(ctx context.Context, agentID string, memories []string) (string, error)
	Evaluate(ctx context.Context, agentID string, memories []string) (*Evaluation, float64, error)
}

// ContextSource supplies recent memory content for prompt grounding.
// Retrieval and ranking live upstream; this is just the tap.
type ContextSource interface {
	RecentContext(ctx context.Context, agentID string, limit int) ([]string, error)
}

const reflectionPrompt = `You observe an autonomous agent's recent low-level memories.
Synthesize ONE higher-level insight: a statement about a pattern, belief,
or relationship that the individual observations support. Reply with the
insight text only, no preamble.

Recent memories:
%s`

const metacognitionPrompt = `You are the strategic self-evaluation process of an autonomous agent.
Review the recent memories below and assess how the agent's current
strategy is working. Reply with STRICT JSON, no prose outside it:

{
  "evaluation_text": "...",
  "strategy_adjustments": ["..."],
  "goal_modifications": ["..."],
  "schedule_modifications": [
    {"time_slot": "HH:MM", "activity": "...", "description": "...", "reason": "...", "priority": 1}
  ],
  "importance_score": 5.0
}

Priorities are integers 1-10. Propose schedule modifications only when
the evaluation genuinely warrants changing the day plan.

Recent memories:
%s`

// LLMGenerator implements Generator over the provider router.
type LLMGenerator struct {
	router *provider.Router
	model  string
	logger *zap.Logger
}

// NewLLMGenerator creates a generator using the given model for all
// agents (per-agent provider choice is the router's job).
func NewLLMGenerator(router *provider.Router, model string, logger *zap.Logger) *LLMGenerator {
	return &LLMGenerator{router: router, model: model, logger: logger}
}

// Reflect synthesizes a higher-level statement from recent memories.
func (g *LLMGenerator) Reflect(ctx context.Context, agentID string, memories []string) (string, error) {
	resp, err := g.router.Route(ctx, agentID, &provider.CompletionRequest{
		Model:       g.model,
		Temperature: 0.7,
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf(reflectionPrompt, formatMemories(memories))},
		},
	})
	if err != nil {
		return "", fmt.Errorf("generate reflection: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("generate reflection: empty completion")
	}
	return text, nil
}

// Evaluate runs a strategic self-evaluation and parses its structured
// result. A completion that cannot be parsed is reported as an error so
// the worker retries it like any other service fault.
func (g *LLMGenerator) Evaluate(ctx context.Context, agentID string, memories []string) (*Evaluation, float64, error) {
	resp, err := g.router.Route(ctx, agentID, &provider.CompletionRequest{
		Model:       g.model,
		Temperature: 0.4,
		Messages: []provider.Message{
			{Role: "user", Content: fmt.Sprintf(metacognitionPrompt, formatMemories(memories))},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("generate metacognition: %w", err)
	}
	return ParseEvaluation(resp.Content)
}

// evaluationPayload mirrors the JSON the model is asked to produce.
type evaluationPayload struct {
	EvaluationText        string              `json:"evaluation_text"`
	StrategyAdjustments   []string            `json:"strategy_adjustments"`
	GoalModifications     []string            `json:"goal_modifications"`
	ScheduleModifications []plan.Modification `json:"schedule_modifications"`
	ImportanceScore       float64             `json:"importance_score"`
}

// ParseEvaluation extracts the structured evaluation from a completion,
// tolerating markdown code fences around the JSON.
func ParseEvaluation(raw string) (*Evaluation, float64, error) {
	text := stripFences(raw)

	var payload evaluationPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, 0, fmt.Errorf("parse evaluation: %w", err)
	}
	if payload.EvaluationText == "" {
		return nil, 0, fmt.Errorf("parse evaluation: missing evaluation_text")
	}

	mods := payload.ScheduleModifications[:0]
	for _, m := range payload.ScheduleModifications {
		if m.Slot == "" || m.Activity == "" {
			continue
		}
		if m.Priority < 1 {
			m.Priority = 1
		}
		if m.Priority > 10 {
			m.Priority = 10
		}
		mods = append(mods, m)
	}

	return &Evaluation{
		EvaluationText:        payload.EvaluationText,
		StrategyAdjustments:   payload.StrategyAdjustments,
		GoalModifications:     payload.GoalModifications,
		ScheduleModifications: mods,
	}, payload.ImportanceScore, nil
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func formatMemories(memories []string) string {
	if len(memories) == 0 {
		return "(no recent memories supplied)"
	}
	var b strings.Builder
	for _, m := range memories {
		b.WriteString("- ")
		b.WriteString(m)
		b.WriteString("\n")
	}
	return b.String()
}
