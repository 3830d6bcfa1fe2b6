package engine

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/trainer-tales/internal/models"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Intent is the handler a turn is routed to.
type Intent string

const (
	IntentNarration Intent = "narration"
	IntentRoll      Intent = "roll"
	IntentState     Intent = "state"
	IntentLore      Intent = "lore"
	IntentDesign    Intent = "design"
)

// Intents lists every routable intent.
var Intents = []Intent{IntentNarration, IntentRoll, IntentState, IntentLore, IntentDesign}

// ParseIntent matches s against the known intents, ignoring case and space.
func ParseIntent(s string) (Intent, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, in := range Intents {
		if s == string(in) {
			return in, true
		}
	}
	return "", false
}

// EventKind is the event_log kind recorded for a dispatched intent.
func (i Intent) EventKind() models.EventKind {
	switch i {
	case IntentRoll:
		return models.EventRoll
	case IntentState:
		return models.EventState
	case IntentLore:
		return models.EventLore
	case IntentDesign:
		return models.EventDesign
	}
	return models.EventNarration
}

// FallbackNarration is shown when an agent reply carries no usable text.
const FallbackNarration = "The story pauses for a moment. What would you like to do next?"

// Engine routes player input and runs the per-intent agents on a Generator.
type Engine struct {
	gen       Generator
	logger    *zap.Logger
	templates *template.Template
}

// New parses the embedded prompts and returns an Engine on gen.
func New(gen Generator, logger *zap.Logger) (*Engine, error) {
	tmpl, err := template.ParseFS(promptFS, "prompts/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return &Engine{gen: gen, logger: logger, templates: tmpl}, nil
}

// Turn is the input to one agent call.
type Turn struct {
	Input   string
	Session *models.Session
	// Lore holds canon payloads keyed by "<kind>/<key>" for the lore agent.
	Lore map[string]any
	// Roll is the d20 result for the roll agent.
	Roll int
}

// BattleOutcome is an agent's report that the active battle ended.
type BattleOutcome struct {
	Result        string
	TypeAdvantage bool
}

// AgentResult is what an agent hands back to the orchestrator. Update is an
// untrusted partial document and must go through merge before use.
type AgentResult struct {
	Intent    Intent
	Narration string
	Choices   []models.Choice
	Update    map[string]any
	Outcome   *BattleOutcome
	Stage     ParseStage
}

type promptData struct {
	State     string
	Input     string
	Lore      string
	Roll      int
	Battle    bool
	Persona   string
	Narration string
	Choices   []string
}

func (e *Engine) render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name+".txt", data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

func turnData(t Turn) promptData {
	ps := ToPromptState(t.Session)
	data := promptData{
		State:  ps.YAML(),
		Input:  t.Input,
		Roll:   t.Roll,
		Battle: ps.Battle != nil,
	}
	if len(t.Lore) > 0 {
		if out, err := yaml.Marshal(t.Lore); err == nil {
			data.Lore = string(out)
		}
	}
	return data
}

var intentWord = regexp.MustCompile(`\b(narration|roll|state|lore|design)\b`)

// Classify routes input to an intent. Any failure, including an unreadable
// reply, routes to narration.
func (e *Engine) Classify(ctx context.Context, input string, doc *models.Session) Intent {
	prompt, err := e.render("router", turnData(Turn{Input: input, Session: doc}))
	if err != nil {
		e.logger.Error("router prompt failed", zap.Error(err))
		return IntentNarration
	}
	text, err := e.gen.Generate(ctx, Request{Prompt: prompt, JSON: true})
	if err != nil {
		e.logger.Warn("intent classification failed, defaulting to narration", zap.Error(err))
		return IntentNarration
	}
	obj, stage := ParseObject(text, nil)
	if s, ok := obj["intent"].(string); ok {
		if in, ok := ParseIntent(s); ok {
			return in
		}
	}
	if stage == StageFallback {
		if m := intentWord.FindString(strings.ToLower(text)); m != "" {
			return Intent(m)
		}
	}
	e.logger.Warn("unrecognized intent, defaulting to narration", zap.String("reply", text))
	return IntentNarration
}

// Dispatch runs the agent for intent. A generation error is returned as is;
// the turn must not mutate state when it fails.
func (e *Engine) Dispatch(ctx context.Context, intent Intent, t Turn) (*AgentResult, error) {
	prompt, err := e.render(string(intent), turnData(t))
	if err != nil {
		return nil, err
	}
	text, err := e.gen.Generate(ctx, Request{Prompt: prompt, JSON: true})
	if err != nil {
		return nil, err
	}
	obj, stage := ParseObject(text, fallbackObject(text))
	if stage != StageStrict {
		e.logger.Debug("agent reply needed lenient parsing",
			zap.String("intent", string(intent)),
			zap.Stringer("stage", stage))
	}
	res := &AgentResult{
		Intent:  intent,
		Choices: parseChoices(obj["choices"]),
		Stage:   stage,
	}
	res.Narration, _ = obj["narration"].(string)
	res.Narration = strings.TrimSpace(res.Narration)
	if res.Narration == "" {
		res.Narration = FallbackNarration
	}
	if u, ok := obj["state_update"].(map[string]any); ok && len(u) > 0 {
		res.Update = u
	}
	res.Outcome = parseOutcome(obj["battle_outcome"])
	return res, nil
}

// fallbackObject is the last rung of the parse ladder. Plain prose is kept
// as narration; anything that looks like broken JSON is not shown.
func fallbackObject(text string) map[string]any {
	clean := stripFences(text)
	if clean == "" || strings.ContainsAny(clean, "{}") {
		return map[string]any{"narration": FallbackNarration}
	}
	return map[string]any{"narration": clean}
}

var choiceID = regexp.MustCompile(`[^a-z0-9_]+`)

func parseChoices(v any) []models.Choice {
	items, _ := v.([]any)
	seen := map[string]bool{}
	var out []models.Choice
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		label, _ := m["label"].(string)
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		id, _ := m["choice_id"].(string)
		if id == "" {
			id = label
		}
		id = strings.Trim(choiceID.ReplaceAllString(strings.ToLower(id), "_"), "_")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		desc, _ := m["description"].(string)
		risk, _ := m["risk"].(string)
		if models.RiskRank(risk) > models.RiskRank(models.RiskHigh) {
			risk = models.RiskMedium
		}
		out = append(out, models.Choice{ChoiceID: id, Label: label, Description: desc, Risk: risk})
	}
	return out
}

func parseOutcome(v any) *BattleOutcome {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	result, _ := m["result"].(string)
	result = strings.ToLower(strings.TrimSpace(result))
	if result == "" {
		return nil
	}
	adv, _ := m["type_advantage"].(bool)
	return &BattleOutcome{Result: result, TypeAdvantage: adv}
}

// DefaultChoices are offered when an agent returns none.
func DefaultChoices() []models.Choice {
	return []models.Choice{
		{ChoiceID: "continue", Label: "Continue", Description: "Carry on with the journey.", Risk: models.RiskLow},
		{ChoiceID: "explore", Label: "Explore", Description: "Look for something new nearby.", Risk: models.RiskMedium},
		{ChoiceID: "rest", Label: "Rest", Description: "Take a moment to recover.", Risk: models.RiskLow},
	}
}

// NextPlayerInput asks the generator to act as a player. It drives the
// simulation harness.
func (e *Engine) NextPlayerInput(ctx context.Context, persona, narration string, choices []models.Choice) (string, error) {
	data := promptData{Persona: persona, Narration: narration}
	for _, c := range choices {
		data.Choices = append(data.Choices, c.Label)
	}
	prompt, err := e.render("player", data)
	if err != nil {
		return "", err
	}
	text, err := e.gen.Generate(ctx, Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(stripFences(text)), nil
}
