package encounter

import (
	"fmt"
	"strings"
	"time"

	"github.com/tatianab/trainer-tales/internal/models"
)

// Update renders the result as a partial session update. Arrays replace
// wholesale on merge, so the encounter list and event log are submitted in full.
func (r *Result) Update(doc *models.Session) (map[string]any, error) {
	encounters := append(append([]models.Encounter(nil), doc.Session.Encounters...), r.Encounter)
	safe := r.SafeDefault
	session := map[string]any{
		"encounters":   encounters,
		"battle_state": r.BattleState,
		"player_choices": models.PlayerChoices{
			Presented:   r.Choices,
			SafeDefault: &safe,
			LastChoice:  doc.Session.PlayerChoices.LastChoice,
		},
		"event_log": models.AppendEvents(doc.Session.EventLog, r.Events...),
	}
	update := map[string]any{"session": session}
	if r.Discovery != nil {
		update["continuity"] = map[string]any{
			"discovered_pokemon": append(append([]models.Discovery(nil), doc.Continuity.DiscoveredPokemon...), *r.Discovery),
		}
	}
	v, err := models.JSONValue(update)
	if err != nil {
		return nil, fmt.Errorf("encode encounter update: %w", err)
	}
	return v.(map[string]any), nil
}

// Outcome is how an active battle ended.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeFled Outcome = "fled"
)

// ParseOutcome accepts the outcome names agents report.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomeWin, OutcomeLoss, OutcomeFled:
		return o, nil
	}
	return "", fmt.Errorf("encounter: unknown battle outcome %q", s)
}

// Resolution describes a closed battle.
type Resolution struct {
	Encounter models.Encounter
	Outcome   Outcome
	Update    map[string]any
	Event     models.Event
}

// Resolve closes the active battle with the given outcome. A loss counts
// toward recent failures and a win clears them; fleeing leaves them alone.
// Assist mode follows the failure count.
func Resolve(doc *models.Session, outcome Outcome, now time.Time) (*Resolution, error) {
	bs := doc.Session.BattleState
	if !bs.Active || bs.EncounterID == nil {
		return nil, fmt.Errorf("encounter: no active battle to resolve")
	}
	now = now.UTC()
	encounters := append([]models.Encounter(nil), doc.Session.Encounters...)
	idx := -1
	for i, e := range encounters {
		if e.EncounterID == *bs.EncounterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("encounter: active encounter %q not found", *bs.EncounterID)
	}
	enc := encounters[idx]
	switch outcome {
	case OutcomeWin:
		enc.Status = models.EncounterWon
	case OutcomeLoss:
		enc.Status = models.EncounterLost
	case OutcomeFled:
		enc.Status = models.EncounterFled
	default:
		return nil, fmt.Errorf("encounter: unknown battle outcome %q", outcome)
	}
	enc.ResolvedAt = &now
	encounters[idx] = enc

	flags := doc.Session.FailSoftFlags
	switch outcome {
	case OutcomeWin:
		flags.RecentFailures = 0
	case OutcomeLoss:
		flags.RecentFailures++
	}
	flags.AssistMode = flags.RecentFailures >= EasyAfterFailures

	ev := models.NewEvent(models.EventBattle, resolutionSummary(enc, outcome), now)
	ev.Data = map[string]string{"encounter_id": enc.EncounterID, "outcome": string(outcome)}

	update := map[string]any{
		"session": map[string]any{
			"encounters": encounters,
			"battle_state": models.BattleState{
				TurnOrder:    []models.TurnSlot{},
				FieldEffects: []models.FieldEffect{},
			},
			"fail_soft_flags": flags,
			"player_choices":  models.PlayerChoices{Presented: []models.Choice{}, LastChoice: doc.Session.PlayerChoices.LastChoice},
			"event_log":       models.AppendEvents(doc.Session.EventLog, ev),
		},
	}
	v, err := models.JSONValue(update)
	if err != nil {
		return nil, fmt.Errorf("encode resolution: %w", err)
	}
	m := v.(map[string]any)
	// Explicit nulls clear the battle reference and the stale safe default.
	sess := m["session"].(map[string]any)
	sess["battle_state"].(map[string]any)["encounter_id"] = nil
	sess["player_choices"].(map[string]any)["safe_default"] = nil
	return &Resolution{Encounter: enc, Outcome: outcome, Update: m, Event: ev}, nil
}

func resolutionSummary(enc models.Encounter, outcome Outcome) string {
	switch outcome {
	case OutcomeWin:
		return fmt.Sprintf("Defeated %s (Lv. %d).", enc.Opponent.Name, enc.Opponent.Level)
	case OutcomeLoss:
		return fmt.Sprintf("Lost to %s (Lv. %d).", enc.Opponent.Name, enc.Opponent.Level)
	default:
		return fmt.Sprintf("Got away from %s.", enc.Opponent.Name)
	}
}

var (
	battleKeywords  = []string{"battle", "fight", "encounter", "wild", "trainer", "challenge"}
	forwardKeywords = []string{"explore", "walk", "continue", "travel", "search", "venture", "forward", "onward", "head"}
)

// ShouldTrigger reports whether input should start an encounter, and which
// kind. Explicit battle words always qualify; movement words only do so while
// the session has never had an encounter.
func ShouldTrigger(doc *models.Session, input string) (models.EncounterKind, bool) {
	if doc.Session.BattleState.Active || doc.PartySize() == 0 {
		return "", false
	}
	words := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	if hasAny(words, battleKeywords) {
		if hasAny(words, []string{"trainer", "challenge"}) {
			return models.EncounterTrainer, true
		}
		return models.EncounterWild, true
	}
	if len(doc.Session.Encounters) == 0 && hasAny(words, forwardKeywords) {
		return models.EncounterWild, true
	}
	return "", false
}

func hasAny(words, keywords []string) bool {
	for _, w := range words {
		for _, k := range keywords {
			if w == k {
				return true
			}
		}
	}
	return false
}
