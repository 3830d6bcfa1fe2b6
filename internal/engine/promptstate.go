package engine

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/tatianab/trainer-tales/internal/models"
)

const recentEvents = 8

// PromptState is the reduced view of a session that agents see.
type PromptState struct {
	Trainer    string          `yaml:"trainer,omitempty"`
	Party      []PromptPokemon `yaml:"party,omitempty"`
	Location   string          `yaml:"location,omitempty"`
	Scene      string          `yaml:"scene,omitempty"`
	Objectives []string        `yaml:"objectives,omitempty"`
	Battle     *PromptBattle   `yaml:"battle,omitempty"`
	Choices    []string        `yaml:"choices,omitempty"`
	Recent     []string        `yaml:"recent_events,omitempty"`
	Hooks      []string        `yaml:"open_hooks,omitempty"`
	Badges     int             `yaml:"badges"`
	AssistMode bool            `yaml:"assist_mode,omitempty"`
	// SkipRequested asks the narrator to move past the current scene.
	SkipRequested bool     `yaml:"skip_requested,omitempty"`
	Custom        []string `yaml:"custom_species,omitempty"`
}

// PromptPokemon is one party member as shown to agents.
type PromptPokemon struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Species string   `yaml:"species"`
	Level   int      `yaml:"level"`
	HP      string   `yaml:"hp"`
	Types   []string `yaml:"types,omitempty"`
	Moves   []string `yaml:"moves,omitempty"`
}

// PromptBattle summarizes the active battle.
type PromptBattle struct {
	Opponent   string `yaml:"opponent"`
	Level      int    `yaml:"level"`
	Difficulty string `yaml:"difficulty"`
	Round      int    `yaml:"round"`
}

// ToPromptState projects doc for a prompt.
func ToPromptState(doc *models.Session) *PromptState {
	ps := &PromptState{}
	if c, ok := doc.PrimaryCharacter(); ok {
		ps.Trainer = c.Trainer.Name
		ps.Badges = c.Progression.Badges
		for _, p := range c.PokemonParty {
			ps.Party = append(ps.Party, PromptPokemon{
				ID:      p.InstanceID,
				Name:    p.DisplayName(),
				Species: p.SpeciesRef.String(),
				Level:   p.Level,
				HP:      fmt.Sprintf("%d/%d", p.Stats.HP, p.Stats.MaxHP),
				Types:   p.Types,
				Moves:   p.Moves,
			})
		}
	}
	if id := doc.Session.Scene.LocationID; id != nil {
		if loc, ok := doc.Location(*id); ok {
			ps.Location = loc.Name
		}
	}
	ps.Scene = doc.Session.Scene.Description
	for _, o := range doc.Session.CurrentObjectives {
		if o.Status == models.ObjectiveActive {
			ps.Objectives = append(ps.Objectives, o.Text)
		}
	}
	if bs := doc.Session.BattleState; bs.Active && bs.EncounterID != nil {
		for _, e := range doc.Session.Encounters {
			if e.EncounterID == *bs.EncounterID {
				ps.Battle = &PromptBattle{Opponent: e.Opponent.Name, Level: e.Opponent.Level, Difficulty: e.Difficulty, Round: bs.Round}
			}
		}
	}
	for _, c := range doc.Session.PlayerChoices.Presented {
		ps.Choices = append(ps.Choices, c.ChoiceID+": "+c.Label)
	}
	log := doc.Session.EventLog
	if len(log) > recentEvents {
		log = log[len(log)-recentEvents:]
	}
	for _, e := range log {
		ps.Recent = append(ps.Recent, string(e.Kind)+": "+e.Summary)
	}
	for _, h := range doc.Continuity.UnresolvedHooks {
		if h.Status != models.HookResolved {
			ps.Hooks = append(ps.Hooks, h.Text)
		}
	}
	for id := range doc.CustomDex.Pokemon {
		ps.Custom = append(ps.Custom, id)
	}
	slices.Sort(ps.Custom)
	ps.AssistMode = doc.Session.FailSoftFlags.AssistMode
	ps.SkipRequested = doc.Session.Controls.SkipRequested
	return ps
}

// YAML renders the state for embedding in a prompt.
func (ps *PromptState) YAML() string {
	out, err := yaml.Marshal(ps)
	if err != nil {
		return ""
	}
	return string(out)
}
