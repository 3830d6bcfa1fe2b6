// Package progression turns battle outcomes into experience, level-ups,
// badges and milestones.
//
// No XP ledger is kept. Every qualifying event is evaluated on its own: a
// participant whose share for that event reaches LevelThreshold gains exactly
// one level.
package progression

import (
	"fmt"
	"math"
	"time"

	"github.com/tatianab/trainer-tales/internal/merge"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
)

const (
	XPPerOpponentLevel = 10
	FirstTimeBonus     = 50
	TypeAdvantageBonus = 25
	LevelThreshold     = 100
	MaxBadges          = 8
	MaxLevel           = 100

	winMultiplier  = 1.5
	lossMultiplier = 0.5
	statGrowth     = 1.10
)

// Result of a battle as far as progression is concerned.
type Result string

const (
	Win  Result = "win"
	Loss Result = "loss"
	Fled Result = "fled"
)

// Event is a battle or encounter outcome.
type Event struct {
	CharacterID   string
	Participants  []string
	OpponentLevel int
	Result        Result
	FirstTime     bool
	TypeAdvantage bool
	EncounterID   string
}

// XP computes the experience one event awards to each participant.
func XP(e Event) int {
	var mult float64
	switch e.Result {
	case Win:
		mult = winMultiplier
	case Loss:
		mult = lossMultiplier
	default:
		return 0
	}
	xp := float64(e.OpponentLevel*XPPerOpponentLevel) * mult
	if e.FirstTime {
		xp += FirstTimeBonus
	}
	if e.TypeAdvantage {
		xp += TypeAdvantageBonus
	}
	if n := len(e.Participants); n > 1 {
		xp *= 1 + 0.1*float64(n-1)
	}
	return int(math.Floor(xp))
}

// LevelUp raises p by one level, growing every stat by 10% (floored). A
// member already at MaxLevel is returned unchanged with false.
func LevelUp(p models.PartyMember) (models.PartyMember, bool) {
	if p.Level >= MaxLevel {
		return p, false
	}
	grow := func(v int) int { return int(math.Floor(float64(v) * statGrowth)) }
	p.Level++
	p.Stats = models.BattleStats{
		HP:        grow(p.Stats.HP),
		MaxHP:     grow(p.Stats.MaxHP),
		Attack:    grow(p.Stats.Attack),
		Defense:   grow(p.Stats.Defense),
		SpAttack:  grow(p.Stats.SpAttack),
		SpDefense: grow(p.Stats.SpDefense),
		Speed:     grow(p.Stats.Speed),
	}
	return p, true
}

// LevelGain records a single level-up.
type LevelGain struct {
	InstanceID string
	Name       string
	From, To   int
}

// Outcome is everything one event changed.
type Outcome struct {
	XP       int
	Levels   []LevelGain
	Granted  []string
	Events   []models.Event
	Document *models.Session
}

// Engine applies progression through the merge engine.
type Engine struct {
	validator *schema.Validator
	rules     []Rule
}

// New returns an engine evaluating rules after every event. A nil rule list
// selects DefaultRules.
func New(v *schema.Validator, rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{validator: v, rules: rules}
}

// Apply evaluates e against doc. On a rejected merge the returned error wraps
// *merge.Rejected and doc is left as it was.
func (g *Engine) Apply(doc *models.Session, e Event, now time.Time) (*Outcome, error) {
	now = now.UTC()
	idx := -1
	for i, c := range doc.Characters {
		if c.CharacterID == e.CharacterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("progression: character %q not found", e.CharacterID)
	}

	work, err := doc.Clone()
	if err != nil {
		return nil, err
	}
	char := &work.Characters[idx]
	out := &Outcome{XP: XP(e)}

	if out.XP >= LevelThreshold {
		participating := make(map[string]bool, len(e.Participants))
		for _, id := range e.Participants {
			participating[id] = true
		}
		for i, p := range char.PokemonParty {
			if !participating[p.InstanceID] {
				continue
			}
			next, ok := LevelUp(p)
			if !ok {
				continue
			}
			char.PokemonParty[i] = next
			out.Levels = append(out.Levels, LevelGain{InstanceID: p.InstanceID, Name: p.DisplayName(), From: p.Level, To: next.Level})
			ev := models.NewEvent(models.EventProgression, fmt.Sprintf("%s grew to Lv. %d.", p.DisplayName(), next.Level), now)
			ev.Data = map[string]string{"instance_id": p.InstanceID, "xp": fmt.Sprint(out.XP)}
			out.Events = append(out.Events, ev)
		}
	}

	for _, r := range g.rules {
		if !r.When(work, char) {
			continue
		}
		var granted bool
		if r.Kind == models.AchievementBadge {
			granted = GrantBadge(char, r.ID, r.Title, now)
		} else {
			granted = CompleteMilestone(char, r.ID, r.Title, now)
		}
		if granted {
			out.Granted = append(out.Granted, r.ID)
			out.Events = append(out.Events, models.NewEvent(models.EventProgression, fmt.Sprintf("%s earned: %s.", char.Trainer.Name, r.Title), now))
		}
	}

	if len(out.Levels) == 0 && len(out.Granted) == 0 {
		out.Document = doc
		return out, nil
	}

	update, err := models.JSONValue(map[string]any{
		"characters": work.Characters,
		"session": map[string]any{
			"event_log": models.AppendEvents(doc.Session.EventLog, out.Events...),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode progression update: %w", err)
	}
	next, err := merge.Apply(g.validator, doc, update.(map[string]any))
	if err != nil {
		return nil, fmt.Errorf("apply progression: %w", err)
	}
	out.Document = next
	return out, nil
}

// GrantBadge records a badge achievement at most once and never beyond
// MaxBadges. It reports whether anything changed.
func GrantBadge(c *models.Character, id, title string, now time.Time) bool {
	for _, a := range c.Achievements {
		if a.AchievementID == id {
			return false
		}
	}
	if c.Progression.Badges >= MaxBadges {
		return false
	}
	c.Progression.Badges++
	c.Achievements = append(c.Achievements, models.Achievement{
		AchievementID: id,
		Title:         title,
		Kind:          models.AchievementBadge,
		EarnedAt:      now.UTC(),
	})
	return true
}

// CompleteMilestone marks a milestone completed, adding it when absent, and
// records a matching achievement. Completed milestones are left untouched.
func CompleteMilestone(c *models.Character, id, title string, now time.Time) bool {
	now = now.UTC()
	found := false
	for i, m := range c.Progression.Milestones {
		if m.MilestoneID != id {
			continue
		}
		if m.Status == models.MilestoneCompleted {
			return false
		}
		c.Progression.Milestones[i].Status = models.MilestoneCompleted
		c.Progression.Milestones[i].CompletedAt = &now
		title = m.Title
		found = true
		break
	}
	if !found {
		c.Progression.Milestones = append(c.Progression.Milestones, models.Milestone{
			MilestoneID: id,
			Title:       title,
			Status:      models.MilestoneCompleted,
			CompletedAt: &now,
		})
	}
	for _, a := range c.Achievements {
		if a.AchievementID == id {
			return true
		}
	}
	c.Achievements = append(c.Achievements, models.Achievement{
		AchievementID: id,
		Title:         title,
		Kind:          models.AchievementMilestone,
		EarnedAt:      now,
	})
	return true
}
