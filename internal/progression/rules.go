package progression

import "github.com/tatianab/trainer-tales/internal/models"

// Rule grants a badge or milestone once its predicate holds for a character.
type Rule struct {
	ID    string
	Title string
	Kind  string // models.AchievementBadge or models.AchievementMilestone
	When  func(doc *models.Session, c *models.Character) bool
}

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:    "badge_first_battle",
			Title: "First Battle",
			Kind:  models.AchievementBadge,
			When: func(doc *models.Session, _ *models.Character) bool {
				return countEncounters(doc, models.EncounterWon) >= 1
			},
		},
		{
			ID:    "ms_first_steps",
			Title: "First Steps",
			Kind:  models.AchievementMilestone,
			When: func(doc *models.Session, _ *models.Character) bool {
				return countEncounters(doc, "") >= 1
			},
		},
		{
			ID:    "ms_trainer_victory",
			Title: "Beat a Trainer",
			Kind:  models.AchievementMilestone,
			When: func(doc *models.Session, _ *models.Character) bool {
				for _, e := range doc.Session.Encounters {
					if e.Kind == models.EncounterTrainer && e.Status == models.EncounterWon {
						return true
					}
				}
				return false
			},
		},
		{
			ID:    "ms_level_10",
			Title: "Seasoned Partner",
			Kind:  models.AchievementMilestone,
			When: func(_ *models.Session, c *models.Character) bool {
				for _, p := range c.PokemonParty {
					if p.Level >= 10 {
						return true
					}
				}
				return false
			},
		},
	}
}

// countEncounters counts resolved encounters, or only those with the given
// status when status is set.
func countEncounters(doc *models.Session, status string) int {
	n := 0
	for _, e := range doc.Session.Encounters {
		if e.Status == models.EncounterActive {
			continue
		}
		if status == "" || e.Status == status {
			n++
		}
	}
	return n
}
