package progression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/trainer-tales/internal/merge"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func starterSession(t *testing.T) (*schema.Validator, *models.Session) {
	t.Helper()
	v, err := schema.Default()
	require.NoError(t, err)
	doc := models.NewSession("sess-test", testNow)
	update, err := models.StarterUpdate(doc.Session.EventLog, testNow)
	require.NoError(t, err)
	seeded, err := merge.Apply(v, doc, update)
	require.NoError(t, err)
	return v, seeded
}

// withWonEncounter adds a resolved wild encounter to the document.
func withWonEncounter(t *testing.T, v *schema.Validator, doc *models.Session) *models.Session {
	t.Helper()
	resolved := testNow
	enc := models.Encounter{
		EncounterID: "enc_1",
		Kind:        models.EncounterWild,
		Status:      models.EncounterWon,
		Difficulty:  "normal",
		Opponent: models.Opponent{
			SlotID:     "wild_1",
			Name:       "Pidgey",
			SpeciesRef: models.Canon("pidgey"),
			Level:      5,
			Types:      []string{"normal", "flying"},
			Stats:      models.BattleStats{HP: 19, MaxHP: 19, Attack: 9, Defense: 8, SpAttack: 8, SpDefense: 8, Speed: 10},
		},
		StartedAt:  testNow,
		ResolvedAt: &resolved,
	}
	update, err := models.JSONValue(map[string]any{"session": map[string]any{"encounters": []models.Encounter{enc}}})
	require.NoError(t, err)
	next, err := merge.Apply(v, doc, update.(map[string]any))
	require.NoError(t, err)
	return next
}

func TestXP(t *testing.T) {
	tests := []struct {
		name string
		e    Event
		want int
	}{
		{"win", Event{OpponentLevel: 5, Result: Win, Participants: []string{"a"}}, 75},
		{"loss", Event{OpponentLevel: 5, Result: Loss, Participants: []string{"a"}}, 25},
		{"fled", Event{OpponentLevel: 5, Result: Fled, Participants: []string{"a"}}, 0},
		{"bonuses", Event{OpponentLevel: 5, Result: Win, FirstTime: true, TypeAdvantage: true, Participants: []string{"a"}}, 150},
		{"two participants", Event{OpponentLevel: 10, Result: Win, Participants: []string{"a", "b"}}, 165},
		{"three participants", Event{OpponentLevel: 4, Result: Loss, Participants: []string{"a", "b", "c"}}, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, XP(tt.e))
		})
	}
}

func TestLevelUp(t *testing.T) {
	p := models.PartyMember{Level: 5, Stats: models.BattleStats{HP: 15, MaxHP: 20, Attack: 11, Defense: 9, SpAttack: 10, SpDefense: 10, Speed: 14}}
	next, ok := LevelUp(p)
	require.True(t, ok)
	assert.Equal(t, 6, next.Level)
	assert.Equal(t, models.BattleStats{HP: 16, MaxHP: 22, Attack: 12, Defense: 9, SpAttack: 11, SpDefense: 11, Speed: 15}, next.Stats)
	assert.Equal(t, 5, p.Level, "input must not change")

	capped, ok := LevelUp(models.PartyMember{Level: MaxLevel})
	assert.False(t, ok)
	assert.Equal(t, MaxLevel, capped.Level)
}

func TestGrantBadgeOnce(t *testing.T) {
	c := &models.Character{}
	assert.True(t, GrantBadge(c, "badge_first_battle", "First Battle", testNow))
	assert.False(t, GrantBadge(c, "badge_first_battle", "First Battle", testNow))
	assert.Equal(t, 1, c.Progression.Badges)
	assert.Len(t, c.Achievements, 1)
}

func TestGrantBadgeCap(t *testing.T) {
	c := &models.Character{Progression: models.Progression{Badges: MaxBadges}}
	assert.False(t, GrantBadge(c, "badge_extra", "Extra", testNow))
	assert.Equal(t, MaxBadges, c.Progression.Badges)
	assert.Empty(t, c.Achievements)
}

func TestCompleteMilestone(t *testing.T) {
	c := &models.Character{Progression: models.Progression{Milestones: []models.Milestone{
		{MilestoneID: "ms_first_steps", Title: "Leave Pallet Town", Status: models.MilestonePending},
	}}}
	assert.True(t, CompleteMilestone(c, "ms_first_steps", "First Steps", testNow))
	assert.Equal(t, models.MilestoneCompleted, c.Progression.Milestones[0].Status)
	require.Len(t, c.Achievements, 1)
	assert.Equal(t, "Leave Pallet Town", c.Achievements[0].Title)
	assert.False(t, CompleteMilestone(c, "ms_first_steps", "First Steps", testNow))
	assert.Len(t, c.Achievements, 1)
}

func TestApply(t *testing.T) {
	v, doc := starterSession(t)
	doc = withWonEncounter(t, v, doc)
	g := New(v, nil)

	e := Event{
		CharacterID:   "char_player",
		Participants:  []string{"pkmn_starter"},
		OpponentLevel: 5,
		Result:        Win,
		FirstTime:     true,
		EncounterID:   "enc_1",
	}
	out, err := g.Apply(doc, e, testNow)
	require.NoError(t, err)
	assert.Equal(t, 125, out.XP)
	require.Len(t, out.Levels, 1)
	assert.Equal(t, LevelGain{InstanceID: "pkmn_starter", Name: "Pikachu", From: 5, To: 6}, out.Levels[0])
	assert.ElementsMatch(t, []string{"badge_first_battle", "ms_first_steps"}, out.Granted)

	c, ok := out.Document.Character("char_player")
	require.True(t, ok)
	assert.Equal(t, 6, c.PokemonParty[0].Level)
	assert.Equal(t, 1, c.Progression.Badges)

	// A second qualifying event levels again but never re-grants the badge.
	again, err := g.Apply(out.Document, e, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, again.Granted)
	c, _ = again.Document.Character("char_player")
	assert.Equal(t, 7, c.PokemonParty[0].Level)
	assert.Equal(t, 1, c.Progression.Badges)
	badges := 0
	for _, a := range c.Achievements {
		if a.AchievementID == "badge_first_battle" {
			badges++
		}
	}
	assert.Equal(t, 1, badges)
}

func TestApplyNoChange(t *testing.T) {
	v, doc := starterSession(t)
	out, err := New(v, []Rule{}).Apply(doc, Event{CharacterID: "char_player", Result: Fled, Participants: []string{"pkmn_starter"}}, testNow)
	require.NoError(t, err)
	assert.Same(t, doc, out.Document)
	assert.Zero(t, out.XP)
}

func TestApplyUnknownCharacter(t *testing.T) {
	v, doc := starterSession(t)
	_, err := New(v, nil).Apply(doc, Event{CharacterID: "nobody"}, testNow)
	assert.Error(t, err)
}
