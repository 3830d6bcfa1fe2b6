// Package encounter derives complete encounter and battle sub-states from a
// session. Nothing here persists anything; callers merge the returned update.
package encounter

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tatianab/trainer-tales/internal/models"
)

const (
	// TrainerLevelOffset is added to the lead level for trainer opponents.
	TrainerLevelOffset = 3
	MinLevel           = 2
	MaxLevel           = 100

	// HardLevel is the opponent level from which an encounter is labeled hard.
	HardLevel = 15
	// EasyAfterFailures switches the label to easy regardless of level.
	EasyAfterFailures = 2
)

// Difficulty labels.
const (
	DifficultyEasy   = "easy"
	DifficultyNormal = "normal"
	DifficultyHard   = "hard"
)

var (
	ErrBattleActive = errors.New("encounter: a battle is already active")
	ErrNoParty      = errors.New("encounter: the party has no pokémon")
)

// Synthesizer builds encounters from a catalog of opponent profiles.
type Synthesizer struct {
	catalog *Catalog
}

// New returns a synthesizer over the given catalog.
func New(catalog *Catalog) *Synthesizer {
	return &Synthesizer{catalog: catalog}
}

// Result is a fully assembled encounter ready to merge into a session.
type Result struct {
	Encounter   models.Encounter
	BattleState models.BattleState
	Choices     []models.Choice
	SafeDefault string
	Events      []models.Event
	Narration   string
	Discovery   *models.Discovery
}

// Synthesize creates a new encounter of the given kind. All randomness comes
// from rng, so a fixed seed yields a fixed encounter.
func (s *Synthesizer) Synthesize(doc *models.Session, kind models.EncounterKind, rng *rand.Rand, now time.Time) (*Result, error) {
	if doc.Session.BattleState.Active {
		return nil, ErrBattleActive
	}
	lead, ok := doc.LeadPokemon()
	if !ok {
		return nil, ErrNoParty
	}
	if kind != models.EncounterWild && kind != models.EncounterTrainer {
		return nil, fmt.Errorf("encounter: unknown kind %q", kind)
	}
	now = now.UTC()

	profiles := s.catalog.profiles(kind)
	profile := profiles[rng.IntN(len(profiles))]

	level := OpponentLevel(kind, lead.Level, rng)
	seq := len(doc.Session.Encounters) + 1
	slotID := fmt.Sprintf("%s_%d", kind, seq)
	encounterID := fmt.Sprintf("enc_%d_%08x", seq, rng.Uint32())

	opponent := models.Opponent{
		SlotID:     slotID,
		Name:       profile.Name,
		SpeciesRef: profile.species,
		Level:      level,
		Types:      append([]string(nil), profile.Types...),
		Stats:      ScaleStats(profile.BaseStats, level),
	}
	if profile.TrainerName != "" {
		name := profile.TrainerName
		opponent.TrainerName = &name
	}

	difficulty := Difficulty(doc.Session.FailSoftFlags.RecentFailures, level)
	enc := models.Encounter{
		EncounterID: encounterID,
		Kind:        kind,
		Status:      models.EncounterActive,
		Difficulty:  difficulty,
		Opponent:    opponent,
		StartedAt:   now,
	}

	choices := buildChoices(kind, lead, opponent)
	safe := models.SafeDefaultID(choices)

	encID := encounterID
	battle := models.BattleState{
		Active:       true,
		Round:        1,
		EncounterID:  &encID,
		TurnOrder:    TurnOrder(doc, slotID),
		FieldEffects: []models.FieldEffect{},
	}

	data := map[string]string{
		"encounter_id": encounterID,
		"kind":         string(kind),
		"difficulty":   difficulty,
		"level":        fmt.Sprint(level),
		"species":      opponent.SpeciesRef.String(),
	}
	encounterEvent := models.Event{
		EventID: eventID(rng),
		Kind:    models.EventEncounter,
		Summary: encounterSummary(kind, opponent),
		At:      now,
		Data:    data,
	}
	battleEvent := models.Event{
		EventID: eventID(rng),
		Kind:    models.EventBattle,
		Summary: fmt.Sprintf("Battle started: %s vs %s.", lead.DisplayName(), opponent.Name),
		At:      now,
		Data:    map[string]string{"encounter_id": encounterID, "round": "1"},
	}

	res := &Result{
		Encounter:   enc,
		BattleState: battle,
		Choices:     choices,
		SafeDefault: safe,
		Events:      []models.Event{encounterEvent, battleEvent},
		Narration:   narration(kind, profile, opponent, lead),
	}
	if kind == models.EncounterWild {
		res.Discovery = discovery(doc, opponent.SpeciesRef, now)
	}
	return res, nil
}

// OpponentLevel derives the opponent level from the lead party level.
func OpponentLevel(kind models.EncounterKind, leadLevel int, rng *rand.Rand) int {
	level := leadLevel
	if kind == models.EncounterTrainer {
		level += TrainerLevelOffset
	} else {
		level += rng.IntN(3) - 1
	}
	return clamp(level, MinLevel, MaxLevel)
}

// Difficulty labels an encounter. Repeated failures always soften it.
func Difficulty(recentFailures, opponentLevel int) string {
	switch {
	case recentFailures >= EasyAfterFailures:
		return DifficultyEasy
	case opponentLevel >= HardLevel:
		return DifficultyHard
	default:
		return DifficultyNormal
	}
}

// ScaleStats computes battle stats for a level.
func ScaleStats(b BaseStats, level int) models.BattleStats {
	stat := func(base int) int { return 2*base*level/100 + 5 }
	hp := 2*b.HP*level/100 + level + 10
	return models.BattleStats{
		HP:        hp,
		MaxHP:     hp,
		Attack:    stat(b.Attack),
		Defense:   stat(b.Defense),
		SpAttack:  stat(b.SpAttack),
		SpDefense: stat(b.SpDefense),
		Speed:     stat(b.Speed),
	}
}

// TurnOrder places the lead first, then the opponent slot, then the rest of
// every party in order. Each participant appears exactly once.
func TurnOrder(doc *models.Session, opponentSlot string) []models.TurnSlot {
	var party []string
	for _, c := range doc.Characters {
		for _, p := range c.PokemonParty {
			party = append(party, p.InstanceID)
		}
	}
	order := make([]models.TurnSlot, 0, len(party)+1)
	for i, id := range party {
		order = append(order, models.TurnSlot{Ref: id, Side: models.SidePlayer})
		if i == 0 {
			order = append(order, models.TurnSlot{Ref: opponentSlot, Side: models.SideOpponent})
		}
	}
	return order
}

func buildChoices(kind models.EncounterKind, lead *models.PartyMember, opp models.Opponent) []models.Choice {
	name := lead.DisplayName()
	if kind == models.EncounterTrainer {
		return []models.Choice{
			{ChoiceID: "fight", Label: "Battle with " + name, Description: fmt.Sprintf("Send %s against %s.", name, opp.Name), Risk: models.RiskMedium},
			{ChoiceID: "study", Label: "Study the opponent", Description: fmt.Sprintf("Watch how %s moves before committing.", opp.Name), Risk: models.RiskLow},
			{ChoiceID: "all_out", Label: "Go all out", Description: "Open with your strongest move and hope it lands.", Risk: models.RiskHigh},
		}
	}
	return []models.Choice{
		{ChoiceID: "fight", Label: "Battle with " + name, Description: fmt.Sprintf("Let %s take on the wild %s.", name, opp.Name), Risk: models.RiskMedium},
		{ChoiceID: "observe", Label: "Observe carefully", Description: fmt.Sprintf("Keep your distance and read the %s's mood.", opp.Name), Risk: models.RiskLow},
		{ChoiceID: "catch", Label: "Throw a Poké Ball", Description: "Try to catch it before it is weakened.", Risk: models.RiskHigh},
	}
}

func encounterSummary(kind models.EncounterKind, opp models.Opponent) string {
	if kind == models.EncounterTrainer && opp.TrainerName != nil {
		return fmt.Sprintf("%s challenged the party with %s (Lv. %d).", *opp.TrainerName, opp.Name, opp.Level)
	}
	return fmt.Sprintf("A wild %s (Lv. %d) appeared.", opp.Name, opp.Level)
}

func narration(kind models.EncounterKind, p Profile, opp models.Opponent, lead *models.PartyMember) string {
	if kind == models.EncounterTrainer && opp.TrainerName != nil {
		return fmt.Sprintf("%s %s. They send out %s (Lv. %d)! %s is ready.",
			*opp.TrainerName, p.Intro, opp.Name, opp.Level, lead.DisplayName())
	}
	return fmt.Sprintf("A wild %s (Lv. %d) %s! %s steps forward.",
		opp.Name, opp.Level, p.Intro, lead.DisplayName())
}

func discovery(doc *models.Session, ref models.SpeciesRef, now time.Time) *models.Discovery {
	loc := doc.Session.Scene.LocationID
	if loc == nil {
		return nil
	}
	if _, ok := doc.Location(*loc); !ok {
		return nil
	}
	for _, d := range doc.Continuity.DiscoveredPokemon {
		if d.SpeciesRef == ref {
			return nil
		}
	}
	return &models.Discovery{SpeciesRef: ref, LocationID: *loc, FirstSeenAt: now}
}

func eventID(rng *rand.Rand) string {
	return fmt.Sprintf("evt_%016x", rng.Uint64())
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
