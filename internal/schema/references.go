package schema

import (
	"fmt"
	"strings"

	"github.com/tatianab/trainer-tales/internal/models"
)

// CheckReferences enforces the relational invariants between sections of the
// document: ids line up, referenced locations and battle participants exist,
// and custom species never alias canon data.
func CheckReferences(s *models.Session) Violations {
	var vs Violations
	add := func(path, format string, args ...any) {
		vs = append(vs, Violation{Path: path, Constraint: fmt.Sprintf(format, args...)})
	}

	if s.Session.CampaignID != s.Campaign.CampaignID {
		add("/session/campaign_id", "must equal campaign.campaign_id %q", s.Campaign.CampaignID)
	}

	locations := make(map[string]bool, len(s.Campaign.Locations))
	for i, loc := range s.Campaign.Locations {
		if locations[loc.LocationID] {
			add(fmt.Sprintf("/campaign/locations/%d/location_id", i), "duplicate location id %q", loc.LocationID)
		}
		locations[loc.LocationID] = true
	}
	checkLoc := func(path string, id *string) {
		if id != nil && !locations[*id] {
			add(path, "location %q is not defined in campaign.locations", *id)
		}
	}
	for i, loc := range s.Campaign.Locations {
		for j, c := range loc.Connections {
			checkLoc(fmt.Sprintf("/campaign/locations/%d/connections/%d", i, j), &c)
		}
	}
	for i, npc := range s.Campaign.RecurringNPCs {
		checkLoc(fmt.Sprintf("/campaign/recurring_npcs/%d/home_location_id", i), npc.HomeLocationID)
	}
	checkLoc("/session/scene/location_id", s.Session.Scene.LocationID)
	for i, d := range s.Continuity.DiscoveredPokemon {
		loc := d.LocationID
		checkLoc(fmt.Sprintf("/continuity/discovered_pokemon/%d/location_id", i), &loc)
		checkSpecies(s, fmt.Sprintf("/continuity/discovered_pokemon/%d/species_ref", i), d.SpeciesRef, add)
	}
	for i, t := range s.Continuity.Timeline {
		checkLoc(fmt.Sprintf("/continuity/timeline/%d/location_id", i), t.LocationID)
	}

	characters := make(map[string]bool, len(s.Characters))
	participants := make(map[string]bool)
	for i, c := range s.Characters {
		base := fmt.Sprintf("/characters/%d", i)
		if characters[c.CharacterID] {
			add(base+"/character_id", "duplicate character id %q", c.CharacterID)
		}
		characters[c.CharacterID] = true
		checkLoc(base+"/trainer/hometown", c.Trainer.Hometown)
		for j, p := range c.PokemonParty {
			pbase := fmt.Sprintf("%s/pokemon_party/%d", base, j)
			if participants[p.InstanceID] {
				add(pbase+"/instance_id", "duplicate party instance id %q", p.InstanceID)
			}
			participants[p.InstanceID] = true
			checkLoc(pbase+"/caught_at", p.CaughtAt)
			checkSpecies(s, pbase+"/species_ref", p.SpeciesRef, add)
			if p.FormRef.Kind == models.FormCustom {
				if _, ok := s.CustomDex.Pokemon[p.FormRef.CustomID]; !ok {
					add(pbase+"/form_ref/custom_id", "custom form %q is not registered in custom_dex", p.FormRef.CustomID)
				}
			}
			if p.Stats.HP > p.Stats.MaxHP {
				add(pbase+"/stats/hp", "hp %d exceeds max_hp %d", p.Stats.HP, p.Stats.MaxHP)
			}
		}
	}

	declared := make(map[string]bool, len(s.Session.CharacterIDs))
	for i, id := range s.Session.CharacterIDs {
		declared[id] = true
		if !characters[id] {
			add(fmt.Sprintf("/session/character_ids/%d", i), "character %q has no entry in characters", id)
		}
	}
	for i, c := range s.Characters {
		if !declared[c.CharacterID] {
			add(fmt.Sprintf("/characters/%d/character_id", i), "character %q is missing from session.character_ids", c.CharacterID)
		}
	}

	encounters := make(map[string]models.Encounter, len(s.Session.Encounters))
	for i, e := range s.Session.Encounters {
		participants[e.Opponent.SlotID] = true
		encounters[e.EncounterID] = e
		checkSpecies(s, fmt.Sprintf("/session/encounters/%d/opponent/species_ref", i), e.Opponent.SpeciesRef, add)
	}
	bs := s.Session.BattleState
	for i, slot := range bs.TurnOrder {
		if !participants[slot.Ref] {
			add(fmt.Sprintf("/session/battle_state/turn_order/%d/ref", i), "turn order ref %q matches no party member or encounter slot", slot.Ref)
		}
	}
	if bs.EncounterID != nil {
		if _, ok := encounters[*bs.EncounterID]; !ok {
			add("/session/battle_state/encounter_id", "encounter %q not found in session.encounters", *bs.EncounterID)
		}
	}
	if bs.Active && bs.EncounterID == nil {
		add("/session/battle_state/encounter_id", "an active battle must reference its encounter")
	}

	choices := make(map[string]bool, len(s.Session.PlayerChoices.Presented))
	for i, c := range s.Session.PlayerChoices.Presented {
		if choices[c.ChoiceID] {
			add(fmt.Sprintf("/session/player_choices/presented/%d/choice_id", i), "duplicate choice id %q", c.ChoiceID)
		}
		choices[c.ChoiceID] = true
	}
	if sd := s.Session.PlayerChoices.SafeDefault; sd != nil && !choices[*sd] {
		add("/session/player_choices/safe_default", "safe default %q is not a presented choice", *sd)
	}

	for key, entry := range s.CustomDex.Pokemon {
		path := "/custom_dex/pokemon/" + key
		if entry.ID != key {
			add(path+"/id", "id %q must match its registry key", entry.ID)
		}
		if aliasesCanon(s, key) {
			add(path, "custom entry %q aliases a canon cache id", key)
		}
	}

	limit := s.Dex.CachePolicy.MaxEntriesPerKind
	for kind, bucket := range s.Dex.CanonCache {
		if limit > 0 && len(bucket) > limit {
			add("/dex/canon_cache/"+string(kind), "%d entries exceed max_entries_per_kind %d", len(bucket), limit)
		}
	}
	return vs
}

func checkSpecies(s *models.Session, path string, ref models.SpeciesRef, add func(string, string, ...any)) {
	if ref.Kind != models.RefCustom {
		return
	}
	if _, ok := s.CustomDex.Pokemon[ref.ID]; !ok {
		add(path, "custom species %q is not registered in custom_dex", ref.ID)
	}
}

func aliasesCanon(s *models.Session, id string) bool {
	for _, kind := range []models.CanonKind{models.KindPokemon, models.KindSpecies} {
		bucket := s.Dex.CanonCache[kind]
		if _, ok := bucket[id]; ok {
			return true
		}
		if _, ok := bucket[strings.TrimPrefix(id, models.CustomIDPrefix)]; ok {
			return true
		}
	}
	return false
}
