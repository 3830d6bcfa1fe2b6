package schema

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/trainer-tales/internal/models"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func validator(t *testing.T) *Validator {
	t.Helper()
	v, err := Default()
	require.NoError(t, err)
	return v
}

// seeded returns the starter document in its generic form.
func seeded(t *testing.T) map[string]any {
	t.Helper()
	doc, err := models.ToMap(models.NewSession("sess-1", epoch))
	require.NoError(t, err)
	update, err := models.StarterUpdate(nil, epoch)
	require.NoError(t, err)
	overlay(doc, update)
	return doc
}

func overlay(dst, src map[string]any) {
	for k, sv := range src {
		sm, ok := sv.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if ok && dok {
			overlay(dm, sm)
			continue
		}
		dst[k] = sv
	}
}

func section(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		m = m[k].(map[string]any)
	}
	return m
}

func hasPath(vs Violations, path string) bool {
	for _, v := range vs {
		if v.Path == path {
			return true
		}
	}
	return false
}

func TestValidateEmptyAndSeeded(t *testing.T) {
	v := validator(t)
	require.NoError(t, v.ValidateSession(models.NewSession("sess-1", epoch)))

	s, err := v.Validate(seeded(t))
	require.NoError(t, err)
	c, ok := s.PrimaryCharacter()
	require.True(t, ok)
	assert.Equal(t, "Red", c.Trainer.Name)
	assert.Equal(t, models.Canon("pikachu"), c.PokemonParty[0].SpeciesRef)
}

func TestValidateClosedWorld(t *testing.T) {
	v := validator(t)
	tests := map[string]func(m map[string]any){
		"unknown top-level field": func(m map[string]any) { m["extras"] = map[string]any{} },
		"unknown nested field":    func(m map[string]any) { section(m, "session", "scene")["weather"] = "rain" },
		"wrong type":              func(m map[string]any) { section(m, "state_versioning")["revision"] = "one" },
		"bad species ref": func(m map[string]any) {
			section(m, "continuity")["discovered_pokemon"] = []any{map[string]any{"species_ref": "pikachu"}}
		},
		"bad risk": func(m map[string]any) {
			section(m, "session", "player_choices")["presented"] = []any{map[string]any{"choice_id": "a", "label": "A", "description": "", "risk": "extreme"}}
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			m := seeded(t)
			mutate(m)
			_, err := v.Validate(m)
			vs, ok := AsViolations(err)
			require.True(t, ok, "want Violations, got %v", err)
			assert.NotEmpty(t, vs)
		})
	}
}

func TestValidateNulls(t *testing.T) {
	v := validator(t)

	// A null optional field reads as absent.
	m := seeded(t)
	section(m, "session", "scene")["mood"] = nil
	s, err := v.Validate(m)
	require.NoError(t, err)
	assert.Nil(t, s.Session.Scene.Mood)
	assert.Contains(t, section(m, "session", "scene"), "mood", "input must not be modified")

	// A null required field is a missing field.
	m = seeded(t)
	section(m, "session", "scene")["description"] = nil
	_, err = v.Validate(m)
	assert.Error(t, err)
}

func TestCheckReferences(t *testing.T) {
	v := validator(t)
	tests := []struct {
		name   string
		mutate func(m map[string]any)
		path   string
	}{
		{
			name:   "unknown scene location",
			mutate: func(m map[string]any) { section(m, "session", "scene")["location_id"] = "cerulean_city" },
			path:   "/session/scene/location_id",
		},
		{
			name:   "campaign id mismatch",
			mutate: func(m map[string]any) { section(m, "session")["campaign_id"] = "other" },
			path:   "/session/campaign_id",
		},
		{
			name:   "undeclared character",
			mutate: func(m map[string]any) { section(m, "session")["character_ids"] = []any{} },
			path:   "/characters/0/character_id",
		},
		{
			name: "unregistered custom species",
			mutate: func(m map[string]any) {
				party := m["characters"].([]any)[0].(map[string]any)["pokemon_party"].([]any)
				party[0].(map[string]any)["species_ref"] = "custom:cstm_ember_fox"
			},
			path: "/characters/0/pokemon_party/0/species_ref",
		},
		{
			name:   "safe default not presented",
			mutate: func(m map[string]any) { section(m, "session", "player_choices")["safe_default"] = "run_away" },
			path:   "/session/player_choices/safe_default",
		},
		{
			name: "hp above max",
			mutate: func(m map[string]any) {
				party := m["characters"].([]any)[0].(map[string]any)["pokemon_party"].([]any)
				section(party[0].(map[string]any), "stats")["hp"] = 99.0
			},
			path: "/characters/0/pokemon_party/0/stats/hp",
		},
		{
			name: "active battle without encounter",
			mutate: func(m map[string]any) {
				section(m, "session", "battle_state")["active"] = true
			},
			path: "/session/battle_state/encounter_id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := seeded(t)
			tt.mutate(m)
			_, err := v.Validate(m)
			vs, ok := AsViolations(err)
			require.True(t, ok, "want Violations, got %v", err)
			assert.True(t, hasPath(vs, tt.path), "violations %v lack %s", vs, tt.path)
		})
	}
}

func TestCacheBound(t *testing.T) {
	s := models.NewSession("sess-1", epoch)
	s.Dex.CachePolicy.MaxEntriesPerKind = 2
	for i := 0; i < 3; i++ {
		s.Dex.CanonCache[models.KindPokemon][fmt.Sprintf("p%d", i)] = models.CacheEntry{Payload: map[string]any{}, CachedAt: epoch}
	}
	vs := CheckReferences(s)
	assert.True(t, hasPath(vs, "/dex/canon_cache/pokemon"), "got %v", vs)
}

func TestCustomMayNotAliasCanon(t *testing.T) {
	s := models.NewSession("sess-1", epoch)
	s.Dex.CanonCache[models.KindPokemon]["ember_fox"] = models.CacheEntry{Payload: map[string]any{}, CachedAt: epoch}
	s.CustomDex.Pokemon = map[string]models.CustomPokemon{
		"cstm_ember_fox": {ID: "cstm_ember_fox", Name: "Ember Fox"},
	}
	vs := CheckReferences(s)
	assert.True(t, hasPath(vs, "/custom_dex/pokemon/cstm_ember_fox"), "got %v", vs)
}

func TestNormalizeNulls(t *testing.T) {
	in := map[string]any{
		"a": nil,
		"b": map[string]any{"c": nil, "d": 1.0},
		"e": []any{map[string]any{"f": nil}, nil},
	}
	got := NormalizeNulls(in)
	want := map[string]any{
		"b": map[string]any{"d": 1.0},
		"e": []any{map[string]any{}, nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NormalizeNulls mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, in, "a")
}

func TestViolationsError(t *testing.T) {
	err := fmt.Errorf("save: %w", Violations{{Path: "/a", Constraint: "required"}})
	vs, ok := AsViolations(err)
	require.True(t, ok)
	assert.Equal(t, "/a: required", vs[0].String())
	assert.Contains(t, err.Error(), "1 violation(s)")
}
