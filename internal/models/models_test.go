package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestParseSpeciesRef(t *testing.T) {
	tests := []struct {
		in      string
		want    SpeciesRef
		wantErr bool
	}{
		{in: "canon:pikachu", want: Canon("pikachu")},
		{in: "canon:mr-mime", want: Canon("mr-mime")},
		{in: "custom:cstm_ember_fox", want: Custom("cstm_ember_fox")},
		{in: "pikachu", wantErr: true},
		{in: "canon:Pikachu", wantErr: true},
		{in: "custom:ember_fox", wantErr: true},
		{in: "fakemon:x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSpeciesRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestSpeciesRefJSON(t *testing.T) {
	raw, err := json.Marshal(struct {
		Ref SpeciesRef `json:"ref"`
	}{Canon("eevee")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ref":"canon:eevee"}`, string(raw))

	_, err = json.Marshal(SpeciesRef{})
	assert.Error(t, err, "an unset ref must not serialize")

	var out struct {
		Ref SpeciesRef `json:"ref"`
	}
	assert.Error(t, json.Unmarshal([]byte(`{"ref":"custom:nope"}`), &out))
}

func TestNewSessionIsEmpty(t *testing.T) {
	s := NewSession("sess-1", epoch)
	assert.True(t, s.IsEmpty())
	assert.Equal(t, SchemaVersion, s.SchemaVersion)
	assert.Equal(t, s.Campaign.CampaignID, s.Session.CampaignID)
	assert.Len(t, s.Dex.CanonCache, len(CanonKinds))
	assert.Equal(t, DefaultCacheTTLHours, s.Dex.CachePolicy.TTLHours)

	// Every always-serialized collection is present, never null.
	m, err := ToMap(s)
	require.NoError(t, err)
	assert.Equal(t, []any{}, m["characters"])
	session := m["session"].(map[string]any)
	assert.Equal(t, []any{}, session["event_log"])

	tests := map[string]func(*Session){
		"trainer":   func(s *Session) { s.Characters = []Character{{Trainer: TrainerProfile{Name: "Red"}}} },
		"party":     func(s *Session) { s.Characters = []Character{{PokemonParty: []PartyMember{{Level: 5}}}} },
		"scene":     func(s *Session) { s.Session.Scene.Description = "A quiet lab." },
		"objective": func(s *Session) { s.Session.CurrentObjectives = []Objective{{Text: "Meet Oak"}} },
		"events":    func(s *Session) { s.Session.EventLog = []Event{NewEvent(EventSystem, "start", epoch)} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := NewSession("sess-1", epoch)
			mutate(s)
			assert.False(t, s.IsEmpty())
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	m, err := ToMap(NewSession("sess-1", epoch))
	require.NoError(t, err)
	m["surprise"] = true
	_, err = FromMap(m)
	assert.ErrorContains(t, err, "surprise")
}

func TestCloneIsDeep(t *testing.T) {
	s := NewSession("sess-1", epoch)
	s.Session.Scene.Description = "Route 1"
	s.Characters = []Character{{CharacterID: "char_red", Trainer: TrainerProfile{Name: "Red"}}}

	c, err := s.Clone()
	require.NoError(t, err)
	if diff := cmp.Diff(s, c); diff != "" {
		t.Errorf("clone mismatch (-want +got):\n%s", diff)
	}
	c.Characters[0].Trainer.Name = "Blue"
	assert.Equal(t, "Red", s.Characters[0].Trainer.Name)
}

func TestAppendEventsEvictsOldest(t *testing.T) {
	var log []Event
	for i := 0; i < MaxEventLog; i++ {
		log = AppendEvents(log, NewEvent(EventNarration, "old", epoch))
	}
	first := log[0].EventID
	out := AppendEvents(log, NewEvent(EventRecap, "new", epoch))
	assert.Len(t, out, MaxEventLog)
	assert.NotEqual(t, first, out[0].EventID)
	assert.Equal(t, "new", out[len(out)-1].Summary)
	assert.Equal(t, first, log[0].EventID, "input slice must not change")
}

func TestSafeDefaultID(t *testing.T) {
	choices := []Choice{
		{ChoiceID: "fight", Risk: RiskMedium},
		{ChoiceID: "observe", Risk: RiskLow},
		{ChoiceID: "sneak", Risk: RiskLow},
		{ChoiceID: "catch", Risk: RiskHigh},
	}
	assert.Equal(t, "observe", SafeDefaultID(choices))
	assert.Equal(t, "", SafeDefaultID(nil))
	assert.Equal(t, "x", SafeDefaultID([]Choice{{ChoiceID: "x", Risk: "unknown"}}))
}

func TestDisplayName(t *testing.T) {
	nick := "Sparky"
	assert.Equal(t, "Sparky", PartyMember{SpeciesRef: Canon("pikachu"), Nickname: &nick}.DisplayName())
	assert.Equal(t, "Pikachu", PartyMember{SpeciesRef: Canon("pikachu")}.DisplayName())
}

func TestStarterUpdate(t *testing.T) {
	update, err := StarterUpdate(nil, epoch)
	require.NoError(t, err)

	session := update["session"].(map[string]any)
	events := session["event_log"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "system", events[0].(map[string]any)["kind"])

	timeline := update["continuity"].(map[string]any)["timeline"].([]any)
	require.Len(t, timeline, 1)
	assert.Equal(t, "pallet_town", timeline[0].(map[string]any)["location_id"])
}
