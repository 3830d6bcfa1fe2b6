package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tatianab/trainer-tales/internal/dexcache"
	"github.com/tatianab/trainer-tales/internal/encounter"
	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/gameerr"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/storage"
	"github.com/tatianab/trainer-tales/internal/storage/file"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

type fakeAgents struct {
	mu         sync.Mutex
	intent     engine.Intent
	result     engine.AgentResult
	err        error
	classified int
	dispatched int
	last       engine.Turn
}

func (f *fakeAgents) Classify(context.Context, string, *models.Session) engine.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classified++
	if f.intent == "" {
		return engine.IntentNarration
	}
	return f.intent
}

func (f *fakeAgents) Dispatch(_ context.Context, intent engine.Intent, t engine.Turn) (*engine.AgentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched++
	f.last = t
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	res.Intent = intent
	if res.Narration == "" {
		res.Narration = "Something happens."
	}
	return &res, nil
}

func (f *fakeAgents) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.classified, f.dispatched
}

type harness struct {
	orch   *Orchestrator
	store  storage.Store
	agents *fakeAgents
	v      *schema.Validator
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	v, err := schema.Default()
	require.NoError(t, err)
	store, err := file.Open(t.TempDir(), v, zap.NewNop())
	require.NoError(t, err)
	cat, err := encounter.DefaultCatalog()
	require.NoError(t, err)
	agents := &fakeAgents{}
	cfg := &Config{
		Store:     store,
		Validator: v,
		Agents:    agents,
		Encounter: encounter.New(cat),
		Logger:    zap.NewNop(),
		Seed:      42,
		Now:       func() time.Time { return testNow },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	return &harness{orch: o, store: cfg.Store, agents: agents, v: v}
}

// started returns the id of a session seeded by "get started".
func (h *harness) started(t *testing.T) string {
	t.Helper()
	resp, err := h.orch.Turn(context.Background(), "sess-1", "get started")
	require.NoError(t, err)
	require.False(t, resp.Session.IsEmpty())
	return resp.SessionID
}

func (h *harness) load(t *testing.T, id string) *models.Session {
	t.Helper()
	doc, err := h.store.Load(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func countKind(events []models.Event, kind models.EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Store, Validator, Agents, Encounter")
}

func TestParseQuickAction(t *testing.T) {
	tests := []struct {
		input string
		want  QuickAction
		ok    bool
	}{
		{"save", ActionSave, true},
		{"  SAVE  ", ActionSave, true},
		{"/save", ActionSave, true},
		{"save now please", ActionSave, true},
		{"saved", "", false},
		{"savegame", "", false},
		{"get started", ActionGetStarted, true},
		{"Get Started with Pikachu", ActionGetStarted, true},
		{"get", "", false},
		{"/test battle", ActionTestBattle, true},
		{"restart", ActionRestart, true},
		{"pause", ActionPause, true},
		{"skip", ActionSkip, true},
		{"hint", ActionHint, true},
		{"recap", ActionRecap, true},
		{"I want to save the world", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseQuickAction(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWildBattleScenario(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := h.load(t, id)
	lead, ok := before.LeadPokemon()
	require.True(t, ok)
	require.Equal(t, 5, lead.Level)

	h.agents.result = engine.AgentResult{Narration: "You push into the tall grass."}
	resp, err := h.orch.Turn(context.Background(), id, "start a wild battle")
	require.NoError(t, err)
	classified, dispatched := h.agents.calls()
	assert.Equal(t, 1, classified)
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, engine.IntentNarration, resp.Intent)

	after := h.load(t, id)
	bs := after.Session.BattleState
	assert.True(t, bs.Active)
	assert.Equal(t, 1, bs.Round)
	require.Len(t, after.Session.PlayerChoices.Presented, 3)
	require.NotNil(t, after.Session.PlayerChoices.SafeDefault)
	assert.Equal(t, models.SafeDefaultID(after.Session.PlayerChoices.Presented), *after.Session.PlayerChoices.SafeDefault)
	assert.Equal(t, *after.Session.PlayerChoices.SafeDefault, resp.SafeDefault)

	assert.Equal(t, countKind(before.Session.EventLog, models.EventEncounter)+1, countKind(after.Session.EventLog, models.EventEncounter))
	assert.Equal(t, countKind(before.Session.EventLog, models.EventBattle)+1, countKind(after.Session.EventLog, models.EventBattle))
	assert.Equal(t, countKind(before.Session.EventLog, models.EventNarration)+1, countKind(after.Session.EventLog, models.EventNarration))
	assert.Len(t, after.Session.EventLog, len(before.Session.EventLog)+3)

	require.Len(t, after.Session.Encounters, 1)
	opp := after.Session.Encounters[0].Opponent
	assert.GreaterOrEqual(t, opp.Level, encounter.MinLevel)
	assert.LessOrEqual(t, opp.Level, encounter.MaxLevel)
	assert.True(t, strings.HasPrefix(resp.Narration, "You push into the tall grass.\n\n"), resp.Narration)
	assert.Contains(t, resp.Narration, opp.Name)

	if diff := cmp.Diff(after, resp.Session); diff != "" {
		t.Errorf("response session differs from stored (-stored +resp):\n%s", diff)
	}
}

func TestSaveQuickAction(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := h.load(t, id)

	resp, err := h.orch.Turn(context.Background(), id, "save")
	require.NoError(t, err)
	assert.Equal(t, SavedNotice, resp.Narration)
	assert.Equal(t, ActionSave, resp.QuickAction)
	classified, dispatched := h.agents.calls()
	assert.Zero(t, classified)
	assert.Zero(t, dispatched)

	after := h.load(t, id)
	assert.Equal(t, before.StateVersioning.Revision+1, after.StateVersioning.Revision)
	ignore := cmpopts.IgnoreFields(models.StateVersioning{}, "Revision", "UpdatedAt")
	if diff := cmp.Diff(before, after, ignore); diff != "" {
		t.Errorf("save changed the document (-before +after):\n%s", diff)
	}
}

func TestSaveCreatesSession(t *testing.T) {
	h := newHarness(t)
	resp, err := h.orch.Turn(context.Background(), "", "/save")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	doc := h.load(t, resp.SessionID)
	assert.True(t, doc.IsEmpty())
	assert.Equal(t, models.DefaultCacheTTLHours, doc.Dex.CachePolicy.TTLHours)
}

func TestGetStartedSkippedWhenUnderway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.orch.Turn(ctx, "named", "save")
	require.NoError(t, err)

	doc := h.load(t, "named")
	doc.Characters = []models.Character{{CharacterID: "c1", Trainer: models.TrainerProfile{Name: "Leaf"}}}
	doc.Session.CharacterIDs = []string{"c1"}
	require.NoError(t, h.store.Save(ctx, doc))
	before := h.load(t, "named")

	resp, err := h.orch.Turn(ctx, "named", "get started")
	require.NoError(t, err)
	assert.Equal(t, SetupSkipped, resp.Narration)

	after := h.load(t, "named")
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("skipped setup changed the document (-before +after):\n%s", diff)
	}
}

func TestGetStartedSeeds(t *testing.T) {
	h := newHarness(t)
	resp, err := h.orch.Turn(context.Background(), "fresh", "Get Started")
	require.NoError(t, err)
	doc := h.load(t, "fresh")
	c, ok := doc.PrimaryCharacter()
	require.True(t, ok)
	assert.Equal(t, "Red", c.Trainer.Name)
	assert.Equal(t, doc.Session.Scene.Description, resp.Narration)
	assert.NotEmpty(t, resp.Choices)
	assert.Equal(t, "talk_oak", resp.SafeDefault)
}

func TestDispatchAppliesUpdate(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	h.agents.result = engine.AgentResult{
		Narration: "You step into the lab.",
		Choices: []models.Choice{
			{ChoiceID: "read", Label: "Read notes", Risk: models.RiskMedium},
			{ChoiceID: "wait", Label: "Wait", Risk: models.RiskLow},
		},
		Update: map[string]any{"session": map[string]any{"scene": map[string]any{
			"location_id": "pallet_town",
			"description": "Inside Oak's lab.",
		}}},
	}

	resp, err := h.orch.Turn(context.Background(), id, "talk_oak")
	require.NoError(t, err)
	assert.Equal(t, engine.IntentNarration, resp.Intent)
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, "You step into the lab.", resp.Narration)

	doc := h.load(t, id)
	assert.Equal(t, "Inside Oak's lab.", doc.Session.Scene.Description)
	assert.Equal(t, "wait", *doc.Session.PlayerChoices.SafeDefault)
	require.NotNil(t, doc.Session.PlayerChoices.LastChoice)
	assert.Equal(t, "talk_oak", *doc.Session.PlayerChoices.LastChoice)
	n := len(doc.Session.EventLog)
	assert.Equal(t, models.EventChoice, doc.Session.EventLog[n-2].Kind)
	assert.Equal(t, models.EventNarration, doc.Session.EventLog[n-1].Kind)
	assert.Equal(t, "You step into the lab.", doc.Session.EventLog[n-1].Summary)
}

func TestDispatchRejectsInvalidUpdate(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := h.load(t, id)
	h.agents.result = engine.AgentResult{
		Narration: "Pikachu glows.",
		Update: map[string]any{"characters": []any{map[string]any{
			"character_id": "char_player",
			"mystery":      true,
		}}},
	}

	resp, err := h.orch.Turn(context.Background(), id, "rare candy")
	require.NoError(t, err)
	assert.Equal(t, "Pikachu glows.", resp.Narration)
	require.Len(t, resp.Warnings, 1)

	after := h.load(t, id)
	if diff := cmp.Diff(before.Characters, after.Characters); diff != "" {
		t.Errorf("rejected update leaked into characters (-before +after):\n%s", diff)
	}
	assert.Len(t, after.Session.EventLog, len(before.Session.EventLog)+1)
	assert.Equal(t, engine.DefaultChoices(), after.Session.PlayerChoices.Presented)
}

func TestDispatchIgnoresProtectedKeys(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := h.load(t, id)
	h.agents.result = engine.AgentResult{Update: map[string]any{
		"state_versioning": map[string]any{"revision": 99},
		"dex":              map[string]any{"cache_policy": map[string]any{"ttl_hours": 1}},
	}}

	resp, err := h.orch.Turn(context.Background(), id, "hack the save")
	require.NoError(t, err)
	assert.Empty(t, resp.Warnings)
	after := h.load(t, id)
	assert.Equal(t, before.StateVersioning.Revision+1, after.StateVersioning.Revision)
	assert.Equal(t, before.Dex.CachePolicy, after.Dex.CachePolicy)
}

func TestGenerationFailureLeavesStateAlone(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := h.load(t, id)

	h.agents.err = status.Error(codes.Unavailable, "overloaded")
	_, err := h.orch.Turn(context.Background(), id, "look around")
	require.Error(t, err)
	assert.Equal(t, gameerr.KindExternal, gameerr.KindOf(err))
	assert.True(t, gameerr.IsRetryable(err))
	assert.Equal(t, before, h.load(t, id))

	h.agents.err = status.Error(codes.NotFound, "model not found")
	_, err = h.orch.Turn(context.Background(), id, "look around")
	require.Error(t, err)
	assert.False(t, gameerr.IsRetryable(err))

	_, err = h.orch.Turn(context.Background(), "never-created", "look around")
	require.Error(t, err)
	_, err = h.store.Load(context.Background(), "never-created")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestBattleOutcomeResolves(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	_, err := h.orch.Turn(context.Background(), id, "test battle")
	require.NoError(t, err)
	active := h.load(t, id)
	require.True(t, active.Session.BattleState.Active)

	h.agents.result = engine.AgentResult{
		Narration: "Pikachu lands a final Thunder Shock!",
		Outcome:   &engine.BattleOutcome{Result: "win"},
	}
	resp, err := h.orch.Turn(context.Background(), id, "use thunder shock")
	require.NoError(t, err)
	assert.Contains(t, resp.Narration, "Pikachu lands a final Thunder Shock!")
	assert.Contains(t, resp.Narration, "grew to Lv. 6")

	doc := h.load(t, id)
	assert.False(t, doc.Session.BattleState.Active)
	assert.Nil(t, doc.Session.BattleState.EncounterID)
	assert.Equal(t, models.EncounterWon, doc.Session.Encounters[0].Status)
	assert.Zero(t, doc.Session.FailSoftFlags.RecentFailures)

	c, _ := doc.PrimaryCharacter()
	assert.Equal(t, 6, c.PokemonParty[0].Level)
	assert.Equal(t, 1, c.Progression.Badges)
	assert.Len(t, doc.Session.PlayerChoices.Presented, 3)
	assert.NotNil(t, doc.Session.PlayerChoices.SafeDefault)
}

func TestLossesEnableAssistMode(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	h.agents.result = engine.AgentResult{Outcome: &engine.BattleOutcome{Result: "loss"}}
	for range 2 {
		_, err := h.orch.Turn(context.Background(), id, "test battle")
		require.NoError(t, err)
		_, err = h.orch.Turn(context.Background(), id, "tackle")
		require.NoError(t, err)
	}
	doc := h.load(t, id)
	assert.Equal(t, 2, doc.Session.FailSoftFlags.RecentFailures)
	assert.True(t, doc.Session.FailSoftFlags.AssistMode)

	resp, err := h.orch.Turn(context.Background(), id, "hint")
	require.NoError(t, err)
	assert.Contains(t, resp.Narration, "gentler")
}

func TestSkipFleesBattle(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	_, err := h.orch.Turn(context.Background(), id, "test battle")
	require.NoError(t, err)

	resp, err := h.orch.Turn(context.Background(), id, "skip")
	require.NoError(t, err)
	assert.Contains(t, resp.Narration, "slip away")
	doc := h.load(t, id)
	assert.False(t, doc.Session.BattleState.Active)
	assert.Equal(t, models.EncounterFled, doc.Session.Encounters[0].Status)

	_, err = h.orch.Turn(context.Background(), id, "skip")
	require.NoError(t, err)
	assert.True(t, h.load(t, id).Session.Controls.SkipRequested)

	_, err = h.orch.Turn(context.Background(), id, "keep going")
	require.NoError(t, err)
	assert.False(t, h.load(t, id).Session.Controls.SkipRequested)
}

func TestPauseBlocksDispatch(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)

	resp, err := h.orch.Turn(context.Background(), id, "pause")
	require.NoError(t, err)
	assert.Equal(t, PausedNotice, resp.Narration)

	resp, err = h.orch.Turn(context.Background(), id, "look around")
	require.NoError(t, err)
	assert.Equal(t, PausedNotice, resp.Narration)
	_, dispatched := h.agents.calls()
	assert.Zero(t, dispatched)

	resp, err = h.orch.Turn(context.Background(), id, "pause")
	require.NoError(t, err)
	assert.Equal(t, ResumedNotice, resp.Narration)
	assert.False(t, h.load(t, id).Session.Controls.Paused)
}

func TestHint(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	resp, err := h.orch.Turn(context.Background(), id, "hint")
	require.NoError(t, err)
	assert.Contains(t, resp.Narration, "Head north through Route 1")
	assert.Contains(t, resp.Narration, `"Talk to Professor Oak"`)
	assert.Equal(t, 1, h.load(t, id).Session.FailSoftFlags.HintsOffered)
}

func TestRecap(t *testing.T) {
	h := newHarness(t)

	resp, err := h.orch.Turn(context.Background(), "empty", "recap")
	require.NoError(t, err)
	assert.Equal(t, EmptyRecap, resp.Narration)

	id := h.started(t)
	resp, err = h.orch.Turn(context.Background(), id, "recap")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Narration, "So far: "))
	doc := h.load(t, id)
	require.Len(t, doc.Continuity.Recaps, 1)
	assert.Equal(t, resp.Narration, doc.Continuity.Recaps[0].Text)
	assert.Equal(t, models.EventRecap, doc.Session.EventLog[len(doc.Session.EventLog)-1].Kind)
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)

	resp, err := h.orch.Turn(context.Background(), id, "restart")
	require.NoError(t, err)
	assert.NotEqual(t, id, resp.SessionID)
	assert.True(t, resp.Session.IsEmpty())

	_, err = h.store.Load(context.Background(), id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	h.load(t, resp.SessionID)
}

func TestTestBattleNeedsParty(t *testing.T) {
	h := newHarness(t)
	resp, err := h.orch.Turn(context.Background(), "empty", "test battle")
	require.NoError(t, err)
	assert.Equal(t, NoPartyNotice, resp.Narration)

	id := h.started(t)
	_, err = h.orch.Turn(context.Background(), id, "test battle")
	require.NoError(t, err)
	resp, err = h.orch.Turn(context.Background(), id, "test battle")
	require.NoError(t, err)
	assert.Equal(t, BattleBusyNotice, resp.Narration)
}

func TestRollAndLore(t *testing.T) {
	fetched := 0
	source := dexcache.SourceFunc(func(_ context.Context, kind models.CanonKind, key string) (map[string]any, error) {
		fetched++
		return map[string]any{"name": key, "kind": string(kind)}, nil
	})
	memory := dexcache.NewMemory(16)
	h := newHarness(t, func(c *Config) {
		c.Memory = memory
		c.Canon = dexcache.NewResolver(memory, source, zap.NewNop())
	})
	id := h.started(t)

	h.agents.intent = engine.IntentRoll
	_, err := h.orch.Turn(context.Background(), id, "climb the ledge")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, h.agents.last.Roll, 1)
	assert.LessOrEqual(t, h.agents.last.Roll, 20)
	doc := h.load(t, id)
	assert.Equal(t, models.EventRoll, doc.Session.EventLog[len(doc.Session.EventLog)-1].Kind)

	h.agents.intent = engine.IntentLore
	_, err = h.orch.Turn(context.Background(), id, "what type is pikachu?")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pokemon/pikachu": map[string]any{"name": "pikachu", "kind": "pokemon"}}, h.agents.last.Lore)
	assert.Equal(t, 1, fetched)

	doc = h.load(t, id)
	entry, ok := doc.Dex.CanonCache[models.KindPokemon]["pikachu"]
	require.True(t, ok)
	assert.Equal(t, "pikachu", entry.Payload["name"])

	_, err = h.orch.Turn(context.Background(), id, "and its evolutions?")
	require.NoError(t, err)
	assert.Equal(t, 1, fetched)
}

func TestEncounterFollowsAgentTurn(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := h.load(t, id)
	require.Empty(t, before.Session.Encounters)

	h.agents.result = engine.AgentResult{
		Narration: "The road bends toward the lab.",
		Update: map[string]any{"session": map[string]any{"scene": map[string]any{
			"description": "A dirt road out of Pallet Town.",
		}}},
	}
	resp, err := h.orch.Turn(context.Background(), id, "I walk down the road toward the lab")
	require.NoError(t, err)
	_, dispatched := h.agents.calls()
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, "I walk down the road toward the lab", h.agents.last.Input)

	after := h.load(t, id)
	require.Len(t, after.Session.Encounters, 1)
	assert.True(t, after.Session.BattleState.Active)
	assert.Equal(t, "A dirt road out of Pallet Town.", after.Session.Scene.Description, "the agent update is kept")
	assert.Contains(t, resp.Narration, "The road bends toward the lab.")
	assert.Contains(t, resp.Narration, after.Session.Encounters[0].Opponent.Name)
	assert.Equal(t, after.Session.PlayerChoices.Presented, resp.Choices, "battle choices replace the agent's")

	// The failed-dispatch path starts nothing.
	h2 := newHarness(t)
	id2 := h2.started(t)
	h2.agents.err = errors.New("offline")
	_, err = h2.orch.Turn(context.Background(), id2, "I walk down the road toward the lab")
	require.Error(t, err)
	assert.Empty(t, h2.load(t, id2).Session.Encounters)
}

func TestLoreMemoryWaitsForSave(t *testing.T) {
	fetched := 0
	source := dexcache.SourceFunc(func(_ context.Context, kind models.CanonKind, key string) (map[string]any, error) {
		fetched++
		return map[string]any{"name": key}, nil
	})
	memory := dexcache.NewMemory(16)
	h := newHarness(t, func(c *Config) {
		c.Memory = memory
		c.Canon = dexcache.NewResolver(memory, source, zap.NewNop())
	})
	id := h.started(t)
	h.agents.intent = engine.IntentLore

	h.agents.err = errors.New("offline")
	_, err := h.orch.Turn(context.Background(), id, "what is pikachu?")
	require.Error(t, err)
	assert.Equal(t, 1, fetched)
	assert.Zero(t, memory.Len(), "nothing was saved, so nothing is remembered")
	_, cached := h.load(t, id).Dex.CanonCache[models.KindPokemon]["pikachu"]
	assert.False(t, cached)

	h.agents.err = nil
	_, err = h.orch.Turn(context.Background(), id, "what is pikachu?")
	require.NoError(t, err)
	assert.Equal(t, 2, fetched)
	_, cached = h.load(t, id).Dex.CanonCache[models.KindPokemon]["pikachu"]
	assert.True(t, cached)
	assert.Equal(t, 1, memory.Len())
}

// flakyStore fails the first staleSaves saves with ErrStaleWrite.
type flakyStore struct {
	storage.Store
	mu         sync.Mutex
	staleSaves int
	saves      int
	loadErr    error
}

func (s *flakyStore) Load(ctx context.Context, id string) (*models.Session, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Store.Load(ctx, id)
}

func (s *flakyStore) Save(ctx context.Context, doc *models.Session) error {
	s.mu.Lock()
	s.saves++
	stale := s.saves <= s.staleSaves
	s.mu.Unlock()
	if stale {
		return fmt.Errorf("save: %w", storage.ErrStaleWrite)
	}
	return s.Store.Save(ctx, doc)
}

func TestStaleWriteRetriedOnce(t *testing.T) {
	var flaky *flakyStore
	h := newHarness(t, func(c *Config) {
		flaky = &flakyStore{Store: c.Store}
		c.Store = flaky
	})
	id := h.started(t)

	flaky.staleSaves = flaky.saves + 1
	_, err := h.orch.Turn(context.Background(), id, "look around")
	require.NoError(t, err)
	_, dispatched := h.agents.calls()
	assert.Equal(t, 2, dispatched)

	flaky.staleSaves = flaky.saves + 2
	_, err = h.orch.Turn(context.Background(), id, "look around")
	require.Error(t, err)
	assert.Equal(t, gameerr.KindStaleWrite, gameerr.KindOf(err))
	assert.True(t, gameerr.IsRetryable(err))
}

func TestStorageErrorSurfaces(t *testing.T) {
	boom := errors.New("disk on fire")
	h := newHarness(t, func(c *Config) {
		c.Store = &flakyStore{Store: c.Store, loadErr: boom}
	})
	_, err := h.orch.Turn(context.Background(), "s", "look around")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var gerr *gameerr.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, gameerr.KindStorage, gerr.Kind)
	assert.Equal(t, "load", gerr.Op)
	assert.Equal(t, "s", gerr.SessionID)
}

func TestInvalidInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Turn(context.Background(), "../etc/passwd", "save")
	assert.Equal(t, gameerr.KindInvalidInput, gameerr.KindOf(err))

	_, err = h.orch.Turn(context.Background(), "ok", "   ")
	assert.Equal(t, gameerr.KindInvalidInput, gameerr.KindOf(err))
}

func TestConcurrentTurnsAreSerialized(t *testing.T) {
	h := newHarness(t)
	id := h.started(t)
	before := len(h.load(t, id).Session.EventLog)

	const turns = 8
	var wg sync.WaitGroup
	for i := range turns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Turn(context.Background(), id, fmt.Sprintf("look around %d", i))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc := h.load(t, id)
	assert.Len(t, doc.Session.EventLog, before+turns)
	assert.Equal(t, turns, countKind(doc.Session.EventLog, models.EventNarration))
}
