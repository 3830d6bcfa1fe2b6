// Package orchestrator runs one player turn end to end: load or create the
// session, short-circuit quick actions, route and dispatch to an agent, merge
// what came back, persist and respond.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/dexcache"
	"github.com/tatianab/trainer-tales/internal/encounter"
	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/gameerr"
	"github.com/tatianab/trainer-tales/internal/merge"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/progression"
	"github.com/tatianab/trainer-tales/internal/schema"
	"github.com/tatianab/trainer-tales/internal/sessionlock"
	"github.com/tatianab/trainer-tales/internal/storage"
)

// Agents routes input and runs the per-intent agents. *engine.Engine
// implements it.
type Agents interface {
	Classify(ctx context.Context, input string, doc *models.Session) engine.Intent
	Dispatch(ctx context.Context, intent engine.Intent, t engine.Turn) (*engine.AgentResult, error)
}

// Config holds the dependencies of an Orchestrator.
type Config struct {
	Store     storage.Store
	Validator *schema.Validator
	Agents    Agents
	Encounter *encounter.Synthesizer
	// Progression defaults to the default rule set.
	Progression *progression.Engine
	// Locks defaults to a private locker. Share one with dexcache.Service
	// when both run in the same process.
	Locks *sessionlock.Locker
	// Canon is optional; without it lore turns get no reference data.
	Canon *dexcache.Resolver
	// Memory is dropped per session on restart. Optional.
	Memory *dexcache.Memory
	// CachePolicy applies to sessions created by this orchestrator.
	CachePolicy models.CachePolicy
	Logger      *zap.Logger
	// Seed fixes the random source for encounters and rolls. Zero seeds
	// from the runtime.
	Seed uint64
	Now  func() time.Time
}

// Validate reports missing required dependencies.
func (c *Config) Validate() error {
	var missing []string
	if c.Store == nil {
		missing = append(missing, "Store")
	}
	if c.Validator == nil {
		missing = append(missing, "Validator")
	}
	if c.Agents == nil {
		missing = append(missing, "Agents")
	}
	if c.Encounter == nil {
		missing = append(missing, "Encounter")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Orchestrator processes turns. It is safe for concurrent use; turns for the
// same session are serialized.
type Orchestrator struct {
	store     storage.Store
	validator *schema.Validator
	agents    Agents
	synth     *encounter.Synthesizer
	progress  *progression.Engine
	locks     *sessionlock.Locker
	canon     *dexcache.Resolver
	memory    *dexcache.Memory
	policy    models.CachePolicy
	logger    *zap.Logger
	now       func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an Orchestrator wired from cfg.
func New(cfg *Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		store:     cfg.Store,
		validator: cfg.Validator,
		agents:    cfg.Agents,
		synth:     cfg.Encounter,
		progress:  cfg.Progression,
		locks:     cfg.Locks,
		canon:     cfg.Canon,
		memory:    cfg.Memory,
		policy:    cfg.CachePolicy,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if o.progress == nil {
		o.progress = progression.New(cfg.Validator, nil)
	}
	if o.locks == nil {
		o.locks = sessionlock.New()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.policy.TTLHours <= 0 {
		o.policy.TTLHours = models.DefaultCacheTTLHours
	}
	if o.policy.MaxEntriesPerKind <= 0 {
		o.policy.MaxEntriesPerKind = models.DefaultMaxEntriesPerKind
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	o.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return o, nil
}

// Response is what a turn hands back to the player.
type Response struct {
	SessionID   string
	Narration   string
	Choices     []models.Choice
	SafeDefault string
	// Intent is empty for quick actions.
	Intent      engine.Intent
	QuickAction QuickAction
	// Warnings lists state changes that were proposed but not applied.
	Warnings []string
	Session  *models.Session
}

// Turn runs one turn for sessionID. An empty sessionID starts a new session.
// Failures are returned as *gameerr.Error.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, input string) (*Response, error) {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	if err := storage.CheckID(sessionID); err != nil {
		return nil, gameerr.New(gameerr.KindInvalidInput, "turn", sessionID, err)
	}
	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, gameerr.New(gameerr.KindStaleWrite, "lock", sessionID, err).Transient()
	}
	defer unlock()

	input = strings.TrimSpace(input)
	logger := o.logger.With(zap.String("session_id", sessionID))
	resp, err := o.turn(ctx, logger, sessionID, input)
	if errors.Is(err, storage.ErrStaleWrite) {
		logger.Warn("stale write, retrying turn against reloaded state", zap.Error(err))
		resp, err = o.turn(ctx, logger, sessionID, input)
		if errors.Is(err, storage.ErrStaleWrite) {
			return nil, gameerr.New(gameerr.KindStaleWrite, "save", sessionID, err).Transient()
		}
	}
	if err != nil {
		return nil, toGameErr(sessionID, err)
	}
	return resp, nil
}

func (o *Orchestrator) turn(ctx context.Context, logger *zap.Logger, sessionID, input string) (*Response, error) {
	doc, created, err := o.loadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if qa, ok := ParseQuickAction(input); ok {
		logger.Info("quick action", zap.String("quick_action", string(qa)))
		return o.quickAction(ctx, logger, doc, created, qa)
	}
	if input == "" {
		return nil, gameerr.New(gameerr.KindInvalidInput, "turn", sessionID, errors.New("input is empty"))
	}

	if doc.Session.Controls.Paused {
		if created {
			if err := o.save(ctx, doc); err != nil {
				return nil, err
			}
		}
		return o.respond(doc, PausedNotice), nil
	}

	return o.dispatch(ctx, logger, doc, input)
}

func (o *Orchestrator) dispatch(ctx context.Context, logger *zap.Logger, doc *models.Session, input string) (*Response, error) {
	intent := o.agents.Classify(ctx, input, doc)
	logger = logger.With(zap.String("intent", string(intent)))

	// Triggers are judged against the state the player acted on.
	kind, trigger := encounter.ShouldTrigger(doc, input)

	t := engine.Turn{Input: input, Session: doc}
	var loreKeys []string
	switch intent {
	case engine.IntentRoll:
		t.Roll = o.intN(20) + 1
	case engine.IntentLore:
		t.Lore, loreKeys = o.lore(ctx, doc)
	}

	res, err := o.agents.Dispatch(ctx, intent, t)
	if err != nil {
		c := engine.Classify(err)
		gerr := gameerr.New(gameerr.KindExternal, "generate", doc.Session.SessionID, err)
		gerr.Retryable = c.Retryable
		return nil, gerr
	}
	logger.Debug("agent replied", zap.Stringer("stage", res.Stage))

	next := doc
	var warnings []string
	if update := untrusted(res.Update); len(update) > 0 {
		merged, err := merge.Apply(o.validator, next, update)
		if err != nil {
			logger.Warn("agent state update rejected", zap.Error(err))
			warnings = append(warnings, "A proposed change to your game was not applied.")
		} else {
			next = merged
		}
	}

	narration := res.Narration
	if res.Outcome != nil && next.Session.BattleState.Active {
		resolved, notes, err := o.resolveBattle(logger, next, res.Outcome)
		if err != nil {
			logger.Warn("battle outcome not applied", zap.Error(err))
			warnings = append(warnings, "The battle result could not be recorded.")
		} else {
			next = resolved
			if len(notes) > 0 {
				narration += "\n\n" + strings.Join(notes, " ")
			}
		}
	}

	record, err := o.recordTurn(next, intent, input, res)
	if err != nil {
		logger.Warn("turn record rejected", zap.Error(err))
	} else {
		next = record
	}

	var started *encounter.Result
	if trigger && !next.Session.BattleState.Active {
		withEncounter, enc, err := o.beginEncounter(next, kind)
		if err != nil {
			logger.Warn("encounter not started", zap.String("kind", string(kind)), zap.Error(err))
		} else {
			next, started = withEncounter, enc
			narration += "\n\n" + enc.Narration
		}
	}

	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	if started != nil {
		logEncounter(logger, started)
	}
	if o.canon != nil && len(loreKeys) > 0 {
		o.canon.Remember(next, models.KindPokemon, loreKeys...)
	}
	resp := o.respond(next, narration)
	resp.Intent = intent
	resp.Warnings = warnings
	return resp, nil
}

// protectedKeys are owned by the core and never taken from agents.
var protectedKeys = []string{"schema_version", "state_versioning", "dex"}

func untrusted(update map[string]any) map[string]any {
	if len(update) == 0 {
		return nil
	}
	out := make(map[string]any, len(update))
	for k, v := range update {
		out[k] = v
	}
	for _, k := range protectedKeys {
		delete(out, k)
	}
	return out
}

// recordTurn presents the agent's choices and logs the turn.
func (o *Orchestrator) recordTurn(doc *models.Session, intent engine.Intent, input string, res *engine.AgentResult) (*models.Session, error) {
	now := o.now().UTC()
	choices := res.Choices
	if len(choices) == 0 {
		choices = engine.DefaultChoices()
	}
	safe := models.SafeDefaultID(choices)
	pc := models.PlayerChoices{Presented: choices, SafeDefault: &safe, LastChoice: doc.Session.PlayerChoices.LastChoice}

	var events []models.Event
	if c, ok := matchChoice(doc.Session.PlayerChoices.Presented, input); ok {
		id := c.ChoiceID
		pc.LastChoice = &id
		ev := models.NewEvent(models.EventChoice, "Chose: "+c.Label, now)
		ev.Data = map[string]string{"choice_id": id}
		events = append(events, ev)
	}
	ev := models.NewEvent(intent.EventKind(), summarize(res.Narration), now)
	ev.Data = map[string]string{"input": summarize(input)}
	events = append(events, ev)

	update, err := models.JSONValue(map[string]any{
		"session": map[string]any{
			"player_choices": pc,
			"controls":       models.Controls{Paused: doc.Session.Controls.Paused, ExplainMode: doc.Session.Controls.ExplainMode},
			"event_log":      models.AppendEvents(doc.Session.EventLog, events...),
		},
	})
	if err != nil {
		return nil, err
	}
	return merge.Apply(o.validator, doc, update.(map[string]any))
}

func matchChoice(choices []models.Choice, input string) (models.Choice, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, c := range choices {
		if in == strings.ToLower(c.ChoiceID) || in == strings.ToLower(c.Label) {
			return c, true
		}
	}
	return models.Choice{}, false
}

const summaryLen = 160

func summarize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > summaryLen {
		return string(r[:summaryLen-1]) + "…"
	}
	return s
}

const maxLoreKeys = 6

// lore resolves canon data for the party and any active opponent. Fetched
// entries land in doc's cache and are persisted with the turn; the resolved
// keys go to the memory front only once that save succeeds.
func (o *Orchestrator) lore(ctx context.Context, doc *models.Session) (map[string]any, []string) {
	if o.canon == nil {
		return nil, nil
	}
	keys := dexcache.SpeciesKeys(doc)
	if bs := doc.Session.BattleState; bs.Active && bs.EncounterID != nil {
		for _, e := range doc.Session.Encounters {
			if e.EncounterID == *bs.EncounterID && e.Opponent.SpeciesRef.Kind == models.RefCanon {
				keys = append(keys, e.Opponent.SpeciesRef.ID)
			}
		}
	}
	out := map[string]any{}
	var resolved []string
	for _, key := range keys {
		if len(out) >= maxLoreKeys {
			break
		}
		if payload, ok := o.canon.Resolve(ctx, doc, models.KindPokemon, key); ok {
			out[string(models.KindPokemon)+"/"+key] = payload
			resolved = append(resolved, key)
		}
	}
	return out, resolved
}

func (o *Orchestrator) loadOrCreate(ctx context.Context, sessionID string) (*models.Session, bool, error) {
	doc, err := o.store.Load(ctx, sessionID)
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, gameerr.New(gameerr.KindStorage, "load", sessionID, err)
	}
	return o.newSession(sessionID), true, nil
}

func (o *Orchestrator) newSession(sessionID string) *models.Session {
	doc := models.NewSession(sessionID, o.now())
	doc.Dex.CachePolicy = o.policy
	return doc
}

func (o *Orchestrator) save(ctx context.Context, doc *models.Session) error {
	if err := o.store.Save(ctx, doc); err != nil {
		if errors.Is(err, storage.ErrStaleWrite) {
			return err
		}
		if _, ok := schema.AsViolations(err); ok {
			return gameerr.New(gameerr.KindValidation, "save", doc.Session.SessionID, err)
		}
		return gameerr.New(gameerr.KindStorage, "save", doc.Session.SessionID, err)
	}
	return nil
}

func (o *Orchestrator) respond(doc *models.Session, narration string) *Response {
	resp := &Response{
		SessionID: doc.Session.SessionID,
		Narration: narration,
		Choices:   doc.Session.PlayerChoices.Presented,
		Session:   doc,
	}
	if sd := doc.Session.PlayerChoices.SafeDefault; sd != nil {
		resp.SafeDefault = *sd
	}
	return resp
}

func (o *Orchestrator) intN(n int) (v int) {
	o.withRNG(func(rng *rand.Rand) { v = rng.IntN(n) })
	return v
}

func newSessionID() string {
	return uuid.NewString()
}

func toGameErr(sessionID string, err error) error {
	var gerr *gameerr.Error
	if errors.As(err, &gerr) {
		return gerr
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e := gameerr.New(gameerr.KindExternal, "turn", sessionID, err)
		e.Retryable = errors.Is(err, context.DeadlineExceeded)
		return e
	case errors.Is(err, storage.ErrNotFound):
		return gameerr.New(gameerr.KindNotFound, "turn", sessionID, err)
	}
	var rejected *merge.Rejected
	if errors.As(err, &rejected) {
		return gameerr.New(gameerr.KindValidation, "merge", sessionID, err)
	}
	if _, ok := schema.AsViolations(err); ok {
		return gameerr.New(gameerr.KindValidation, "turn", sessionID, err)
	}
	return gameerr.New(gameerr.KindStorage, "turn", sessionID, err)
}
