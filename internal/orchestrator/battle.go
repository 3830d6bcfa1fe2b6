package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/encounter"
	"github.com/tatianab/trainer-tales/internal/engine"
	"github.com/tatianab/trainer-tales/internal/gameerr"
	"github.com/tatianab/trainer-tales/internal/merge"
	"github.com/tatianab/trainer-tales/internal/models"
	"github.com/tatianab/trainer-tales/internal/progression"
)

var fled = &engine.BattleOutcome{Result: string(encounter.OutcomeFled)}

func (o *Orchestrator) startEncounter(ctx context.Context, logger *zap.Logger, doc *models.Session, kind models.EncounterKind) (*Response, error) {
	next, res, err := o.beginEncounter(doc, kind)
	switch {
	case errors.Is(err, encounter.ErrNoParty):
		return o.respond(doc, NoPartyNotice), nil
	case errors.Is(err, encounter.ErrBattleActive):
		return o.respond(doc, BattleBusyNotice), nil
	case err != nil:
		return nil, err
	}
	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	logEncounter(logger, res)
	return o.respond(next, res.Narration), nil
}

// beginEncounter synthesizes an encounter of kind and merges it into doc.
// The result is not saved.
func (o *Orchestrator) beginEncounter(doc *models.Session, kind models.EncounterKind) (*models.Session, *encounter.Result, error) {
	var (
		res *encounter.Result
		err error
	)
	o.withRNG(func(rng *rand.Rand) {
		res, err = o.synth.Synthesize(doc, kind, rng, o.now())
	})
	switch {
	case errors.Is(err, encounter.ErrNoParty), errors.Is(err, encounter.ErrBattleActive):
		return nil, nil, err
	case err != nil:
		return nil, nil, gameerr.New(gameerr.KindInvalidInput, "encounter", doc.Session.SessionID, err)
	}
	update, err := res.Update(doc)
	if err != nil {
		return nil, nil, err
	}
	next, err := merge.Apply(o.validator, doc, update)
	if err != nil {
		return nil, nil, gameerr.New(gameerr.KindValidation, "encounter", doc.Session.SessionID, err)
	}
	return next, res, nil
}

func logEncounter(logger *zap.Logger, res *encounter.Result) {
	logger.Info("encounter started",
		zap.String("encounter_id", res.Encounter.EncounterID),
		zap.String("kind", string(res.Encounter.Kind)),
		zap.Int("level", res.Encounter.Opponent.Level))
}

func (o *Orchestrator) withRNG(fn func(*rand.Rand)) {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	fn(o.rng)
}

// resolveBattle closes the active battle and runs progression for the
// primary character's participants. Progression failures only cost the
// rewards; the battle still closes.
func (o *Orchestrator) resolveBattle(logger *zap.Logger, doc *models.Session, out *engine.BattleOutcome) (*models.Session, []string, error) {
	outcome, err := encounter.ParseOutcome(out.Result)
	if err != nil {
		return nil, nil, err
	}
	participants := playerSlots(doc)
	firstTime := firstMeeting(doc)

	res, err := encounter.Resolve(doc, outcome, o.now())
	if err != nil {
		return nil, nil, err
	}
	next, err := merge.Apply(o.validator, doc, res.Update)
	if err != nil {
		return nil, nil, err
	}
	notes := []string{res.Event.Summary}

	c, ok := next.PrimaryCharacter()
	if !ok {
		return next, notes, nil
	}
	var mine []string
	for _, p := range c.PokemonParty {
		if participants[p.InstanceID] {
			mine = append(mine, p.InstanceID)
		}
	}
	po, err := o.progress.Apply(next, progression.Event{
		CharacterID:   c.CharacterID,
		Participants:  mine,
		OpponentLevel: res.Encounter.Opponent.Level,
		Result:        progression.Result(outcome),
		FirstTime:     firstTime,
		TypeAdvantage: out.TypeAdvantage,
		EncounterID:   res.Encounter.EncounterID,
	}, o.now())
	if err != nil {
		logger.Warn("progression not applied", zap.String("encounter_id", res.Encounter.EncounterID), zap.Error(err))
		return next, notes, nil
	}
	for _, ev := range po.Events {
		notes = append(notes, ev.Summary)
	}
	return po.Document, notes, nil
}

// playerSlots returns the party instance ids in the active turn order.
func playerSlots(doc *models.Session) map[string]bool {
	out := map[string]bool{}
	for _, s := range doc.Session.BattleState.TurnOrder {
		if s.Side == models.SidePlayer {
			out[s.Ref] = true
		}
	}
	return out
}

// firstMeeting reports whether the active opponent's species has never been
// beaten or lost to before.
func firstMeeting(doc *models.Session) bool {
	bs := doc.Session.BattleState
	if bs.EncounterID == nil {
		return false
	}
	var species models.SpeciesRef
	for _, e := range doc.Session.Encounters {
		if e.EncounterID == *bs.EncounterID {
			species = e.Opponent.SpeciesRef
		}
	}
	for _, e := range doc.Session.Encounters {
		if e.EncounterID == *bs.EncounterID || e.Opponent.SpeciesRef != species {
			continue
		}
		if e.Status == models.EncounterWon || e.Status == models.EncounterLost {
			return false
		}
	}
	return true
}
