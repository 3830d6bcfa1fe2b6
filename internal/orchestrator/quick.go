package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/gameerr"
	"github.com/tatianab/trainer-tales/internal/merge"
	"github.com/tatianab/trainer-tales/internal/models"
)

// QuickAction is a fixed command that bypasses routing.
type QuickAction string

const (
	ActionSave       QuickAction = "save"
	ActionRestart    QuickAction = "restart"
	ActionGetStarted QuickAction = "get started"
	ActionPause      QuickAction = "pause"
	ActionSkip       QuickAction = "skip"
	ActionHint       QuickAction = "hint"
	ActionRecap      QuickAction = "recap"
	ActionTestBattle QuickAction = "test battle"
)

// QuickActions lists every quick action.
var QuickActions = []QuickAction{
	ActionSave, ActionRestart, ActionGetStarted, ActionPause,
	ActionSkip, ActionHint, ActionRecap, ActionTestBattle,
}

// Fixed replies.
const (
	SavedNotice      = "Game saved."
	SetupSkipped     = "Setup skipped: this session is already underway."
	PausedNotice     = "The game is paused. Type \"pause\" to resume."
	ResumedNotice    = "The game is resumed."
	RestartNotice    = "Your old journey has been put away. A new session is ready; type \"get started\" to begin."
	NoPartyNotice    = "You need a Pokémon before you can battle. Type \"get started\" to receive one."
	BattleBusyNotice = "A battle is already underway."
	EmptyRecap       = "Nothing has happened yet."
)

// ParseQuickAction matches input against the quick actions. Matching ignores
// case and surrounding space, accepts a leading "/" and allows trailing
// words after the command.
func ParseQuickAction(input string) (QuickAction, bool) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "/")
	for _, qa := range QuickActions {
		lit := string(qa)
		if s == lit || strings.HasPrefix(s, lit+" ") {
			return qa, true
		}
	}
	return "", false
}

func (o *Orchestrator) quickAction(ctx context.Context, logger *zap.Logger, doc *models.Session, created bool, qa QuickAction) (*Response, error) {
	var (
		resp *Response
		err  error
	)
	switch qa {
	case ActionSave:
		if err = o.save(ctx, doc); err == nil {
			resp = o.respond(doc, SavedNotice)
		}
	case ActionRestart:
		resp, err = o.restart(ctx, logger, doc, created)
	case ActionGetStarted:
		resp, err = o.getStarted(ctx, doc)
	case ActionPause:
		resp, err = o.togglePause(ctx, doc)
	case ActionSkip:
		resp, err = o.skip(ctx, logger, doc)
	case ActionHint:
		resp, err = o.hint(ctx, doc)
	case ActionRecap:
		resp, err = o.recap(ctx, doc)
	case ActionTestBattle:
		resp, err = o.testBattle(ctx, logger, doc)
	default:
		err = gameerr.New(gameerr.KindInvalidInput, "quick_action", doc.Session.SessionID, fmt.Errorf("unknown quick action %q", qa))
	}
	if err != nil {
		return nil, err
	}
	resp.QuickAction = qa
	return resp, nil
}

// apply merges a core-built update. Unlike agent proposals a rejection here
// is a bug, so it fails the turn.
func (o *Orchestrator) apply(doc *models.Session, update map[string]any) (*models.Session, error) {
	v, err := models.JSONValue(update)
	if err != nil {
		return nil, err
	}
	next, err := merge.Apply(o.validator, doc, v.(map[string]any))
	if err != nil {
		return nil, gameerr.New(gameerr.KindValidation, "merge", doc.Session.SessionID, err)
	}
	return next, nil
}

func (o *Orchestrator) restart(ctx context.Context, logger *zap.Logger, doc *models.Session, created bool) (*Response, error) {
	old := doc.Session.SessionID
	if !created {
		if _, err := o.store.Delete(ctx, old); err != nil {
			return nil, gameerr.New(gameerr.KindStorage, "delete", old, err)
		}
	}
	if o.memory != nil {
		o.memory.DropSession(old)
	}
	fresh := o.newSession(newSessionID())
	if err := o.save(ctx, fresh); err != nil {
		return nil, err
	}
	logger.Info("session restarted", zap.String("new_session_id", fresh.Session.SessionID))
	return o.respond(fresh, RestartNotice), nil
}

func (o *Orchestrator) getStarted(ctx context.Context, doc *models.Session) (*Response, error) {
	if !doc.IsEmpty() {
		return o.respond(doc, SetupSkipped), nil
	}
	update, err := models.StarterUpdate(doc.Session.EventLog, o.now())
	if err != nil {
		return nil, gameerr.New(gameerr.KindValidation, "seed", doc.Session.SessionID, err)
	}
	next, err := merge.Apply(o.validator, doc, update)
	if err != nil {
		return nil, gameerr.New(gameerr.KindValidation, "seed", doc.Session.SessionID, err)
	}
	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	return o.respond(next, next.Session.Scene.Description), nil
}

func (o *Orchestrator) togglePause(ctx context.Context, doc *models.Session) (*Response, error) {
	controls := doc.Session.Controls
	controls.Paused = !controls.Paused
	next, err := o.apply(doc, map[string]any{"session": map[string]any{"controls": controls}})
	if err != nil {
		return nil, err
	}
	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	if controls.Paused {
		return o.respond(next, PausedNotice), nil
	}
	return o.respond(next, ResumedNotice), nil
}

// skip flees an active battle, or asks the narrator to move past the
// current scene on the next turn.
func (o *Orchestrator) skip(ctx context.Context, logger *zap.Logger, doc *models.Session) (*Response, error) {
	if doc.Session.BattleState.Active {
		next, notes, err := o.resolveBattle(logger, doc, fled)
		if err != nil {
			return nil, gameerr.New(gameerr.KindValidation, "skip", doc.Session.SessionID, err)
		}
		if err := o.save(ctx, next); err != nil {
			return nil, err
		}
		return o.respond(next, strings.Join(append([]string{"You slip away from the battle."}, notes...), " ")), nil
	}
	controls := doc.Session.Controls
	controls.SkipRequested = true
	next, err := o.apply(doc, map[string]any{"session": map[string]any{"controls": controls}})
	if err != nil {
		return nil, err
	}
	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	return o.respond(next, "Skipping ahead. Tell me what you do next."), nil
}

func (o *Orchestrator) hint(ctx context.Context, doc *models.Session) (*Response, error) {
	var parts []string
	for _, obj := range doc.Session.CurrentObjectives {
		if obj.Status == models.ObjectiveActive {
			parts = append(parts, "Your goal: "+obj.Text)
			break
		}
	}
	if sd := doc.Session.PlayerChoices.SafeDefault; sd != nil {
		for _, c := range doc.Session.PlayerChoices.Presented {
			if c.ChoiceID == *sd {
				parts = append(parts, fmt.Sprintf("The safest option right now is %q.", c.Label))
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "Try \"get started\" to set up your journey, or describe what you want to do.")
	}
	if doc.Session.FailSoftFlags.AssistMode {
		parts = append(parts, "Things have been rough lately, so the next challenges will be gentler.")
	}

	flags := doc.Session.FailSoftFlags
	flags.HintsOffered++
	next, err := o.apply(doc, map[string]any{"session": map[string]any{"fail_soft_flags": flags}})
	if err != nil {
		return nil, err
	}
	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	return o.respond(next, strings.Join(parts, " ")), nil
}

const recapEvents = 5

// recap summarizes the most recent story events without calling a model.
func (o *Orchestrator) recap(ctx context.Context, doc *models.Session) (*Response, error) {
	var lines []string
	for i := len(doc.Session.EventLog) - 1; i >= 0 && len(lines) < recapEvents; i-- {
		e := doc.Session.EventLog[i]
		if e.Kind == models.EventRecap || e.Kind == models.EventChoice {
			continue
		}
		lines = append(lines, e.Summary)
	}
	if len(lines) == 0 {
		return o.respond(doc, EmptyRecap), nil
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	text := "So far: " + strings.Join(lines, " ")

	now := o.now().UTC()
	n := len(doc.Continuity.Recaps) + 1
	recaps := append(append([]models.Recap(nil), doc.Continuity.Recaps...), models.Recap{
		RecapID: fmt.Sprintf("recap_%d", n),
		Text:    text,
		At:      now,
	})
	timeline := append(append([]models.TimelineEntry(nil), doc.Continuity.Timeline...), models.TimelineEntry{
		EntryID:    fmt.Sprintf("tl_recap_%d", n),
		Summary:    summarize(text),
		At:         now,
		LocationID: doc.Session.Scene.LocationID,
	})
	next, err := o.apply(doc, map[string]any{
		"continuity": map[string]any{"recaps": recaps, "timeline": timeline},
		"session": map[string]any{
			"event_log": models.AppendEvents(doc.Session.EventLog, models.NewEvent(models.EventRecap, summarize(text), now)),
		},
	})
	if err != nil {
		return nil, err
	}
	if err := o.save(ctx, next); err != nil {
		return nil, err
	}
	return o.respond(next, text), nil
}

func (o *Orchestrator) testBattle(ctx context.Context, logger *zap.Logger, doc *models.Session) (*Response, error) {
	switch {
	case doc.PartySize() == 0:
		return o.respond(doc, NoPartyNotice), nil
	case doc.Session.BattleState.Active:
		return o.respond(doc, BattleBusyNotice), nil
	}
	return o.startEncounter(ctx, logger, doc, models.EncounterWild)
}
