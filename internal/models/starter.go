package models

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed seed/starter.yaml
var starterYAML []byte

// StarterUpdate returns the partial update that seeds a fully populated
// starter session. The result uses plain JSON types so it can be merged and
// validated like any agent proposal.
func StarterUpdate(log []Event, now time.Time) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(starterYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse starter seed: %w", err)
	}
	normalized, err := JSONValue(raw)
	if err != nil {
		return nil, err
	}
	update, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("starter seed: expected a mapping at the top level")
	}

	now = now.UTC()
	events := AppendEvents(log, NewEvent(EventSystem, "A new journey begins in Pallet Town.", now))
	eventsAny, err := JSONValue(events)
	if err != nil {
		return nil, err
	}

	session, _ := update["session"].(map[string]any)
	if session == nil {
		return nil, fmt.Errorf("starter seed: missing session block")
	}
	session["event_log"] = eventsAny

	continuity, _ := update["continuity"].(map[string]any)
	if continuity == nil {
		continuity = map[string]any{}
		update["continuity"] = continuity
	}
	loc := "pallet_town"
	timeline, err := JSONValue([]TimelineEntry{{
		EntryID:    "tl_journey_start",
		Summary:    "Red set out from Pallet Town with a Pikachu.",
		At:         now,
		LocationID: &loc,
	}})
	if err != nil {
		return nil, err
	}
	continuity["timeline"] = timeline
	return update, nil
}

// JSONValue round-trips v through encoding/json so the result only holds
// map[string]any, []any, string, float64, bool and nil.
func JSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return out, nil
}
