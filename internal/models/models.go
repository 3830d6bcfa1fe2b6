package models

import (
	"strings"
	"time"
)

// SchemaVersion is the active session document schema version.
const SchemaVersion = "1.0.0"

// MaxEventLog is the number of entries kept in session.event_log.
const MaxEventLog = 200

// Session is the root persisted document for one play session.
type Session struct {
	SchemaVersion   string          `json:"schema_version"`
	StateVersioning StateVersioning `json:"state_versioning"`
	Dex             Dex             `json:"dex"`
	CustomDex       CustomDex       `json:"custom_dex"`
	Campaign        Campaign        `json:"campaign"`
	Characters      []Character     `json:"characters"`
	Session         PlayState       `json:"session"`
	Continuity      Continuity      `json:"continuity"`
}

// StateVersioning tracks the document version and its migration provenance.
type StateVersioning struct {
	Version    string            `json:"version"`
	Revision   int               `json:"revision"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Migrations []MigrationRecord `json:"migrations"`
}

// MigrationRecord records one schema migration applied to the document.
type MigrationRecord struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	AppliedAt time.Time `json:"applied_at"`
	Note      string    `json:"note,omitempty"`
}

// Dex holds read-only reference data. Nothing in it is authoritative player state.
type Dex struct {
	CanonCache  CanonCache  `json:"canon_cache"`
	CachePolicy CachePolicy `json:"cache_policy"`
}

// CanonKind is a kind of external reference data.
type CanonKind string

const (
	KindPokemon         CanonKind = "pokemon"
	KindMoves           CanonKind = "moves"
	KindAbilities       CanonKind = "abilities"
	KindTypes           CanonKind = "types"
	KindSpecies         CanonKind = "species"
	KindEvolutionChains CanonKind = "evolution_chains"
	KindItems           CanonKind = "items"
	KindLocations       CanonKind = "locations"
	KindGenerations     CanonKind = "generations"
)

// CanonKinds lists every canon cache bucket in schema order.
var CanonKinds = []CanonKind{
	KindPokemon, KindMoves, KindAbilities, KindTypes, KindSpecies,
	KindEvolutionChains, KindItems, KindLocations, KindGenerations,
}

// Valid reports whether k is a known canon kind.
func (k CanonKind) Valid() bool {
	for _, known := range CanonKinds {
		if k == known {
			return true
		}
	}
	return false
}

// CanonCache maps kind -> lookup key -> cached payload.
type CanonCache map[CanonKind]map[string]CacheEntry

// CacheEntry is one cached reference lookup.
type CacheEntry struct {
	Payload  map[string]any `json:"payload"`
	CachedAt time.Time      `json:"cached_at"`
}

// CachePolicy bounds the canon cache per session.
type CachePolicy struct {
	TTLHours          int `json:"ttl_hours"`
	MaxEntriesPerKind int `json:"max_entries_per_kind"`
}

// CustomDex is the registry of user-created entities.
type CustomDex struct {
	Pokemon map[string]CustomPokemon `json:"pokemon"`
}

// CustomPokemon is a user-created species keyed by a cstm_ id.
type CustomPokemon struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Types       []string    `json:"types"`
	BaseStats   BaseStats   `json:"base_stats"`
	Description string      `json:"description,omitempty"`
	BasedOn     *SpeciesRef `json:"based_on,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// BaseStats are species-level stats used to scale battle stats by level.
type BaseStats struct {
	HP        int `json:"hp"`
	Attack    int `json:"attack"`
	Defense   int `json:"defense"`
	SpAttack  int `json:"sp_attack"`
	SpDefense int `json:"sp_defense"`
	Speed     int `json:"speed"`
}

// Campaign is the region-level world definition.
type Campaign struct {
	CampaignID    string      `json:"campaign_id"`
	Region        Region      `json:"region"`
	Locations     []Location  `json:"locations"`
	Factions      []Faction   `json:"factions"`
	RecurringNPCs []NPC       `json:"recurring_npcs"`
	WorldFacts    []WorldFact `json:"world_facts"`
}

// Region describes the campaign setting.
type Region struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Location is a place in the campaign world.
type Location struct {
	LocationID  string   `json:"location_id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description,omitempty"`
	Connections []string `json:"connections"`
}

// Faction is a group with a stance toward the player.
type Faction struct {
	FactionID   string `json:"faction_id"`
	Name        string `json:"name"`
	Stance      string `json:"stance"`
	Description string `json:"description,omitempty"`
}

// NPC is a recurring non-player character.
type NPC struct {
	NPCID          string  `json:"npc_id"`
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	HomeLocationID *string `json:"home_location_id,omitempty"`
	Disposition    string  `json:"disposition"`
}

// WorldFact is an established fact of the campaign world.
type WorldFact struct {
	FactID string `json:"fact_id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// Character is a player character.
type Character struct {
	CharacterID  string          `json:"character_id"`
	Trainer      TrainerProfile  `json:"trainer"`
	Inventory    []InventoryItem `json:"inventory"`
	PokemonParty []PartyMember   `json:"pokemon_party"`
	Achievements []Achievement   `json:"achievements"`
	Progression  Progression     `json:"progression"`
}

// TrainerProfile is the trainer's descriptive profile.
type TrainerProfile struct {
	Name     string   `json:"name"`
	Age      *int     `json:"age,omitempty"`
	Hometown *string  `json:"hometown,omitempty"`
	Traits   []string `json:"traits"`
	Money    int      `json:"money"`
}

// InventoryItem is a stack of items held by a trainer.
type InventoryItem struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// PartyMember is one Pokémon instance in a trainer's party.
type PartyMember struct {
	InstanceID string      `json:"instance_id"`
	SpeciesRef SpeciesRef  `json:"species_ref"`
	FormRef    FormRef     `json:"form_ref"`
	Nickname   *string     `json:"nickname,omitempty"`
	Level      int         `json:"level"`
	Friendship int         `json:"friendship"`
	Nature     *string     `json:"nature,omitempty"`
	Ability    *string     `json:"ability,omitempty"`
	Types      []string    `json:"types"`
	Moves      []string    `json:"moves"`
	Stats      BattleStats `json:"stats"`
	Status     string      `json:"status"`
	HeldItem   *string     `json:"held_item,omitempty"`
	CaughtAt   *string     `json:"caught_at,omitempty"`
}

// DisplayName returns the nickname when set, otherwise the capitalized species slug.
func (p PartyMember) DisplayName() string {
	if p.Nickname != nil && *p.Nickname != "" {
		return *p.Nickname
	}
	id := p.SpeciesRef.ID
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// BattleStats are the level-scaled stats of a Pokémon.
type BattleStats struct {
	HP        int `json:"hp"`
	MaxHP     int `json:"max_hp"`
	Attack    int `json:"attack"`
	Defense   int `json:"defense"`
	SpAttack  int `json:"sp_attack"`
	SpDefense int `json:"sp_defense"`
	Speed     int `json:"speed"`
}

// Achievement kinds.
const (
	AchievementBadge     = "badge"
	AchievementMilestone = "milestone"
	AchievementOther     = "other"
)

// Achievement is an earned award.
type Achievement struct {
	AchievementID string    `json:"achievement_id"`
	Title         string    `json:"title"`
	Kind          string    `json:"kind"`
	EarnedAt      time.Time `json:"earned_at"`
	EventRef      *string   `json:"event_ref,omitempty"`
}

// Progression tracks badges and milestones.
type Progression struct {
	Badges     int         `json:"badges"`
	Milestones []Milestone `json:"milestones"`
}

// Milestone statuses.
const (
	MilestonePending   = "pending"
	MilestoneCompleted = "completed"
)

// Milestone is a story or gameplay milestone.
type Milestone struct {
	MilestoneID string     `json:"milestone_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PlayState is the mutable play-state of the session.
type PlayState struct {
	SessionID         string        `json:"session_id"`
	CampaignID        string        `json:"campaign_id"`
	CharacterIDs      []string      `json:"character_ids"`
	Scene             Scene         `json:"scene"`
	CurrentObjectives []Objective   `json:"current_objectives"`
	Encounters        []Encounter   `json:"encounters"`
	BattleState       BattleState   `json:"battle_state"`
	FailSoftFlags     FailSoftFlags `json:"fail_soft_flags"`
	PlayerChoices     PlayerChoices `json:"player_choices"`
	Controls          Controls      `json:"controls"`
	EventLog          []Event       `json:"event_log"`
}

// Scene is where the story currently is.
type Scene struct {
	LocationID  *string `json:"location_id,omitempty"`
	Description string  `json:"description"`
	Mood        *string `json:"mood,omitempty"`
	TimeOfDay   *string `json:"time_of_day,omitempty"`
}

// Objective statuses.
const (
	ObjectiveActive    = "active"
	ObjectiveCompleted = "completed"
	ObjectiveFailed    = "failed"
)

// Objective is a current goal.
type Objective struct {
	ObjectiveID string `json:"objective_id"`
	Text        string `json:"text"`
	Status      string `json:"status"`
}

// EncounterKind is the category of an encounter.
type EncounterKind string

const (
	EncounterWild    EncounterKind = "wild"
	EncounterTrainer EncounterKind = "trainer"
)

// Encounter statuses.
const (
	EncounterActive = "active"
	EncounterWon    = "won"
	EncounterLost   = "lost"
	EncounterFled   = "fled"
)

// Encounter is one wild or trainer encounter.
type Encounter struct {
	EncounterID string        `json:"encounter_id"`
	Kind        EncounterKind `json:"kind"`
	Status      string        `json:"status"`
	Difficulty  string        `json:"difficulty"`
	Opponent    Opponent      `json:"opponent"`
	StartedAt   time.Time     `json:"started_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// Opponent is the opposing side of an encounter.
type Opponent struct {
	SlotID      string      `json:"slot_id"`
	Name        string      `json:"name"`
	TrainerName *string     `json:"trainer_name,omitempty"`
	SpeciesRef  SpeciesRef  `json:"species_ref"`
	Level       int         `json:"level"`
	Types       []string    `json:"types"`
	Stats       BattleStats `json:"stats"`
}

// BattleState is the active battle, if any.
type BattleState struct {
	Active       bool          `json:"active"`
	Round        int           `json:"round"`
	EncounterID  *string       `json:"encounter_id,omitempty"`
	TurnOrder    []TurnSlot    `json:"turn_order"`
	FieldEffects []FieldEffect `json:"field_effects"`
}

// Turn order sides.
const (
	SidePlayer   = "player"
	SideOpponent = "opponent"
)

// TurnSlot references a participant: a party instance id or an encounter slot id.
type TurnSlot struct {
	Ref  string `json:"ref"`
	Side string `json:"side"`
}

// FieldEffect is an ongoing battlefield condition.
type FieldEffect struct {
	EffectID       string `json:"effect_id"`
	Name           string `json:"name"`
	TurnsRemaining int    `json:"turns_remaining"`
}

// FailSoftFlags are difficulty adaptation signals.
type FailSoftFlags struct {
	RecentFailures int  `json:"recent_failures"`
	AssistMode     bool `json:"assist_mode"`
	HintsOffered   int  `json:"hints_offered"`
}

// Choice risk levels, lowest first.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// RiskRank orders risk levels; unknown levels rank highest.
func RiskRank(risk string) int {
	switch risk {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	}
	return 3
}

// Choice is one presented option.
type Choice struct {
	ChoiceID    string `json:"choice_id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Risk        string `json:"risk"`
}

// PlayerChoices are the options currently offered to the player.
type PlayerChoices struct {
	Presented   []Choice `json:"presented"`
	SafeDefault *string  `json:"safe_default,omitempty"`
	LastChoice  *string  `json:"last_choice,omitempty"`
}

// SafeDefaultID returns the id of the lowest-risk choice, first wins on ties.
func SafeDefaultID(choices []Choice) string {
	best := -1
	for i, c := range choices {
		if best < 0 || RiskRank(c.Risk) < RiskRank(choices[best].Risk) {
			best = i
		}
	}
	if best < 0 {
		return ""
	}
	return choices[best].ChoiceID
}

// Controls are player-facing flow controls.
type Controls struct {
	Paused        bool `json:"paused"`
	SkipRequested bool `json:"skip_requested"`
	ExplainMode   bool `json:"explain_mode"`
}

// EventKind classifies an event_log entry.
type EventKind string

const (
	EventSystem      EventKind = "system"
	EventNarration   EventKind = "narration"
	EventChoice      EventKind = "choice"
	EventEncounter   EventKind = "encounter"
	EventBattle      EventKind = "battle"
	EventProgression EventKind = "progression"
	EventState       EventKind = "state"
	EventLore        EventKind = "lore"
	EventDesign      EventKind = "design"
	EventRoll        EventKind = "roll"
	EventRecap       EventKind = "recap"
)

// Event is one entry of the append-only event log.
type Event struct {
	EventID string            `json:"event_id"`
	Kind    EventKind         `json:"kind"`
	Summary string            `json:"summary"`
	At      time.Time         `json:"at"`
	Data    map[string]string `json:"data,omitempty"`
}

// Continuity is cross-session narrative memory.
type Continuity struct {
	Timeline          []TimelineEntry `json:"timeline"`
	DiscoveredPokemon []Discovery     `json:"discovered_pokemon"`
	UnresolvedHooks   []Hook          `json:"unresolved_hooks"`
	Recaps            []Recap         `json:"recaps"`
}

// TimelineEntry is a notable moment in the campaign.
type TimelineEntry struct {
	EntryID    string    `json:"entry_id"`
	Summary    string    `json:"summary"`
	At         time.Time `json:"at"`
	LocationID *string   `json:"location_id,omitempty"`
}

// Discovery records where a species was first seen.
type Discovery struct {
	SpeciesRef  SpeciesRef `json:"species_ref"`
	LocationID  string     `json:"location_id"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
}

// Hook statuses.
const (
	HookOpen       = "open"
	HookProgressed = "progressed"
	HookResolved   = "resolved"
)

// Hook is an open narrative thread.
type Hook struct {
	HookID string `json:"hook_id"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

// Recap summarizes play so far.
type Recap struct {
	RecapID string    `json:"recap_id"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}
