package entities

type Position struct {
	X int `dynamodbav:"X" json:"x"`
	Y int `dynamodbav:"Y" json:"y"`
}

type ActionClass string

const (
	ActionAttack  ActionClass = "ATTACK"
	ActionHeal    ActionClass = "HEAL"
	ActionShuffle ActionClass = "SHUFFLE"
	ActionMove    ActionClass = "MOVE"
	ActionSummon  ActionClass = "SUMMON"
)

// Action is a single player action, always bound to the turn it was
// submitted for.
type Action struct {
	TurnNumber int         `dynamodbav:"TurnNumber" json:"turnNumber"`
	Kind       string      `dynamodbav:"Kind" json:"kind"`
	Class      ActionClass `dynamodbav:"Class" json:"class"`
	Actor      Position    `dynamodbav:"Actor" json:"actor"`
	Target     *Position   `dynamodbav:"Target,omitempty" json:"target,omitempty"`
}

type CardKind string

const (
	CardHero CardKind = "HERO"
	CardItem CardKind = "ITEM"
)

// Card is a tagged variant; exactly one of Hero or Item is set, selected by
// Kind. The persistence layer stores the discriminator as a plain attribute.
type Card struct {
	Kind CardKind  `dynamodbav:"Kind" json:"kind"`
	Hero *HeroCard `dynamodbav:"Hero,omitempty" json:"hero,omitempty"`
	Item *ItemCard `dynamodbav:"Item,omitempty" json:"item,omitempty"`
}

type HeroCard struct {
	Name   string `dynamodbav:"Name" json:"name"`
	Attack int    `dynamodbav:"Attack" json:"attack"`
	Health int    `dynamodbav:"Health" json:"health"`
}

type ItemCard struct {
	Name    string `dynamodbav:"Name" json:"name"`
	Effect  string `dynamodbav:"Effect" json:"effect"`
	Charges int    `dynamodbav:"Charges" json:"charges"`
}

type Unit struct {
	Id       string   `dynamodbav:"Id" json:"id"`
	Name     string   `dynamodbav:"Name" json:"name"`
	Attack   int      `dynamodbav:"Attack" json:"attack"`
	Health   int      `dynamodbav:"Health" json:"health"`
	Position Position `dynamodbav:"Position" json:"position"`
}

type Crystal struct {
	Id     string `dynamodbav:"Id" json:"id"`
	Health int    `dynamodbav:"Health" json:"health"`
}

// FactionState is one player's side of the board at a point in time.
type FactionState struct {
	PlayerId string    `dynamodbav:"PlayerId" json:"playerId"`
	Faction  string    `dynamodbav:"Faction" json:"faction"`
	Hand     []Card    `dynamodbav:"Hand" json:"hand"`
	Units    []Unit    `dynamodbav:"Units" json:"units"`
	Crystals []Crystal `dynamodbav:"Crystals" json:"crystals"`
}

func (f FactionState) CrystalsAlive() bool {
	for _, c := range f.Crystals {
		if c.Health > 0 {
			return true
		}
	}
	return false
}

func (f FactionState) UnitsAlive() bool {
	for _, u := range f.Units {
		if u.Health > 0 {
			return true
		}
	}
	return false
}

type BoardState struct {
	Width     int        `dynamodbav:"Width" json:"width"`
	Height    int        `dynamodbav:"Height" json:"height"`
	Obstacles []Position `dynamodbav:"Obstacles" json:"obstacles"`
}

// TurnSnapshot is the recorded state after a turn is applied: both faction
// states, the board, and the action that produced them.
type TurnSnapshot struct {
	TurnNumber int            `dynamodbav:"TurnNumber" json:"turnNumber"`
	Factions   []FactionState `dynamodbav:"Factions" json:"factions"`
	Board      BoardState     `dynamodbav:"Board" json:"board"`
	Action     Action         `dynamodbav:"Action" json:"action"`
}

// FactionFor returns the snapshot's faction state belonging to the player.
func (t TurnSnapshot) FactionFor(playerId string) (FactionState, bool) {
	for _, f := range t.Factions {
		if f.PlayerId == playerId {
			return f, true
		}
	}
	return FactionState{}, false
}
